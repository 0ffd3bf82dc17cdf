package commands

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	stopPidFile string
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the KGB bot",
	Long: `Stop a running KGB bot.

By default, sends SIGTERM for graceful shutdown: the bot flushes its
pending IRC messages and says goodbye on every network. Use --force for
immediate termination with SIGKILL.

Examples:
  # Stop the bot (uses default PID file)
  kgb-bot stop

  # Stop using a custom PID file
  kgb-bot stop --pid-file /var/run/kgb.pid

  # Force stop (SIGKILL)
  kgb-bot stop --force`,
	RunE: runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the KGB bot in place",
	Long: `Ask a running KGB bot to restart itself.

Sends SIGQUIT: the bot shuts down gracefully and then replaces its own
process with a fresh instance reading the same configuration.`,
	RunE: runRestart,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the KGB bot configuration",
	Long: `Ask a running KGB bot to re-read its configuration file.

Sends SIGHUP. Channel and network changes are applied in place; a change
to the RPC bind address escalates to a full restart.`,
	RunE: runReload,
}

func init() {
	stopCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/kgb/kgb-bot.pid)")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Force kill (SIGKILL) instead of graceful shutdown (SIGTERM)")
	restartCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/kgb/kgb-bot.pid)")
	reloadCmd.Flags().StringVar(&stopPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/kgb/kgb-bot.pid)")
}

func runStop(cmd *cobra.Command, args []string) error {
	sig := syscall.SIGTERM
	if stopForce {
		sig = syscall.SIGKILL
	}
	pid, err := signalServer(stopPidFile, sig)
	if err != nil {
		return err
	}
	if stopForce {
		fmt.Printf("Sent SIGKILL to process %d. Bot terminated.\n", pid)
	} else {
		fmt.Printf("Sent SIGTERM to process %d. Bot will stop gracefully.\n", pid)
	}
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	pid, err := signalServer(stopPidFile, syscall.SIGQUIT)
	if err != nil {
		return err
	}
	fmt.Printf("Sent SIGQUIT to process %d. Bot will restart.\n", pid)
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	pid, err := signalServer(stopPidFile, syscall.SIGHUP)
	if err != nil {
		return err
	}
	fmt.Printf("Sent SIGHUP to process %d. Configuration will be reloaded.\n", pid)
	return nil
}
