package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kgb-bot/kgb/internal/bot"
	"github.com/kgb-bot/kgb/internal/logger"
	"github.com/kgb-bot/kgb/internal/telemetry"
	"github.com/kgb-bot/kgb/pkg/config"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the KGB bot",
	Long: `Start the KGB bot with the specified configuration.

By default, the bot runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process
supervisor.

While running the bot answers signals: SIGHUP reloads the configuration,
SIGQUIT restarts the process in place, SIGINT/SIGTERM shut down
gracefully after flushing pending IRC messages.

Examples:
  # Start in background (default)
  kgb-bot start

  # Start in foreground
  kgb-bot start --foreground

  # Start with custom config file
  kgb-bot start --config /etc/kgb/config.yaml

  # Start with environment variable overrides
  KGB_LOGGING_LEVEL=DEBUG kgb-bot start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/kgb/kgb-bot.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/kgb/kgb-bot.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.Telemetry.Profiling, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("KGB starting", "version", Version,
		"config", resolveConfigPath(), "log_level", cfg.Logging.Level)
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled",
			"endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if pidFile != "" {
		cfg.PidFile = pidFile
	}

	b, err := bot.New(resolveConfigPath(), cfg, Version)
	if err != nil {
		return err
	}

	err = b.Run(ctx)
	switch {
	case errors.Is(err, bot.ErrRestart):
		if terr := telemetryShutdown(ctx); terr != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, terr)
		}
		if perr := profilingShutdown(); perr != nil {
			logger.Error("profiling shutdown error", logger.KeyError, perr)
		}
		return bot.ExecRestart(GetConfigFile())
	case err != nil:
		return err
	}

	logger.Info("KGB stopped gracefully")
	return nil
}

// startDaemon forks the bot into the background and returns.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	if pid, err := readPid(pidPath); err == nil {
		if processAlive(pid) {
			return fmt.Errorf("KGB is already running (PID %d)\nUse 'kgb-bot stop' to stop the running instance", pid)
		}
		_ = os.Remove(pidPath) // stale
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	logHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	daemon.Stdout = logHandle
	daemon.Stderr = logHandle
	daemon.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := daemon.Start(); err != nil {
		_ = logHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logHandle.Close()

	fmt.Printf("KGB started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", filepath.Clean(logPath))
	fmt.Println("\nUse 'kgb-bot stop' to stop the bot")
	fmt.Println("Use 'kgb-bot status' to check its status")

	return nil
}
