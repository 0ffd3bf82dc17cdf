package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kgb-bot/kgb/internal/cli/output"
	"github.com/kgb-bot/kgb/pkg/config"
)

var (
	statusPidFile string
	statusOutput  string
	statusRPCPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bot status",
	Long: `Display the current status of the KGB bot.

Checks the PID file and the RPC health endpoint.

Examples:
  # Check status
  kgb-bot status

  # Check status against a custom RPC port
  kgb-bot status --rpc-port 9998

  # Output as JSON
  kgb-bot status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/kgb/kgb-bot.pid)")
	statusCmd.Flags().IntVar(&statusRPCPort, "rpc-port", 0, "RPC port for the health check (default: from config)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// BotStatus is the status report of one running (or stopped) bot.
type BotStatus struct {
	Running bool   `json:"running" yaml:"running"`
	PID     int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Message string `json:"message" yaml:"message"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := BotStatus{Message: "Bot is not running"}

	pidPath := statusPidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}
	if pid, err := readPid(pidPath); err == nil && processAlive(pid) {
		status.Running = true
		status.PID = pid
		status.Message = "Bot process exists but health check failed"
	}

	if checkHealth(healthPort()) {
		status.Running = true
		status.Healthy = true
		status.Message = "Bot is running and healthy"
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printStatusTable(status)
	}
	return nil
}

// healthPort resolves the RPC port: flag, then config, then default.
func healthPort() int {
	if statusRPCPort != 0 {
		return statusRPCPort
	}
	if cfg, err := config.MustLoad(GetConfigFile()); err == nil {
		return cfg.RPC.Port
	}
	return config.DefaultRPCPort
}

func checkHealth(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	return err == nil && resp.StatusCode == http.StatusOK && string(body) == "OK"
}

func printStatusTable(status BotStatus) {
	fmt.Println()
	fmt.Println("KGB Bot Status")
	fmt.Println("==============")
	fmt.Println()

	pairs := [][2]string{}
	if status.Running {
		state := "\033[33m● Running (unhealthy)\033[0m"
		if status.Healthy {
			state = "\033[32m● Running\033[0m"
		}
		pairs = append(pairs, [2]string{"Status", state})
		if status.PID != 0 {
			pairs = append(pairs, [2]string{"PID", strconv.Itoa(status.PID)})
		}
	} else {
		pairs = append(pairs, [2]string{"Status", "\033[31m○ Stopped\033[0m"})
	}
	output.KeyValue(os.Stdout, pairs)

	fmt.Println()
	fmt.Printf("  %s\n", status.Message)
	fmt.Println()
}
