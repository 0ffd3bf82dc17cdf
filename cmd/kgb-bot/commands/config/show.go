package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kgb-bot/kgb/internal/cli/output"
	"github.com/kgb-bot/kgb/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the current KGB configuration, after defaults and
environment overrides are applied.

Examples:
  # Show default config as YAML
  kgb-bot config show

  # Show as JSON
  kgb-bot config show --output json

  # Summarize networks and channels as tables
  kgb-bot config show --output table

  # Show a specific config file
  kgb-bot config show --config /etc/kgb/config.yaml`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json|table)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, cfg)
	case output.FormatTable:
		printConfigTables(cfg)
		return nil
	default:
		return output.PrintYAML(os.Stdout, cfg)
	}
}

// printConfigTables summarizes the routing-relevant parts of the
// configuration: one table of networks, one of channels.
func printConfigTables(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Networks))
	for name := range cfg.Networks {
		names = append(names, name)
	}
	sort.Strings(names)

	networks := output.NewTable("Network", "Server", "Nick")
	for _, name := range names {
		n := cfg.Networks[name]
		networks.AddRow(name, n.Server, n.Nick)
	}
	networks.Render(os.Stdout)

	fmt.Println()

	channels := output.NewTable("Channel", "Network", "Repos")
	for _, ch := range cfg.Channels {
		channels.AddRow(ch.Name, ch.Network, strings.Join(ch.Repos, ", "))
	}
	channels.Render(os.Stdout)
}
