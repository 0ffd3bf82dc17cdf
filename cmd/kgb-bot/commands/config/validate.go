package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kgb-bot/kgb/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a KGB configuration file without starting the bot.

Checks YAML syntax, required fields, value constraints and the
channel/repository cross-references.

Examples:
  # Validate the default config
  kgb-bot config validate

  # Validate a specific file
  kgb-bot config validate --config /etc/kgb/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %d network(s), %d channel(s), %d repositor(y/ies)\n",
		len(cfg.Networks), len(cfg.Channels), len(cfg.Repositories))
	return nil
}
