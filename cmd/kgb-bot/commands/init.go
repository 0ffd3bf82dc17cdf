package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kgb-bot/kgb/internal/cli/prompt"
	"github.com/kgb-bot/kgb/pkg/config"
)

var (
	initForce bool
	initYes   bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a KGB configuration file.

By default the command asks for the IRC network, channel and first
repository interactively. Use --yes to write the stock sample
configuration without questions.

The file is created at $XDG_CONFIG_HOME/kgb/config.yaml unless --config
names another path.

Examples:
  # Interactive setup
  kgb-bot init

  # Non-interactive sample config
  kgb-bot init --yes

  # Custom path, overwriting what is there
  kgb-bot init --config /etc/kgb/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept all defaults, ask nothing")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if initYes {
		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
		printInitNextSteps(path)
		return nil
	}

	cfg := config.GetDefaultConfig()
	if err := promptConfig(cfg); err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			return errors.New("aborted")
		}
		return err
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}
	if err := config.SaveConfig(cfg, path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	printInitNextSteps(path)
	return nil
}

func printInitNextSteps(path string) {
	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Review the configuration file")
	fmt.Println("  2. Start the bot with: kgb-bot start")
	fmt.Println("  3. Point your repository hooks at the RPC endpoint with kgb-client")
}

// promptConfig fills the sample configuration interactively.
func promptConfig(cfg *config.Config) error {
	server, err := prompt.Select("IRC server", []string{
		"irc.oftc.net",
		"irc.libera.chat",
		"other",
	})
	if err != nil {
		return err
	}
	if server == "other" {
		server, err = prompt.Input("IRC server", "")
		if err != nil {
			return err
		}
	}
	nick, err := prompt.Input("Bot nick", config.DefaultNick)
	if err != nil {
		return err
	}
	channel, err := prompt.Input("Channel to announce on", "#commits")
	if err != nil {
		return err
	}
	repo, err := prompt.Input("Repository id", "example")
	if err != nil {
		return err
	}
	password, err := prompt.Password("Repository password")
	if err != nil {
		return err
	}
	metricsOn, err := prompt.Confirm("Enable Prometheus metrics", false)
	if err != nil {
		return err
	}

	network := "main"
	cfg.Networks = map[string]config.NetworkConfig{
		network: {Server: server, Nick: nick},
	}
	cfg.Channels = []config.ChannelConfig{
		{Name: channel, Network: network, Repos: []string{repo}},
	}
	cfg.Repositories = map[string]config.RepositoryConfig{
		repo: {Password: password},
	}
	cfg.Metrics.Enabled = metricsOn
	config.ApplyDefaults(cfg)
	return nil
}
