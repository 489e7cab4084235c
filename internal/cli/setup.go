package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yolodolo42/permitflow/internal/config"
	"github.com/yolodolo42/permitflow/internal/setup"
	"github.com/yolodolo42/permitflow/internal/ui"
)

var setupCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"setup"},
	Short:   "Run the setup wizard",
	Long: `Run the interactive setup wizard.

It records the Permit2 app contract address and a signing wallet in the
config file. A private key from PRIVATE_KEY or .env can be used instead of a
keystore wallet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !setup.IsInteractive() {
			setup.PrintEnvInstructions(cmd.ErrOrStderr())
			return fmt.Errorf("setup requires an interactive terminal")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runSetup(cmd, cfg)
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, cfg *config.Config) error {
	result, err := setup.RunWizard(cfg.DataDir, viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	if result == nil || result.Cancelled {
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Success("Setup complete"))
	fmt.Fprintln(out, ui.KeyValue("Config", result.ConfigPath))
	fmt.Fprintln(out, ui.KeyValue("App", result.AppAddress))
	if result.WalletAddress != "" {
		fmt.Fprintln(out, ui.KeyValue("Wallet", result.WalletAddress))
	}
	fmt.Fprintln(out, "\nNext: permitflow approve")
	return nil
}
