package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yolodolo42/permitflow/internal/config"
	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/setup"
)

var (
	cfgFile string
	envFile string
	rootCmd = &cobra.Command{
		Use:   "permitflow",
		Short: "Permit2 allowance and signature transfers from the terminal",
		Long: `permitflow drives a Permit2 registry and a Permit2 app contract.

It grants the one-time token approval, signs EIP-712 permits with a local
wallet and submits allowance and signature transfers, waiting for every
receipt before it returns.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RequireApp() == nil {
				return cmd.Help()
			}

			if !setup.IsInteractive() {
				setup.PrintEnvInstructions(cmd.ErrOrStderr())
				return config.ErrMissingAppAddress
			}
			return runSetup(cmd, cfg)
		},
	}
)

// Execute runs the root command and prints its error, if any.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	printError(rootCmd.ErrOrStderr(), err)
	return err
}

// printError writes err the way cobra would, with provider keys masked.
func printError(w io.Writer, err error) {
	if err != nil {
		fmt.Fprintln(w, "Error:", logging.RedactText(err.Error()))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.permitflow/config.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("network", "sepolia", "network preset to use")
	flags.String("rpc-url", "", "RPC endpoint, overrides the network presets")
	flags.String("log-level", "info", "console log level (debug, info, warn, error)")
	_ = viper.BindPFlag("network", flags.Lookup("network"))
	_ = viper.BindPFlag("rpc_url", flags.Lookup("rpc-url"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func initConfig() {
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	dataDir, err := config.DefaultDataDir()
	cobra.CheckErr(err)

	config.SetDefaults(viper.GetViper(), dataDir)
	cobra.CheckErr(config.BindEnv(viper.GetViper()))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config directory: %v\n", err)
		}
		viper.AddConfigPath(dataDir)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// A missing config file is fine; a broken one is not.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

// loadConfig resolves the typed configuration for the current command.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}
