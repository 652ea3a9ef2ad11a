package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-gate/pkg/simplegate/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "gatectl",
		Short: "Simple Gate operator tool",
		Long: `Simple Gate operator tool

Hashes and checks password records and issues or inspects signed download
URLs using the same configuration as the server (environment variables and
an optional config file).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")

	rootCmd.AddCommand(NewHashPasswordCommand())
	rootCmd.AddCommand(NewVerifyPasswordCommand())
	rootCmd.AddCommand(NewSignURLCommand())
	rootCmd.AddCommand(NewVerifyURLCommand())
	rootCmd.AddCommand(NewConfigCommand())

	return rootCmd
}

// loadConfig reads the server configuration named by the --config flag
func loadConfig(cmd *cobra.Command) (*config.ServerConfig, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(
		config.WithConfigFile(configFile),
		config.WithEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
