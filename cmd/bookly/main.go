// Command bookly runs the bookly API server and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bookly/service_layer/internal/config"
	"github.com/bookly/service_layer/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "bookly",
	Short:         "Bookly service layer",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (overrides "+config.ConfigPathEnv+")")
	rootCmd.AddCommand(serveCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	if configPath != "" {
		if err := os.Setenv(config.ConfigPathEnv, configPath); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(cfg.Logging), nil
}
