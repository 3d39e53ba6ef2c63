package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mediafetch/backend/internal/config"
	"github.com/mediafetch/backend/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var log = logger.WithComponent("server")

var configFile string

var rootCmd = &cobra.Command{
	Use:           "mediafetch",
	Short:         "Resolve YouTube, Instagram, TikTok and Twitter links to playable media",
	SilenceUsage:  true,
	SilenceErrors: true,
	// serve is the default command
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./config.yaml or /etc/mediafetch/config.yaml)")
	rootCmd.Version = version
}

// loadConfig reads the configuration and applies the logging settings
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger.Configure(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
