// Package app holds the oxd-server commands and the wiring of the daemon.
package app

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zaphod72/oxd/pkg/config"
)

// Version is set at build time with -ldflags "-X ...app.Version=...".
var Version = "dev"

const envPrefix = "OXD"

// NewRootCmd returns the oxd-server command tree. Without a subcommand it
// serves.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:               "oxd-server",
		Short:             "OpenID Connect and UMA relying-party proxy",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Version:           Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "oxd-server.yml",
		"path to oxd-server.yml (.yaml, .yml or .json); environment variables prefixed OXD_ override it")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	})
	return root
}

func loadConfig(path string) (*config.ServerConfig, error) {
	var cfg config.ServerConfig
	if err := config.New().WithEnvPrefix(envPrefix).WithFile(path).Load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newLogger(cfg *config.ServerConfig) *slog.Logger {
	lvl, err := cfg.SlogLevel()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
