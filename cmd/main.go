// Command sitegrab archives web pages into self-contained zip files.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"sitegrab/internal/config"
	"sitegrab/internal/utils"
)

const appName = "sitegrab"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Archive web pages with their assets",
		Long: `sitegrab renders a page in a headless browser, downloads the stylesheets,
scripts, images and fonts it references, rewrites every reference to point
into the archive and packs the result into a zip file.

Configuration is read from the environment (LISTEN_ADDR, RENDER_ENGINE,
DB_URL, ...). Without a subcommand the HTTP server starts.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.AddCommand(serveCmd(), grabCmd())
	return cmd
}

// setup loads the configuration and installs the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
