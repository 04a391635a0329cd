package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"sitegrab/internal/archivers"
	"sitegrab/internal/storage"
	"sitegrab/internal/utils"
)

func grabCmd() *cobra.Command {
	var (
		output string
		engine string
		req    utils.ParseRequest
	)

	cmd := &cobra.Command{
		Use:   "grab <url>",
		Short: "Archive one page to a local zip file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if engine != "" {
				cfg.RenderEngine = engine
			}

			req.URL = args[0]
			req.Normalize()
			if err := req.Validate(); err != nil {
				return err
			}
			target, err := (&utils.TargetGuard{AllowPrivate: true}).Check(ctx, req.URL)
			if err != nil {
				return err
			}

			renderer, err := archivers.NewRenderer(cfg.RenderEngine, cfg.RenderOptions())
			if err != nil {
				return err
			}
			// Local runs may archive intranet pages and their assets.
			opts := cfg.ArchiverOptions()
			opts.PublicOnly = false
			archiver := archivers.NewSiteArchiver(renderer, opts, logger)

			if output == "-" {
				st := storage.NewMemoryStorage()
				key := archivers.TempArtifactKey(time.Now())
				res, err := archiver.ParseSite(ctx, req.ArchiveRequest(target), st, key, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				r, err := st.Reader(key)
				if err != nil {
					return err
				}
				defer r.Close()
				if _, err := io.Copy(cmd.OutOrStdout(), r); err != nil {
					return fmt.Errorf("failed to write archive: %w", err)
				}
				logger.Info("archive written to stdout", "files", res.Files, "bytes", res.Size)
				return nil
			}

			abs, err := filepath.Abs(output)
			if err != nil {
				return err
			}
			dir, name := filepath.Split(abs)
			res, err := archiver.ParseSite(ctx, req.ArchiveRequest(target), storage.NewFSStorage(dir), name, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d files, %d bytes (%d resources, %d failed)\n",
				abs, res.Files, res.Size, res.Stats.Resolved, res.Stats.Failed)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "site_archive.zip", "Output zip file, - for stdout")
	f.StringVar(&engine, "engine", "", "Render engine (playwright, rod); overrides RENDER_ENGINE")
	f.StringVar(&req.ProxyType, "proxy-type", "", "Proxy type (http, https, socks5, socks5h)")
	f.StringVar(&req.ProxyHost, "proxy-host", "", "Proxy host")
	f.StringVar(&req.ProxyPort, "proxy-port", "", "Proxy port")
	f.StringVar(&req.ProxyUsername, "proxy-user", "", "Proxy username")
	f.StringVar(&req.ProxyPassword, "proxy-pass", "", "Proxy password")
	return cmd
}

