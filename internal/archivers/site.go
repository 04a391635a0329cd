// Package archivers turns a URL into a self-contained zip archive: it renders
// the page in a browser, archives every resource the DOM references and
// bundles the result.
package archivers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sitegrab/internal/bundle"
	"sitegrab/internal/monitoring"
	"sitegrab/internal/pipeline"
	"sitegrab/internal/proxy"
	"sitegrab/internal/storage"
)

// Request is one archival run.
type Request struct {
	URL   string
	Proxy proxy.Options
}

// Result describes a stored archive.
type Result struct {
	Key      string         `json:"key"`
	Size     int64          `json:"size"`
	Files    int            `json:"files"`
	Stats    pipeline.Stats `json:"stats"`
	Duration time.Duration  `json:"duration"`
}

// Options configures a SiteArchiver.
type Options struct {
	Fetch            pipeline.FetcherOptions
	Resolve          pipeline.Options
	CompressionLevel int // deflate level, zero keeps the default
	// PublicOnly refuses asset fetches to loopback, private and link-local
	// addresses.
	PublicOnly bool
}

// SiteArchiver runs the render, extract and bundle pipeline.
type SiteArchiver struct {
	renderer Renderer
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewSiteArchiver(renderer Renderer, opts Options, logger *slog.Logger) *SiteArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Fetch.UserAgent == "" {
		opts.Fetch.UserAgent = DefaultUserAgent
	}
	if opts.Fetch.AcceptLanguage == "" {
		opts.Fetch.AcceptLanguage = DefaultAcceptLanguage
	}
	return &SiteArchiver{renderer: renderer, opts: opts, logger: logger, now: time.Now}
}

// TempArtifactKey names the archive of a synchronous run. The random
// suffix keeps concurrent runs started in the same millisecond apart.
func TempArtifactKey(now time.Time) string {
	return fmt.Sprintf("site_%d_%s.zip", now.UnixMilli(), uuid.NewString())
}

// ParseSite archives req.URL into dst under key. The browser and the proxy
// session are released on every path.
func (a *SiteArchiver) ParseSite(ctx context.Context, req Request, dst storage.Storage, key string, logWriter io.Writer) (res *Result, err error) {
	if logWriter == nil {
		logWriter = io.Discard
	}
	start := a.now()
	logger := a.logger.With(slog.Any("url", pipeline.URLLogValue(req.URL)), slog.String("key", key))
	monitor := monitoring.GetGlobalMonitor()
	defer func() {
		outcome := monitoring.CaptureCompleted
		if err != nil {
			outcome = monitoring.CaptureFailed
		}
		monitor.RecordCapture(outcome, time.Since(start))
	}()

	sess, err := proxy.Open(ctx, req.Proxy, proxy.Config{Logger: logger, PublicOnly: a.opts.PublicOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("failed to close proxy session", slog.Any("err", cerr))
		}
	}()
	if sess.Enabled() {
		fmt.Fprintf(logWriter, "Proxy enabled: %s\n", sess.BrowserServer())
	}

	logger.Info("rendering page", slog.String("engine", a.renderer.Engine()))
	html, err := a.renderer.Render(ctx, req.URL, sess, logWriter)
	if err != nil {
		logger.Error("render failed", slog.Any("err", err))
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	builder := bundle.New()
	if a.opts.CompressionLevel != 0 {
		builder.WithLevel(a.opts.CompressionLevel)
	}
	fetcher := pipeline.NewFetcher(sess.HTTPClient(), a.opts.Fetch)

	ropts := a.opts.Resolve
	ropts.Logger = logger
	ropts.LogWriter = logWriter
	resolver := pipeline.NewResolver(fetcher, builder, ropts)

	page, err := resolver.ExtractHTML(ctx, html, req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract resources: %w", err)
	}
	builder.Add(bundle.IndexName, []byte(page))

	fmt.Fprintf(logWriter, "Writing archive with %d files...\n", builder.Len())
	size, err := builder.Save(dst, key)
	if err != nil {
		return nil, fmt.Errorf("failed to write archive: %w", err)
	}

	stats := resolver.Stats()
	res = &Result{
		Key:      key,
		Size:     size,
		Files:    builder.Len(),
		Stats:    stats,
		Duration: time.Since(start),
	}
	logger.Info("site archived",
		slog.Int("files", res.Files),
		slog.Int64("size", size),
		slog.Int64("resolved", stats.Resolved),
		slog.Int64("failed", stats.Failed),
		slog.Duration("duration", res.Duration))
	fmt.Fprintf(logWriter, "Archive complete: %d files, %d bytes\n", res.Files, size)
	return res, nil
}
