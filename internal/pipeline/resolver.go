// Package pipeline discovers, fetches and rewrites the resources a rendered
// page depends on. One Resolver serves one archival run: it owns the dedup
// ledger, routes fetched payloads to the CSS and JS rewriters and writes
// every archived resource into a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sitegrab/internal/monitoring"
)

// ErrDepthExceeded is logged when a textual asset is stored without
// rewriting because it sits too deep in the reference graph.
var ErrDepthExceeded = errors.New("maximum rewrite depth exceeded")

// Sink receives archived resources.
type Sink interface {
	Add(name string, data []byte)
}

// Options configures a Resolver.
type Options struct {
	Folder      string // asset namespace, defaults to "assets"
	MaxDepth    int    // nested textual assets, defaults to 16
	UniqueNames bool   // disambiguate colliding file names
	Logger      *slog.Logger
	LogWriter   io.Writer // per-run progress lines
	Now         func() time.Time
}

func (o *Options) normalize() {
	if o.Folder == "" {
		o.Folder = "assets"
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 16
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.LogWriter == nil {
		o.LogWriter = io.Discard
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Stats summarizes a run.
type Stats struct {
	Resolved int64 `json:"resolved"`
	Failed   int64 `json:"failed"`
	Reused   int64 `json:"reused"`
	Skipped  int64 `json:"skipped"`
	Bytes    int64 `json:"bytes"`
}

// Resolver resolves references for one run.
type Resolver struct {
	fetcher *Fetcher
	sink    Sink
	ledger  *Ledger
	opts    Options
	monitor *monitoring.Monitor

	logMu sync.Mutex

	resolved atomic.Int64
	failed   atomic.Int64
	reused   atomic.Int64
	skipped  atomic.Int64
	bytes    atomic.Int64
}

// NewResolver creates a Resolver with a fresh ledger.
func NewResolver(fetcher *Fetcher, sink Sink, opts Options) *Resolver {
	opts.normalize()
	return &Resolver{
		fetcher: fetcher,
		sink:    sink,
		ledger:  NewLedger(opts.UniqueNames),
		opts:    opts,
		monitor: monitoring.GetGlobalMonitor(),
	}
}

// Stats returns counters for the run so far.
func (r *Resolver) Stats() Stats {
	return Stats{
		Resolved: r.resolved.Load(),
		Failed:   r.failed.Load(),
		Reused:   r.reused.Load(),
		Skipped:  r.skipped.Load(),
		Bytes:    r.bytes.Load(),
	}
}

// claim is a reference whose ledger slot has been reserved.
type claim struct {
	key      string
	fragment string
	name     string
	entry    *entry
	owner    bool
}

// reserve resolves ref against base and takes its ledger slot, allocating
// the archive path under folder.
func (r *Resolver) reserve(ref, base, folder string) (*claim, error) {
	if Skippable(ref) {
		return nil, ErrSkipped
	}
	u, fragment, err := Logical(ref, base)
	if err != nil {
		return nil, err
	}
	key := u.String()
	name := FileName(u, r.opts.Now())
	e, owner := r.ledger.reserve(key, folder+"/"+name)
	return &claim{key: key, fragment: fragment, name: name, entry: e, owner: owner}, nil
}

// Resolve returns the archive path for ref, fetching it on first sight.
// The returned path carries the reference's fragment, if any. A non-nil
// error means the reference must be left untouched.
func (r *Resolver) Resolve(ctx context.Context, ref, base, folder string, depth int) (string, error) {
	c, err := r.reserve(ref, base, folder)
	if err != nil {
		return "", err
	}
	return r.settle(ctx, c, folder, depth)
}

// settle fetches and stores an owned claim, or waits for the owner of a
// shared one.
func (r *Resolver) settle(ctx context.Context, c *claim, folder string, depth int) (string, error) {
	if !c.owner {
		p, err := c.entry.wait(ctx)
		if err != nil {
			return "", err
		}
		r.reused.Add(1)
		r.monitor.RecordResource(monitoring.ResourceCached, 0)
		return p + c.fragment, nil
	}

	key := c.key
	r.logf("Downloading resource: %s\n", URLLogValue(key).LogValue().String())
	res, err := r.fetcher.Fetch(ctx, key)
	if err != nil {
		r.ledger.fail(c.entry, err)
		r.failed.Add(1)
		r.monitor.RecordResource(monitoring.ResourceFailed, 0)
		r.opts.Logger.Warn("resource unavailable", slog.Any("url", URLLogValue(key)), slog.Any("err", err))
		r.logf("Resource unavailable: %s (%v)\n", URLLogValue(key).LogValue().String(), err)
		return "", err
	}

	kind := Classify(res.ContentType, c.name)
	p := r.ledger.publish(c.entry)

	data := res.Body
	switch kind {
	case KindCSS, KindJS:
		if depth >= r.opts.MaxDepth {
			r.opts.Logger.Warn("storing asset without rewriting",
				slog.Any("url", URLLogValue(key)), slog.Int("depth", depth), slog.Any("err", ErrDepthExceeded))
			break
		}
		if kind == KindCSS {
			data = []byte(r.RewriteCSS(ctx, string(data), key, folder, depth+1))
		} else {
			data = []byte(r.RewriteJS(ctx, string(data), key, folder, depth+1))
		}
	}

	r.sink.Add(p, data)
	r.resolved.Add(1)
	r.bytes.Add(int64(len(data)))
	r.monitor.RecordResource(monitoring.ResourceFetched, len(data))
	r.opts.Logger.Debug("resource archived",
		slog.Any("url", URLLogValue(key)), slog.String("path", p), slog.String("kind", kind.String()))
	return p + c.fragment, nil
}

// resolveAll resolves refs concurrently and returns the archive path for
// each reference that resolved. Slots are reserved in the order of refs
// before any fetch starts, so colliding names are assigned by document
// order. Every claim gets its own goroutine: an owner may only start after
// a nested document already waits on it, so the only bound is the
// fetcher's.
func (r *Resolver) resolveAll(ctx context.Context, refs []string, base, folder string, depth int) map[string]string {
	var mu sync.Mutex
	paths := make(map[string]string, len(refs))

	claims := make(map[string]*claim, len(refs))
	for _, ref := range refs {
		c, err := r.reserve(ref, base, folder)
		if err != nil {
			if errors.Is(err, ErrSkipped) {
				r.skip()
			}
			continue
		}
		claims[ref] = c
	}

	g := new(errgroup.Group)
	for _, ref := range refs {
		c, ok := claims[ref]
		if !ok {
			continue
		}
		g.Go(func() error {
			p, err := r.settle(ctx, c, folder, depth)
			if err != nil {
				return nil
			}
			mu.Lock()
			paths[ref] = p
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return paths
}

func (r *Resolver) skip() {
	r.skipped.Add(1)
	r.monitor.RecordResource(monitoring.ResourceSkipped, 0)
}

func (r *Resolver) logf(format string, args ...any) {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	fmt.Fprintf(r.opts.LogWriter, format, args...)
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
