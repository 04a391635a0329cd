package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Kind is how a fetched payload is routed.
type Kind int

const (
	KindBinary Kind = iota
	KindCSS
	KindJS
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindJS:
		return "js"
	default:
		return "binary"
	}
}

// Classify routes a payload by its declared content type. CSS is detected
// from the header only; scripts also match on a .js file name.
func Classify(contentType, fileName string) Kind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/css"):
		return KindCSS
	case strings.Contains(ct, "javascript"), strings.HasSuffix(fileName, ".js"):
		return KindJS
	default:
		return KindBinary
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Response is a fetched resource.
type Response struct {
	Body        []byte
	ContentType string
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	UserAgent      string
	AcceptLanguage string
	Concurrency    int64         // concurrent requests, defaults to 6
	Timeout        time.Duration // per request, zero means none
}

// Fetcher downloads resources through the run's HTTP client.
type Fetcher struct {
	client *http.Client
	sem    *semaphore.Weighted
	opts   FetcherOptions
}

// NewFetcher wraps client. The client carries the proxy configuration.
func NewFetcher(client *http.Client, opts FetcherOptions) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 6
	}
	return &Fetcher{
		client: client,
		sem:    semaphore.NewWeighted(opts.Concurrency),
		opts:   opts,
	}
}

// Fetch performs a GET for rawURL. Non-2xx statuses and transport errors
// are returned as errors; callers treat both as non-fatal.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	if f.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.opts.AcceptLanguage)
	}

	slog.Log(ctx, levelTrace, "fetch", slog.Any("url", URLLogValue(rawURL)))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
