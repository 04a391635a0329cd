package archivers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"sitegrab/internal/proxy"
)

// DefaultUserAgent is presented by both the browser and the asset fetcher.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

// DefaultAcceptLanguage is sent with every browser and fetch request.
const DefaultAcceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

// Renderer loads a page in a real browser and returns its serialized DOM.
// Implementations release every browser resource before returning.
type Renderer interface {
	Render(ctx context.Context, pageURL string, sess *proxy.Session, logWriter io.Writer) (string, error)
	Engine() string
}

// RenderOptions configures a browser renderer.
type RenderOptions struct {
	Headless       bool
	UserAgent      string
	AcceptLanguage string
	GraceDelay     time.Duration // settle time after network idle
	Timeout        time.Duration // navigation timeout, zero waits forever
}

func (o *RenderOptions) normalize() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = DefaultAcceptLanguage
	}
}

func (o RenderOptions) headers() map[string]string {
	return map[string]string{
		"Accept-Language":           o.AcceptLanguage,
		"Upgrade-Insecure-Requests": "1",
	}
}

// launchArgs are the Chromium flags every engine starts with.
var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-blink-features=AutomationControlled",
}

// NewRenderer returns the renderer for engine ("playwright" or "rod").
func NewRenderer(engine string, opts RenderOptions) (Renderer, error) {
	switch strings.ToLower(engine) {
	case "", EnginePlaywright:
		return NewPlaywrightRenderer(opts), nil
	case EngineRod:
		return NewRodRenderer(opts), nil
	}
	return nil, fmt.Errorf("unknown render engine %q", engine)
}

// graceWait sleeps for d unless ctx ends first.
func graceWait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
