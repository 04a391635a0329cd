package archivers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"sitegrab/internal/monitoring"
	"sitegrab/internal/proxy"
)

const EngineRod = "rod"

// requestIdle is how long the network must stay quiet before the page
// counts as idle.
const requestIdle = 500 * time.Millisecond

// RodRenderer drives Chromium over CDP with go-rod.
type RodRenderer struct {
	opts RenderOptions
}

func NewRodRenderer(opts RenderOptions) *RodRenderer {
	opts.normalize()
	return &RodRenderer{opts: opts}
}

func (r *RodRenderer) Engine() string { return EngineRod }

func (r *RodRenderer) Render(ctx context.Context, pageURL string, sess *proxy.Session, logWriter io.Writer) (html string, err error) {
	start := time.Now()
	monitor := monitoring.GetGlobalMonitor()

	l := launcher.New().
		Context(ctx).
		Headless(r.opts.Headless).
		NoSandbox(true).
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-blink-features", "AutomationControlled")
	if server := sess.BrowserServer(); server != "" {
		l = l.Proxy(server)
		fmt.Fprintf(logWriter, "Using proxy server: %s\n", server)
	}

	fmt.Fprintf(logWriter, "Launching browser...\n")
	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return "", fmt.Errorf("failed to connect to browser: %w", err)
	}
	monitor.RecordBrowserLaunch(EngineRod)

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			fmt.Fprintf(logWriter, "Closing browser...\n")
			safeClose(logWriter, "browser close", browser.Close)
			l.Kill()
			l.Cleanup()
			monitor.RecordBrowserCleanup(EngineRod)
		})
	}
	defer teardown()

	page, err := stealth.Page(browser)
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}

	if user, pass, ok := sess.BrowserCredentials(); ok {
		if err := handleProxyAuth(page, user, pass); err != nil {
			return "", fmt.Errorf("failed to install proxy auth: %w", err)
		}
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      r.opts.UserAgent,
		AcceptLanguage: r.opts.AcceptLanguage,
	}); err != nil {
		return "", fmt.Errorf("failed to set user agent: %w", err)
	}
	var headers []string
	for k, v := range r.opts.headers() {
		headers = append(headers, k, v)
	}
	if _, err := page.SetExtraHeaders(headers); err != nil {
		return "", fmt.Errorf("failed to set headers: %w", err)
	}

	nav := page.Context(ctx)
	if r.opts.Timeout > 0 {
		nav = nav.Timeout(r.opts.Timeout)
	}

	fmt.Fprintf(logWriter, "Navigating to %s...\n", pageURL)
	idle := nav.WaitRequestIdle(requestIdle, nil, nil, nil)
	if err := nav.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}
	idle()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := graceWait(ctx, r.opts.GraceDelay); err != nil {
		return "", err
	}

	html, err = page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	monitor.ObserveRender(time.Since(start))
	fmt.Fprintf(logWriter, "Page rendered (%d bytes)\n", len(html))
	return html, nil
}

// handleProxyAuth answers every proxy auth challenge of page with the
// given credentials and lets all other paused requests continue.
func handleProxyAuth(page *rod.Page, user, pass string) error {
	go page.EachEvent(func(e *proto.FetchRequestPaused) {
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(page)
	}, func(e *proto.FetchAuthRequired) {
		_ = proto.FetchContinueWithAuth{
			RequestID: e.RequestID,
			AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
				Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
				Username: user,
				Password: pass,
			},
		}.Call(page)
	})()
	return proto.FetchEnable{HandleAuthRequests: true}.Call(page)
}
