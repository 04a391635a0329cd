package archivers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-rod/stealth"
	"github.com/playwright-community/playwright-go"

	"sitegrab/internal/monitoring"
	"sitegrab/internal/proxy"
)

const EnginePlaywright = "playwright"

// PlaywrightRenderer drives Chromium through Playwright. Every Render call
// gets its own Playwright driver and browser.
type PlaywrightRenderer struct {
	opts RenderOptions
}

func NewPlaywrightRenderer(opts RenderOptions) *PlaywrightRenderer {
	opts.normalize()
	return &PlaywrightRenderer{opts: opts}
}

func (r *PlaywrightRenderer) Engine() string { return EnginePlaywright }

func (r *PlaywrightRenderer) Render(ctx context.Context, pageURL string, sess *proxy.Session, logWriter io.Writer) (string, error) {
	s := &pwSession{logWriter: logWriter, monitor: monitoring.GetGlobalMonitor()}
	defer s.cleanup()

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		html, err := r.render(ctx, s, pageURL, sess)
		done <- result{html, err}
	}()

	select {
	case res := <-done:
		return res.html, res.err
	case <-ctx.Done():
		// Closing the browser aborts the pending navigation.
		s.cleanup()
		<-done
		return "", ctx.Err()
	}
}

func (r *PlaywrightRenderer) render(ctx context.Context, s *pwSession, pageURL string, sess *proxy.Session) (string, error) {
	start := time.Now()
	fmt.Fprintf(s.logWriter, "Launching browser...\n")

	pw, err := playwright.Run()
	if err != nil {
		return "", fmt.Errorf("failed to start playwright: %w", err)
	}
	if !s.setDriver(pw) {
		pw.Stop()
		return "", context.Canceled
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.opts.Headless),
		Args:     launchArgs,
	}
	if server := sess.BrowserServer(); server != "" {
		p := &playwright.Proxy{Server: server}
		if user, pass, ok := sess.BrowserCredentials(); ok {
			p.Username = playwright.String(user)
			p.Password = playwright.String(pass)
		}
		launch.Proxy = p
		fmt.Fprintf(s.logWriter, "Using proxy server: %s\n", server)
	}

	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	if !s.setBrowser(browser) {
		browser.Close()
		return "", context.Canceled
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(r.opts.UserAgent),
		ExtraHttpHeaders: r.opts.headers(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create browser context: %w", err)
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealth.JS)}); err != nil {
		return "", fmt.Errorf("failed to install stealth script: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to create page: %w", err)
	}

	fmt.Fprintf(s.logWriter, "Navigating to %s...\n", pageURL)
	timeout := float64(r.opts.Timeout / time.Millisecond)
	if _, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(timeout),
	}); err != nil {
		return "", fmt.Errorf("failed to navigate: %w", err)
	}

	if err := graceWait(ctx, r.opts.GraceDelay); err != nil {
		return "", err
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	s.monitor.ObserveRender(time.Since(start))
	fmt.Fprintf(s.logWriter, "Page rendered (%d bytes)\n", len(html))
	return html, nil
}

// pwSession owns the Playwright resources of one render and releases them
// exactly once.
type pwSession struct {
	mu        sync.Mutex
	once      sync.Once
	closed    bool
	pw        *playwright.Playwright
	browser   playwright.Browser
	logWriter io.Writer
	monitor   *monitoring.Monitor
}

func (s *pwSession) setDriver(pw *playwright.Playwright) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pw = pw
	return true
}

func (s *pwSession) setBrowser(b playwright.Browser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.browser = b
	s.monitor.RecordBrowserLaunch(EnginePlaywright)
	return true
}

func (s *pwSession) cleanup() {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true

		if s.browser != nil {
			fmt.Fprintf(s.logWriter, "Closing browser...\n")
			safeClose(s.logWriter, "browser close", func() error { return s.browser.Close() })
			s.browser = nil
			s.monitor.RecordBrowserCleanup(EnginePlaywright)
		}
		if s.pw != nil {
			safeClose(s.logWriter, "playwright stop", s.pw.Stop)
			s.pw = nil
		}
	})
}

// safeClose runs fn, logging errors and recovering from driver panics.
func safeClose(logWriter io.Writer, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(logWriter, "Warning: %s panicked: %v\n", what, r)
		}
	}()
	if err := fn(); err != nil {
		fmt.Fprintf(logWriter, "Warning: %s error: %v\n", what, err)
	}
}
