package utils

import (
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/playwright-community/playwright-go"

	"sitegrab/internal/archivers"
)

// CheckBrowserAvailability verifies at startup that the configured engine
// can find or launch a browser.
func CheckBrowserAvailability(engine string, timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		switch engine {
		case archivers.EngineRod:
			if _, ok := launcher.LookPath(); !ok {
				done <- fmt.Errorf("no local chromium found; rod will download one on first use")
				return
			}
			done <- nil
		default:
			done <- checkPlaywright()
		}
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("%s health check timed out after %v", engine, timeout)
	}
}

func checkPlaywright() error {
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start Playwright: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     []string{"--no-sandbox", "--disable-setuid-sandbox"},
	})
	if err != nil {
		return fmt.Errorf("failed to launch Chromium: %w", err)
	}
	defer browser.Close()
	return nil
}
