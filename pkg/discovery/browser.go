package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

// BrowserRenderer renders pages in headless Chromium. The browser is started on first use and shared by all
// renders until Close.
type BrowserRenderer struct {
	Timeout time.Duration
	// Install downloads the Playwright driver and browser before the first start.
	Install bool

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

var _ Renderer = &BrowserRenderer{}

func (b *BrowserRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	browser, err := b.start()
	if err != nil {
		return "", err
	}

	page, err := browser.NewPage()
	if err != nil {
		return "", fmt.Errorf("could not open page: %w", err)
	}
	defer page.Close()

	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateNetworkidle}
	if b.Timeout > 0 {
		opts.Timeout = playwright.Float(float64(b.Timeout.Milliseconds()))
	}
	if _, err := page.Goto(pageURL, opts); err != nil {
		return "", fmt.Errorf("could not load %s: %w", pageURL, err)
	}
	return page.Content()
}

func (b *BrowserRenderer) start() (playwright.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	logger := logging.GetLogger()
	if b.Install {
		logger.Info().Msg("Installing Playwright driver")
		if err := playwright.Install(); err != nil {
			return nil, fmt.Errorf("failed to install Playwright driver: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start Playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     []string{"--disable-gpu", "--no-sandbox"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	logger.Debug().Msg("Headless browser started")
	b.pw, b.browser = pw, browser
	return browser, nil
}

// Close stops the browser if it was started.
func (b *BrowserRenderer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := errors.Join(b.browser.Close(), b.pw.Stop())
	b.browser, b.pw = nil, nil
	return err
}
