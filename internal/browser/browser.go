package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

var ErrPageNotLoaded = errors.New("page did not load")

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	LoadTimeout    time.Duration
	MaxRetries     int
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		LoadTimeout:    10 * time.Second,
		MaxRetries:     1,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-CA,en;q=0.9,fr-CA;q=0.8",
		TimezoneID:     "America/Toronto",
		Locale:         "en-CA",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o *Options) withDefaults() *Options {
	d := DefaultOptions()
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = d.Timeout
	}
	if out.LoadTimeout <= 0 {
		out.LoadTimeout = d.LoadTimeout
	}
	if out.MaxRetries < 1 {
		out.MaxRetries = d.MaxRetries
	}
	if out.UserAgent == "" {
		out.UserAgent = d.UserAgent
	}
	if out.ViewportWidth == 0 || out.ViewportHeight == 0 {
		out.ViewportWidth, out.ViewportHeight = d.ViewportWidth, d.ViewportHeight
	}
	if out.Locale == "" {
		out.Locale = d.Locale
	}
	if out.TimezoneID == "" {
		out.TimezoneID = d.TimezoneID
	}
	if out.ExtraHeaders == nil {
		out.ExtraHeaders = d.ExtraHeaders
	}
	if out.AcceptLanguage != "" {
		headers := make(map[string]string, len(out.ExtraHeaders)+1)
		for k, v := range out.ExtraHeaders {
			headers[k] = v
		}
		headers["Accept-Language"] = out.AcceptLanguage
		out.ExtraHeaders = headers
	}
	return &out
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts = opts.withDefaults()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-gpu",
			"--no-sandbox",
			"--disable-dev-shm-usage",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Fetch loads url in a shared page, waits for the document body and returns the
// rendered HTML. The page is reused across calls like a single driver window.
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if b.page == nil {
		page, err := b.NewPage()
		if err != nil {
			return "", err
		}
		b.page = page
	}

	if err := b.NavigateWithRetry(ctx, b.page, url, b.opts.MaxRetries); err != nil {
		return "", err
	}

	if _, err := b.page.WaitForSelector("body", playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(b.opts.LoadTimeout.Milliseconds())),
	}); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPageNotLoaded, err)
	}

	content, err := b.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}

	return content, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.page != nil {
		if err := b.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// NavigateWithRetry backs off one more second per attempt. Cancelling ctx
// aborts the backoff.
func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleepCtx(ctx, retryBackoff(i)); err != nil {
				return err
			}
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("%w: failed after %d attempts: %v", ErrPageNotLoaded, maxRetries, lastErr)
}

func retryBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
