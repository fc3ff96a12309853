package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	DefaultUserAgent      = "llm-quiz-bot/1.0"
	DefaultViewportWidth  = 800
	DefaultViewportHeight = 600
)

var DefaultLaunchArgs = []string{
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--disable-gpu",
	"--disable-extensions",
	"--disable-background-networking",
	"--disable-default-apps",
	"--disable-sync",
	"--mute-audio",
	"--no-first-run",
	"--disable-blink-features=AutomationControlled",
}

var DefaultBlockedResources = []string{"image", "stylesheet", "font", "media"}

const maskAutomationScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

type PlaywrightOptions struct {
	Headless         bool
	Install          bool
	UserAgent        string
	ViewportWidth    int
	ViewportHeight   int
	Args             []string
	BlockedResources []string
}

// PlaywrightLauncher starts a playwright driver plus one headless chromium per
// launch.
type PlaywrightLauncher struct {
	opts PlaywrightOptions
}

func NewPlaywrightLauncher(opts PlaywrightOptions) *PlaywrightLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth = DefaultViewportWidth
		opts.ViewportHeight = DefaultViewportHeight
	}
	if opts.Args == nil {
		opts.Args = DefaultLaunchArgs
	}
	if opts.BlockedResources == nil {
		opts.BlockedResources = DefaultBlockedResources
	}
	return &PlaywrightLauncher{opts: opts}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if l.opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := l.opts.Headless
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     l.opts.Args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}

	blocked := make(map[string]bool, len(l.opts.BlockedResources))
	for _, kind := range l.opts.BlockedResources {
		blocked[kind] = true
	}
	engine := &playwrightEngine{
		pw:           pw,
		browser:      browser,
		opts:         l.opts,
		blocked:      blocked,
		disconnected: make(chan struct{}),
	}
	browser.OnDisconnected(func(playwright.Browser) {
		engine.markDisconnected()
	})
	return engine, nil
}

type playwrightEngine struct {
	pw           *playwright.Playwright
	browser      playwright.Browser
	opts         PlaywrightOptions
	blocked      map[string]bool
	disconnected chan struct{}
	once         sync.Once
	closeOnce    sync.Once
	closeErr     error
}

func (e *playwrightEngine) markDisconnected() {
	e.once.Do(func() { close(e.disconnected) })
}

func (e *playwrightEngine) Disconnected() <-chan struct{} {
	return e.disconnected
}

func (e *playwrightEngine) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := e.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(e.opts.UserAgent),
		Viewport: &playwright.Size{
			Width:  e.opts.ViewportWidth,
			Height: e.opts.ViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	if len(e.blocked) > 0 {
		err = bctx.Route("**/*", func(route playwright.Route) {
			if e.blocked[route.Request().ResourceType()] {
				_ = route.Abort()
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("install request filter: %w", err)
		}
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(maskAutomationScript)}); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("install init script: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &playwrightPage{context: bctx, page: page}, nil
}

func (e *playwrightEngine) Close() error {
	e.closeOnce.Do(func() {
		var errs []error
		if e.browser.IsConnected() {
			if err := e.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if err := e.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		e.markDisconnected()
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

type playwrightPage struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	waitUntil := playwright.WaitUntilState("networkidle")
	opts := playwright.PageGotoOptions{WaitUntil: &waitUntil}
	if timeout > 0 {
		ms := float64(timeout.Milliseconds())
		opts.Timeout = &ms
	}
	_, err := p.page.Goto(url, opts)
	return classify(err)
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	state := playwright.WaitForSelectorState("visible")
	opts := playwright.PageWaitForSelectorOptions{State: &state}
	if timeout > 0 {
		ms := float64(timeout.Milliseconds())
		opts.Timeout = &ms
	}
	_, err := p.page.WaitForSelector(selector, opts)
	return classify(err)
}

func (p *playwrightPage) InnerText(selector string) (string, error) {
	text, err := p.page.InnerText(selector)
	return text, classify(err)
}

func (p *playwrightPage) Content() (string, error) {
	html, err := p.page.Content()
	return html, classify(err)
}

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Close() error {
	pageErr := p.page.Close()
	ctxErr := p.context.Close()
	return errors.Join(pageErr, ctxErr)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
