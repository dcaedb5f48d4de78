// Package chrome adapts the chromedp driver to the session capabilities.
// Nothing outside this package imports chromedp; workers and capture code
// only ever see session.Browser and session.Page.
package chrome

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/session"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

type (
	Launcher struct{}

	browser struct {
		ctx    context.Context
		cancel context.CancelFunc
	}

	page struct {
		ctx    context.Context
		cancel context.CancelFunc
	}
)

func NewLauncher() *Launcher { return &Launcher{} }

// ReleaseProfile kills any browser process still holding the profile
// directory and waits briefly for the OS to reap it.
func (launcher *Launcher) ReleaseProfile(profileDir string) {
	// Best effort; pkill exits non-zero when nothing matched.
	_ = exec.Command("pkill", "-f", "user-data-dir="+profileDir).Run()
	time.Sleep(time.Second)
}

// Launch starts a browser bound to the persistent profile directory. The
// automation-control flags mirror what the hosting provider tolerates; a
// flagged automated browser never receives playback traffic.
func (launcher *Launcher) Launch(ctx context.Context, profileDir string, headless bool) (session.Browser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("start-maximized", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}

	// Force the browser process to start now so launch failures surface
	// here (fatal at startup) instead of on the first page operation.
	if err := chromedp.Run(browserCtx, hideWebdriver()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser process: %w", err)
	}

	return &browser{ctx: browserCtx, cancel: cancel}, nil
}

func (b *browser) NewPage(ctx context.Context) (session.Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tabCtx, network.Enable(), hideWebdriver()); err != nil {
		cancelTab()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &page{ctx: tabCtx, cancel: cancelTab}, nil
}

func (b *browser) Close() error {
	b.cancel()
	return nil
}

func hideWebdriver() chromedp.Action {
	var res any
	return chromedp.Evaluate(`Object.defineProperty(navigator, 'webdriver', { get: () => undefined }); true`, &res)
}

func (p *page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *page) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *page) HTML(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))
	return text, err
}

func (p *page) Attribute(ctx context.Context, selector string, attribute string) (string, bool, error) {
	var value string
	var ok bool
	err := p.run(ctx, chromedp.AttributeValue(selector, attribute, &value, &ok, chromedp.ByQuery))
	return value, ok, err
}

func (p *page) Exists(ctx context.Context, selector string) (bool, error) {
	var exists bool
	js := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	err := p.run(ctx, chromedp.Evaluate(js, &exists))
	return exists, err
}

func (p *page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *page) ClickAt(ctx context.Context, x float64, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *page) PressEnd(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.End))
}

func (p *page) UserAgent(ctx context.Context) (string, error) {
	var ua string
	err := p.run(ctx, chromedp.Evaluate("navigator.userAgent", &ua))
	return ua, err
}

// CookieHeader flattens the current cookie jar into a request header
// value; captured request headers are not trusted as authoritative for
// out-of-band fetches.
func (p *page) CookieHeader(ctx context.Context) (string, error) {
	var header string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}

		pairs := make([]string, 0, len(cookies))
		for _, c := range cookies {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		header = strings.Join(pairs, "; ")
		return nil
	}))
	return header, err
}

func (p *page) ObserveRequests(fn func(session.RequestInfo)) {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		event, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}

		headers := make(map[string]string, len(event.Request.Headers))
		for key, value := range event.Request.Headers {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}

		fn(session.RequestInfo{URL: event.Request.URL, Headers: headers})
	})
}

func (p *page) Close() error {
	p.cancel()
	return nil
}

// run executes the actions against the tab, but bounded by the caller's
// context so a stuck page interaction cannot outlive its operation.
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
