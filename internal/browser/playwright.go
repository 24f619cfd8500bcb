package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
)

// interactiveSelector matches the elements surfaced by Elements. The order
// of matches is DOM order, which keeps indices stable between the metadata
// scan and the handle scan.
const interactiveSelector = `a[href], button, input:not([type="hidden"]), select, textarea, [role="button"], [onclick]`

// elementScanScript collects element metadata in one round trip.
const elementScanScript = `() => {
	const sel = 'a[href], button, input:not([type="hidden"]), select, textarea, [role="button"], [onclick]';
	return Array.from(document.querySelectorAll(sel)).map(el => ({
		tag: el.tagName.toLowerCase(),
		text: (el.innerText || el.value || el.getAttribute('aria-label') || '').trim().slice(0, 120),
		href: el.getAttribute('href') || '',
		placeholder: el.getAttribute('placeholder') || '',
	}));
}`

// linkScanScript collects page links for content extraction.
const linkScanScript = `() => Array.from(document.querySelectorAll('a[href]')).map(a => ({
	text: (a.innerText || '').trim().slice(0, 120),
	href: a.href,
}))`

// Driver owns the Playwright runtime shared by all sessions. Start it once
// at boot and Stop it on shutdown; individual sessions get their own browser
// contexts through Factory.
type Driver struct {
	pw  *playwright.Playwright
	log *logging.Logger

	actionTimeout time.Duration
}

// NewDriver installs the browser binaries if needed and starts the
// Playwright runtime. actionTimeout bounds every individual browser command
// issued by controllers created from this driver.
func NewDriver(log *logging.Logger, actionTimeout time.Duration) (*Driver, error) {
	if err := playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
	}); err != nil {
		return nil, fmt.Errorf("installing playwright browsers: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	return &Driver{
		pw:            pw,
		log:           log.Sub("browser"),
		actionTimeout: actionTimeout,
	}, nil
}

// Stop tears down the Playwright runtime. All controllers must be closed
// first.
func (d *Driver) Stop() error {
	return d.pw.Stop()
}

// Factory returns the Controller factory backed by this driver.
func (d *Driver) Factory() Factory {
	return func(ctx context.Context, cfg domain.SessionConfig) (Controller, error) {
		return d.newController(ctx, cfg)
	}
}

func (d *Driver) newController(ctx context.Context, cfg domain.SessionConfig) (Controller, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("launching chromium: %w", err)
	}

	btx, err := b.NewContext()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := btx.NewPage()
	if err != nil {
		_ = btx.Close()
		_ = b.Close()
		return nil, fmt.Errorf("opening initial page: %w", err)
	}
	page.SetDefaultTimeout(float64(d.actionTimeout.Milliseconds()))

	return &playwrightController{
		browser: b,
		btx:     btx,
		pages:   []playwright.Page{page},
		timeout: float64(d.actionTimeout.Milliseconds()),
		log:     d.log,
	}, nil
}

// playwrightController drives one Chromium context. The pages slice mirrors
// the tab strip; active is the index commands operate on.
type playwrightController struct {
	browser playwright.Browser
	btx     playwright.BrowserContext
	pages   []playwright.Page
	active  int
	timeout float64
	log     *logging.Logger
}

// pwHandle adapts a live Playwright element to elementHandle.
type pwHandle struct {
	el playwright.ElementHandle
}

func (h pwHandle) Click() error           { return h.el.Click() }
func (h pwHandle) Fill(text string) error { return h.el.Fill(text) }

func (c *playwrightController) page() playwright.Page {
	return c.pages[c.active]
}

func (c *playwrightController) Navigate(ctx context.Context, url string, newTab bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if newTab {
		page, err := c.btx.NewPage()
		if err != nil {
			return fmt.Errorf("opening tab: %w", err)
		}
		page.SetDefaultTimeout(c.timeout)
		c.pages = append(c.pages, page)
		c.active = len(c.pages) - 1
	}
	if _, err := c.page().Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return classify(fmt.Errorf("navigating to %s: %w", url, err))
	}
	return nil
}

func (c *playwrightController) Elements(ctx context.Context) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := c.page().Evaluate(elementScanScript)
	if err != nil {
		return nil, classify(fmt.Errorf("scanning elements: %w", err))
	}
	handles, err := c.page().QuerySelectorAll(interactiveSelector)
	if err != nil {
		return nil, classify(fmt.Errorf("querying elements: %w", err))
	}

	metas, _ := raw.([]interface{})
	n := len(metas)
	if len(handles) < n {
		// The DOM changed between the two scans; trust the shorter view.
		n = len(handles)
	}

	elements := make([]Element, 0, n)
	for i := 0; i < n; i++ {
		meta, _ := metas[i].(map[string]interface{})
		elements = append(elements, Element{
			ElementInfo: domain.ElementInfo{
				Index:       i,
				Tag:         str(meta, "tag"),
				Text:        str(meta, "text"),
				Href:        str(meta, "href"),
				Placeholder: str(meta, "placeholder"),
			},
			handle: pwHandle{el: handles[i]},
		})
	}
	return elements, nil
}

func (c *playwrightController) Click(ctx context.Context, el Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if el.handle == nil {
		return fmt.Errorf("element %d has no live handle", el.Index)
	}
	if err := el.handle.Click(); err != nil {
		return classify(fmt.Errorf("clicking element %d: %w", el.Index, err))
	}
	return nil
}

func (c *playwrightController) Type(ctx context.Context, el Element, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if el.handle == nil {
		return fmt.Errorf("element %d has no live handle", el.Index)
	}
	if err := el.handle.Fill(text); err != nil {
		return classify(fmt.Errorf("typing into element %d: %w", el.Index, err))
	}
	return nil
}

func (c *playwrightController) PressKey(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.page().Keyboard().Press(key); err != nil {
		return classify(fmt.Errorf("pressing %q: %w", key, err))
	}
	return nil
}

func (c *playwrightController) Scroll(ctx context.Context, direction string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delta := "window.innerHeight"
	if direction == "up" {
		delta = "-window.innerHeight"
	}
	if _, err := c.page().Evaluate(fmt.Sprintf("() => window.scrollBy(0, %s)", delta)); err != nil {
		return classify(fmt.Errorf("scrolling %s: %w", direction, err))
	}
	return nil
}

func (c *playwrightController) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.page().GoBack(); err != nil {
		return classify(fmt.Errorf("going back: %w", err))
	}
	return nil
}

func (c *playwrightController) State(ctx context.Context, includeScreenshot bool) (*domain.PageState, error) {
	tabs, err := c.Tabs(ctx)
	if err != nil {
		return nil, err
	}
	elements, err := c.Elements(ctx)
	if err != nil {
		return nil, err
	}

	title, err := c.page().Title()
	if err != nil {
		return nil, classify(fmt.Errorf("reading title: %w", err))
	}

	state := &domain.PageState{
		URL:      c.page().URL(),
		Title:    title,
		Tabs:     tabs,
		Elements: make([]domain.ElementInfo, len(elements)),
	}
	for i, el := range elements {
		state.Elements[i] = el.ElementInfo
	}

	if includeScreenshot {
		png, err := c.page().Screenshot()
		if err != nil {
			return nil, classify(fmt.Errorf("taking screenshot: %w", err))
		}
		state.Screenshot = base64.StdEncoding.EncodeToString(png)
	}
	return state, nil
}

func (c *playwrightController) Tabs(ctx context.Context) ([]domain.TabInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabs := make([]domain.TabInfo, len(c.pages))
	for i, p := range c.pages {
		title, err := p.Title()
		if err != nil {
			c.log.Debug().Int("tab", i).Err(err).Msg("tab title unavailable")
			title = ""
		}
		tabs[i] = domain.TabInfo{Index: i, URL: p.URL(), Title: title}
	}
	return tabs, nil
}

func (c *playwrightController) SwitchTab(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.pages) {
		return fmt.Errorf("tab %d out of range", index)
	}
	c.active = index
	if err := c.page().BringToFront(); err != nil {
		return classify(fmt.Errorf("focusing tab %d: %w", index, err))
	}
	return nil
}

func (c *playwrightController) CloseTab(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index < 0 || index >= len(c.pages) {
		return fmt.Errorf("tab %d out of range", index)
	}

	if err := c.pages[index].Close(); err != nil {
		return classify(fmt.Errorf("closing tab %d: %w", index, err))
	}
	c.pages = append(c.pages[:index], c.pages[index+1:]...)

	switch {
	case len(c.pages) == 0:
		// Closing the last tab leaves a fresh blank one so the session
		// stays usable.
		page, err := c.btx.NewPage()
		if err != nil {
			return fmt.Errorf("opening replacement tab: %w", err)
		}
		page.SetDefaultTimeout(c.timeout)
		c.pages = []playwright.Page{page}
		c.active = 0
	case index < c.active:
		c.active--
	case c.active >= len(c.pages):
		c.active = len(c.pages) - 1
	}
	return nil
}

func (c *playwrightController) Content(ctx context.Context) (*domain.PageContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title, err := c.page().Title()
	if err != nil {
		return nil, classify(fmt.Errorf("reading title: %w", err))
	}
	rawText, err := c.page().Evaluate(`() => document.body ? document.body.innerText : ''`)
	if err != nil {
		return nil, classify(fmt.Errorf("reading page text: %w", err))
	}
	text, _ := rawText.(string)

	rawLinks, err := c.page().Evaluate(linkScanScript)
	if err != nil {
		return nil, classify(fmt.Errorf("reading page links: %w", err))
	}

	content := &domain.PageContent{
		URL:   c.page().URL(),
		Title: title,
		Text:  text,
	}
	if items, ok := rawLinks.([]interface{}); ok {
		for _, item := range items {
			m, _ := item.(map[string]interface{})
			link := domain.TabLink{Text: str(m, "text"), Href: str(m, "href")}
			if link.Href != "" {
				content.Links = append(content.Links, link)
			}
		}
	}
	return content, nil
}

func (c *playwrightController) Close(ctx context.Context) error {
	var errs []string
	if err := c.btx.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.browser.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing browser: %s", strings.Join(errs, "; "))
	}
	return nil
}

// classify maps driver-level timeouts onto the shared timeout error so
// callers can report them uniformly.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return fmt.Errorf("%w: %s", domain.ErrTimeout, err.Error())
	}
	return err
}

func str(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
