package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/browserdeck/browserdeck/internal/domain"
)

// Fake is an in-memory Controller for tests. Tabs and navigation history
// are tracked for real; page content is whatever the test scripts into it.
type Fake struct {
	mu sync.Mutex

	// PageElements is returned by Elements (indices are reassigned).
	PageElements []domain.ElementInfo
	// Titles maps URLs to page titles; unset URLs title as the URL itself.
	Titles map[string]string
	// Text and PageLinks feed Content.
	Text      string
	PageLinks []domain.TabLink
	// Fail injects an error for the named operation ("navigate", "click",
	// "type", "key", "scroll", "back", "state", "tabs", "switch_tab",
	// "close_tab", "content", "close").
	Fail map[string]error
	// Delay is slept inside every command while holding the fake's lock,
	// which makes command overlap observable.
	Delay time.Duration

	tabs    []fakeTab
	active  int
	calls   []string
	typed   map[int]string
	clicked []int
	closed  bool
}

type fakeTab struct {
	url     string
	history []string
}

// NewFake returns a Fake with a single blank tab.
func NewFake() *Fake {
	return &Fake{
		tabs:  []fakeTab{{url: "about:blank"}},
		typed: map[int]string{},
	}
}

// StaticFactory returns a Factory that always hands out c.
func StaticFactory(c Controller) Factory {
	return func(context.Context, domain.SessionConfig) (Controller, error) {
		return c, nil
	}
}

// FakeFactory returns a Factory producing a fresh Fake per session and a
// pointer to the list of fakes it has created.
func FakeFactory() (Factory, *[]*Fake) {
	var created []*Fake
	var mu sync.Mutex
	factory := func(context.Context, domain.SessionConfig) (Controller, error) {
		f := NewFake()
		mu.Lock()
		created = append(created, f)
		mu.Unlock()
		return f, nil
	}
	return factory, &created
}

// fakeElementHandle records interactions back onto the owning Fake.
type fakeElementHandle struct {
	fake  *Fake
	index int
}

func (h fakeElementHandle) Click() error {
	h.fake.mu.Lock()
	defer h.fake.mu.Unlock()
	h.fake.clicked = append(h.fake.clicked, h.index)
	return nil
}

func (h fakeElementHandle) Fill(text string) error {
	h.fake.mu.Lock()
	defer h.fake.mu.Unlock()
	h.fake.typed[h.index] = text
	return nil
}

// Calls returns the ordered command log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Clicked returns the element indices clicked so far.
func (f *Fake) Clicked() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.clicked...)
}

// Typed returns the last text filled into the element at index.
func (f *Fake) Typed(index int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[index]
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ActiveURL returns the URL of the active tab.
func (f *Fake) ActiveURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[f.active].url
}

// begin records the call, applies the scripted delay, and returns the
// injected error for op, if any. The lock is held for the duration of the
// delay so overlapping commands are detectable as interleaved call logs.
func (f *Fake) begin(ctx context.Context, op string, detail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if detail != "" {
		f.calls = append(f.calls, op+" "+detail)
	} else {
		f.calls = append(f.calls, op)
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	return f.Fail[op]
}

func (f *Fake) title(url string) string {
	if t, ok := f.Titles[url]; ok {
		return t
	}
	return url
}

func (f *Fake) Navigate(ctx context.Context, url string, newTab bool) error {
	if err := f.begin(ctx, "navigate", url); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if newTab {
		f.tabs = append(f.tabs, fakeTab{url: url})
		f.active = len(f.tabs) - 1
		return nil
	}
	tab := &f.tabs[f.active]
	tab.history = append(tab.history, tab.url)
	tab.url = url
	return nil
}

func (f *Fake) Elements(ctx context.Context) ([]Element, error) {
	if err := f.begin(ctx, "elements", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	elements := make([]Element, len(f.PageElements))
	for i, info := range f.PageElements {
		info.Index = i
		elements[i] = Element{ElementInfo: info, handle: fakeElementHandle{fake: f, index: i}}
	}
	return elements, nil
}

func (f *Fake) Click(ctx context.Context, el Element) error {
	if err := f.begin(ctx, "click", fmt.Sprintf("%d", el.Index)); err != nil {
		return err
	}
	if el.handle == nil {
		return fmt.Errorf("element %d has no live handle", el.Index)
	}
	return el.handle.Click()
}

func (f *Fake) Type(ctx context.Context, el Element, text string) error {
	if err := f.begin(ctx, "type", fmt.Sprintf("%d", el.Index)); err != nil {
		return err
	}
	if el.handle == nil {
		return fmt.Errorf("element %d has no live handle", el.Index)
	}
	return el.handle.Fill(text)
}

func (f *Fake) PressKey(ctx context.Context, key string) error {
	return f.begin(ctx, "key", key)
}

func (f *Fake) Scroll(ctx context.Context, direction string) error {
	return f.begin(ctx, "scroll", direction)
}

func (f *Fake) GoBack(ctx context.Context) error {
	if err := f.begin(ctx, "back", ""); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tab := &f.tabs[f.active]
	if n := len(tab.history); n > 0 {
		tab.url = tab.history[n-1]
		tab.history = tab.history[:n-1]
	}
	return nil
}

func (f *Fake) State(ctx context.Context, includeScreenshot bool) (*domain.PageState, error) {
	if err := f.begin(ctx, "state", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state := &domain.PageState{
		URL:   f.tabs[f.active].url,
		Title: f.title(f.tabs[f.active].url),
		Tabs:  f.tabInfosLocked(),
	}
	for i, info := range f.PageElements {
		info.Index = i
		state.Elements = append(state.Elements, info)
	}
	if includeScreenshot {
		state.Screenshot = "ZmFrZS1zY3JlZW5zaG90" // "fake-screenshot"
	}
	return state, nil
}

func (f *Fake) Tabs(ctx context.Context) ([]domain.TabInfo, error) {
	if err := f.begin(ctx, "tabs", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabInfosLocked(), nil
}

func (f *Fake) tabInfosLocked() []domain.TabInfo {
	infos := make([]domain.TabInfo, len(f.tabs))
	for i, tab := range f.tabs {
		infos[i] = domain.TabInfo{Index: i, URL: tab.url, Title: f.title(tab.url)}
	}
	return infos
}

func (f *Fake) SwitchTab(ctx context.Context, index int) error {
	if err := f.begin(ctx, "switch_tab", fmt.Sprintf("%d", index)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.tabs) {
		return fmt.Errorf("tab %d out of range", index)
	}
	f.active = index
	return nil
}

func (f *Fake) CloseTab(ctx context.Context, index int) error {
	if err := f.begin(ctx, "close_tab", fmt.Sprintf("%d", index)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.tabs) {
		return fmt.Errorf("tab %d out of range", index)
	}
	f.tabs = append(f.tabs[:index], f.tabs[index+1:]...)
	switch {
	case len(f.tabs) == 0:
		f.tabs = []fakeTab{{url: "about:blank"}}
		f.active = 0
	case index < f.active:
		f.active--
	case f.active >= len(f.tabs):
		f.active = len(f.tabs) - 1
	}
	return nil
}

func (f *Fake) Content(ctx context.Context) (*domain.PageContent, error) {
	if err := f.begin(ctx, "content", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.PageContent{
		URL:   f.tabs[f.active].url,
		Title: f.title(f.tabs[f.active].url),
		Text:  f.Text,
		Links: append([]domain.TabLink(nil), f.PageLinks...),
	}, nil
}

func (f *Fake) Close(ctx context.Context) error {
	if err := f.begin(ctx, "close", ""); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
