package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserdeck/browserdeck/internal/browser"
	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
)

func testHandle(t *testing.T, fake *browser.Fake, cfg domain.SessionConfig) *Handle {
	t.Helper()
	return newHandle("s1", cfg, fake, 5*time.Second, logging.Nop())
}

func TestHandleAllowList(t *testing.T) {
	ctx := context.Background()
	fake := browser.NewFake()
	h := testHandle(t, fake, domain.SessionConfig{
		AllowedDomains: []string{"example.com"},
	})

	require.NoError(t, h.Navigate(ctx, "https://example.com/", false))
	require.NoError(t, h.Navigate(ctx, "https://docs.example.com/guide", false))

	err := h.Navigate(ctx, "https://evil.test/", false)
	assert.ErrorIs(t, err, domain.ErrDomainNotAllowed)

	// Suffix matching must not allow lookalike hosts.
	err = h.Navigate(ctx, "https://notexample.com/", false)
	assert.ErrorIs(t, err, domain.ErrDomainNotAllowed)

	// Blocked navigations never reach the browser.
	assert.NotContains(t, fake.Calls(), "navigate https://evil.test/")
}

func TestHandleRejectsNonHTTPSchemes(t *testing.T) {
	h := testHandle(t, browser.NewFake(), domain.SessionConfig{})

	err := h.Navigate(context.Background(), "file:///etc/passwd", false)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestHandleClickValidatesIndexAgainstFreshScan(t *testing.T) {
	ctx := context.Background()
	fake := browser.NewFake()
	fake.PageElements = []domain.ElementInfo{
		{Tag: "a", Text: "Home"},
		{Tag: "button", Text: "Submit"},
	}
	h := testHandle(t, fake, domain.SessionConfig{})

	require.NoError(t, h.Click(ctx, 1))
	assert.Equal(t, []int{1}, fake.Clicked())

	// Stale or out-of-range indices are NotFound: the element may have
	// existed a moment ago, so the caller re-reads state and retries.
	err := h.Click(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = h.Click(ctx, -1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleTypeFillsElement(t *testing.T) {
	fake := browser.NewFake()
	fake.PageElements = []domain.ElementInfo{{Tag: "input", Placeholder: "Search"}}
	h := testHandle(t, fake, domain.SessionConfig{})

	require.NoError(t, h.Type(context.Background(), 0, "golang"))
	assert.Equal(t, "golang", fake.Typed(0))
}

func TestHandleScrollValidatesDirection(t *testing.T) {
	h := testHandle(t, browser.NewFake(), domain.SessionConfig{})

	require.NoError(t, h.Scroll(context.Background(), "down"))
	err := h.Scroll(context.Background(), "sideways")
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestHandleTabIndexValidation(t *testing.T) {
	ctx := context.Background()
	fake := browser.NewFake()
	h := testHandle(t, fake, domain.SessionConfig{})

	require.NoError(t, h.Navigate(ctx, "https://a.example/", false))
	require.NoError(t, h.Navigate(ctx, "https://b.example/", true))

	require.NoError(t, h.SwitchTab(ctx, 0))
	assert.ErrorIs(t, h.SwitchTab(ctx, 7), domain.ErrNotFound)
	assert.ErrorIs(t, h.CloseTab(ctx, -1), domain.ErrNotFound)

	require.NoError(t, h.CloseTab(ctx, 1))
	tabs, err := h.Tabs(ctx)
	require.NoError(t, err)
	assert.Len(t, tabs, 1)
}

func TestHandleSerializesCommands(t *testing.T) {
	fake := browser.NewFake()
	fake.Delay = 40 * time.Millisecond
	h := testHandle(t, fake, domain.SessionConfig{})

	start := time.Now()
	done := make(chan error, 2)
	go func() { done <- h.Scroll(context.Background(), "down") }()
	go func() { done <- h.Scroll(context.Background(), "down") }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	// Two 40ms commands on one session cannot overlap.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestHandleMapsDeadlineToTimeout(t *testing.T) {
	fake := browser.NewFake()
	fake.Fail = map[string]error{"navigate": context.DeadlineExceeded}
	h := testHandle(t, fake, domain.SessionConfig{})

	err := h.Navigate(context.Background(), "https://a.example/", false)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestHandleRejectsCommandsAfterClose(t *testing.T) {
	ctx := context.Background()
	fake := browser.NewFake()
	h := testHandle(t, fake, domain.SessionConfig{})

	h.close(ctx)
	assert.True(t, fake.Closed())

	err := h.Scroll(ctx, "down")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Closing again is a no-op.
	h.close(ctx)
	assert.Equal(t, 1, closeCalls(fake))
}

func closeCalls(fake *browser.Fake) int {
	n := 0
	for _, call := range fake.Calls() {
		if call == "close" {
			n++
		}
	}
	return n
}

func TestHandleFailedCommandDoesNotBumpActivity(t *testing.T) {
	ctx := context.Background()
	fake := browser.NewFake()
	fake.Fail = map[string]error{"scroll": assert.AnError}
	h := testHandle(t, fake, domain.SessionConfig{})

	before := h.LastActivity()
	time.Sleep(5 * time.Millisecond)

	require.Error(t, h.Scroll(ctx, "down"))
	assert.Equal(t, before, h.LastActivity())

	// A successful command moves the timestamp forward.
	require.NoError(t, h.PressKey(ctx, "Enter"))
	assert.True(t, h.LastActivity().After(before))
}

func TestHandleAppliesWaitBetweenActions(t *testing.T) {
	fake := browser.NewFake()
	h := testHandle(t, fake, domain.SessionConfig{WaitBetweenActions: 30 * time.Millisecond})

	start := time.Now()
	require.NoError(t, h.Scroll(context.Background(), "down"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// Read-only commands skip the pause.
	start = time.Now()
	_, err := h.Tabs(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 30*time.Millisecond)
}
