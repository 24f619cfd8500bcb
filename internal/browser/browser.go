// Package browser defines the browser-control capability consumed by the
// session layer, plus its Playwright implementation. The capability drives
// exactly one browser context; serialization of commands is the caller's
// responsibility (see internal/session).
package browser

import (
	"context"

	"github.com/browserdeck/browserdeck/internal/domain"
)

// Element is one interactive element on the current page. The embedded
// ElementInfo is serializable; the unexported handle binds the element to
// the live DOM node for implementations that need it.
type Element struct {
	domain.ElementInfo

	handle elementHandle
}

// elementHandle abstracts the driver-level element reference so fakes can
// construct Elements without a real browser behind them.
type elementHandle interface {
	Click() error
	Fill(text string) error
}

// Controller is the browser-control capability for one browser context.
// Implementations are not safe for concurrent command submission.
type Controller interface {
	// Navigate loads url in the active tab, or appends and switches to a
	// new tab when newTab is set.
	Navigate(ctx context.Context, url string, newTab bool) error

	// Elements returns the interactive elements of the active tab in DOM
	// order. Indices are valid only until the next DOM change.
	Elements(ctx context.Context) ([]Element, error)

	// Click clicks an element previously returned by Elements.
	Click(ctx context.Context, el Element) error

	// Type fills text into an element previously returned by Elements.
	Type(ctx context.Context, el Element, text string) error

	// PressKey sends a keyboard key (e.g. "Enter", "F5") to the active tab.
	PressKey(ctx context.Context, key string) error

	// Scroll scrolls the active tab one viewport in the given direction
	// ("up" or "down").
	Scroll(ctx context.Context, direction string) error

	// GoBack navigates the active tab one entry back in history.
	GoBack(ctx context.Context) error

	// State snapshots the active tab: url, title, tabs, interactive
	// elements, and optionally a base64 PNG screenshot.
	State(ctx context.Context, includeScreenshot bool) (*domain.PageState, error)

	// Tabs lists all tabs in order.
	Tabs(ctx context.Context) ([]domain.TabInfo, error)

	// SwitchTab makes the tab at index the active one.
	SwitchTab(ctx context.Context, index int) error

	// CloseTab closes the tab at index, shifting subsequent indices down.
	CloseTab(ctx context.Context, index int) error

	// Content returns the textual content of the active tab for extraction.
	Content(ctx context.Context) (*domain.PageContent, error)

	// Close releases the browser context. The controller is unusable
	// afterward.
	Close(ctx context.Context) error
}

// Factory provisions a fresh Controller for a new session.
type Factory func(ctx context.Context, cfg domain.SessionConfig) (Controller, error)
