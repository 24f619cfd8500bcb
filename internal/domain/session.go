package domain

import "time"

// DefaultSessionID is the session used when an operation omits a session id.
// It is created lazily on first reference.
const DefaultSessionID = "default"

// SessionStatus is the lifecycle state of a browser session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionClosing SessionStatus = "closing"
	SessionClosed  SessionStatus = "closed"
)

// SessionConfig holds per-session browser settings, fixed at creation.
type SessionConfig struct {
	// Headless controls whether the browser runs without a visible window.
	Headless bool `json:"headless"`

	// AllowedDomains restricts navigation targets. Empty means unrestricted.
	// Entries match the exact host or any subdomain of it.
	AllowedDomains []string `json:"allowed_domains,omitempty"`

	// WaitBetweenActions is the delay inserted after each successful
	// browser command.
	WaitBetweenActions time.Duration `json:"wait_between_actions,omitempty"`
}

// SessionInfo is a point-in-time snapshot of one session, as returned by
// list operations. It is a copy, not a live view.
type SessionInfo struct {
	ID           string        `json:"session_id"`
	Config       SessionConfig `json:"config"`
	Status       SessionStatus `json:"status"`
	TabCount     int           `json:"tab_count"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// TabInfo describes one tab within a session. Index is the tab's zero-based
// position at the instant of the snapshot; closing a tab shifts subsequent
// indices down by one.
type TabInfo struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ElementInfo describes one interactive element on the current page,
// addressable by its zero-based index until the next DOM change.
type ElementInfo struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// PageState is the observable state of a session's active tab.
type PageState struct {
	URL        string        `json:"url"`
	Title      string        `json:"title"`
	Tabs       []TabInfo     `json:"tabs"`
	Elements   []ElementInfo `json:"interactive_elements"`
	Screenshot string        `json:"screenshot,omitempty"` // base64 PNG
}

// PageContent is the textual content of the active tab, used as extraction
// input.
type PageContent struct {
	URL   string    `json:"url"`
	Title string    `json:"title"`
	Text  string    `json:"text"`
	Links []TabLink `json:"links,omitempty"`
}

// TabLink is one hyperlink found on the page.
type TabLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}
