// Package session manages browser session lifecycle. A Handle serializes
// commands against one browser context; the Registry owns handle lifecycle
// and enforces the session cap.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/browserdeck/browserdeck/internal/browser"
	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
)

// Handle wraps one browser controller. Commands are serialized: a second
// command submitted while one is in flight blocks until the first finishes.
// All methods are safe for concurrent use.
type Handle struct {
	id  string
	cfg domain.SessionConfig

	mu   sync.Mutex // serializes commands against ctrl
	ctrl browser.Controller

	actionTimeout time.Duration
	log           *logging.Logger

	stateMu      sync.Mutex
	status       domain.SessionStatus
	createdAt    time.Time
	lastActivity time.Time
}

func newHandle(id string, cfg domain.SessionConfig, ctrl browser.Controller, actionTimeout time.Duration, log *logging.Logger) *Handle {
	now := time.Now()
	return &Handle{
		id:            id,
		cfg:           cfg,
		ctrl:          ctrl,
		actionTimeout: actionTimeout,
		log:           log,
		status:        domain.SessionActive,
		createdAt:     now,
		lastActivity:  now,
	}
}

// ID returns the session identifier.
func (h *Handle) ID() string { return h.id }

// Config returns the session's effective configuration.
func (h *Handle) Config() domain.SessionConfig { return h.cfg }

// LastActivity returns the time of the most recent command.
func (h *Handle) LastActivity() time.Time {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.lastActivity
}

// Info snapshots the session for listing. Tab count requires a round trip
// to the browser and shares the command lock with other commands.
func (h *Handle) Info(ctx context.Context) domain.SessionInfo {
	h.stateMu.Lock()
	info := domain.SessionInfo{
		ID:           h.id,
		Config:       h.cfg,
		Status:       h.status,
		CreatedAt:    h.createdAt,
		LastActivity: h.lastActivity,
	}
	h.stateMu.Unlock()

	if info.Status == domain.SessionActive {
		if tabs, err := h.Tabs(ctx); err == nil {
			info.TabCount = len(tabs)
		}
	}
	return info
}

func (h *Handle) touch() {
	h.stateMu.Lock()
	h.lastActivity = time.Now()
	h.stateMu.Unlock()
}

func (h *Handle) currentStatus() domain.SessionStatus {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.status
}

// run executes one command under the serialization lock with the action
// timeout applied. pause adds the configured inter-action delay after a
// successful command.
func (h *Handle) run(ctx context.Context, pause bool, fn func(ctx context.Context) error) error {
	if st := h.currentStatus(); st != domain.SessionActive {
		return fmt.Errorf("%w: session %s is %s", domain.ErrNotFound, h.id, st)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cmdCtx, cancel := context.WithTimeout(ctx, h.actionTimeout)
	defer cancel()

	err := fn(cmdCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: command exceeded %s", domain.ErrTimeout, h.actionTimeout)
		}
		return err
	}
	h.touch()
	if pause && h.cfg.WaitBetweenActions > 0 {
		time.Sleep(h.cfg.WaitBetweenActions)
	}
	return nil
}

// checkURL enforces the session's domain allow-list. An empty list allows
// everything; a listed domain also allows its subdomains.
func (h *Handle) checkURL(rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q", domain.ErrInvalidParameters, rawurl)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidParameters, u.Scheme)
	}
	if len(h.cfg.AllowedDomains) == 0 {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range h.cfg.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not in the session allow-list", domain.ErrDomainNotAllowed, host)
}

// Navigate loads url in the active tab, or in a new tab when newTab is set.
func (h *Handle) Navigate(ctx context.Context, rawurl string, newTab bool) error {
	if err := h.checkURL(rawurl); err != nil {
		return err
	}
	return h.run(ctx, true, func(ctx context.Context) error {
		return h.ctrl.Navigate(ctx, rawurl, newTab)
	})
}

// Click clicks the interactive element at index. The element list is
// re-read inside the same command slot, so the index refers to the page as
// it is now, not as it was when the caller last looked.
func (h *Handle) Click(ctx context.Context, index int) error {
	return h.run(ctx, true, func(ctx context.Context) error {
		el, err := h.elementAt(ctx, index)
		if err != nil {
			return err
		}
		return h.ctrl.Click(ctx, el)
	})
}

// Type fills text into the interactive element at index.
func (h *Handle) Type(ctx context.Context, index int, text string) error {
	return h.run(ctx, true, func(ctx context.Context) error {
		el, err := h.elementAt(ctx, index)
		if err != nil {
			return err
		}
		return h.ctrl.Type(ctx, el, text)
	})
}

func (h *Handle) elementAt(ctx context.Context, index int) (browser.Element, error) {
	elements, err := h.ctrl.Elements(ctx)
	if err != nil {
		return browser.Element{}, err
	}
	if index < 0 || index >= len(elements) {
		// Indices go stale whenever the DOM changes; the caller is
		// expected to re-read state and retry.
		return browser.Element{}, fmt.Errorf("%w: element index %d out of range (page has %d interactive elements)",
			domain.ErrNotFound, index, len(elements))
	}
	return elements[index], nil
}

// PressKey sends a keyboard key to the active tab.
func (h *Handle) PressKey(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", domain.ErrInvalidParameters)
	}
	return h.run(ctx, true, func(ctx context.Context) error {
		return h.ctrl.PressKey(ctx, key)
	})
}

// Scroll scrolls the active tab one viewport up or down.
func (h *Handle) Scroll(ctx context.Context, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("%w: direction must be \"up\" or \"down\", got %q", domain.ErrInvalidParameters, direction)
	}
	return h.run(ctx, true, func(ctx context.Context) error {
		return h.ctrl.Scroll(ctx, direction)
	})
}

// GoBack navigates the active tab one history entry back.
func (h *Handle) GoBack(ctx context.Context) error {
	return h.run(ctx, true, func(ctx context.Context) error {
		return h.ctrl.GoBack(ctx)
	})
}

// State snapshots the active tab.
func (h *Handle) State(ctx context.Context, includeScreenshot bool) (*domain.PageState, error) {
	var state *domain.PageState
	err := h.run(ctx, false, func(ctx context.Context) error {
		var err error
		state, err = h.ctrl.State(ctx, includeScreenshot)
		return err
	})
	return state, err
}

// Tabs lists the session's tabs.
func (h *Handle) Tabs(ctx context.Context) ([]domain.TabInfo, error) {
	var tabs []domain.TabInfo
	err := h.run(ctx, false, func(ctx context.Context) error {
		var err error
		tabs, err = h.ctrl.Tabs(ctx)
		return err
	})
	return tabs, err
}

// SwitchTab activates the tab at index.
func (h *Handle) SwitchTab(ctx context.Context, index int) error {
	return h.run(ctx, false, func(ctx context.Context) error {
		if err := h.checkTabIndex(ctx, index); err != nil {
			return err
		}
		return h.ctrl.SwitchTab(ctx, index)
	})
}

// CloseTab closes the tab at index. Later tabs shift down one index.
func (h *Handle) CloseTab(ctx context.Context, index int) error {
	return h.run(ctx, false, func(ctx context.Context) error {
		if err := h.checkTabIndex(ctx, index); err != nil {
			return err
		}
		return h.ctrl.CloseTab(ctx, index)
	})
}

func (h *Handle) checkTabIndex(ctx context.Context, index int) error {
	tabs, err := h.ctrl.Tabs(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(tabs) {
		return fmt.Errorf("%w: tab index %d out of range (session has %d tabs)",
			domain.ErrNotFound, index, len(tabs))
	}
	return nil
}

// Content returns the active tab's textual content.
func (h *Handle) Content(ctx context.Context) (*domain.PageContent, error) {
	var content *domain.PageContent
	err := h.run(ctx, false, func(ctx context.Context) error {
		var err error
		content, err = h.ctrl.Content(ctx)
		return err
	})
	return content, err
}

// close releases the browser context. Idempotent; called by the Registry.
// A failing release is logged, not surfaced: once the registry entry is
// gone the session is closed as far as callers are concerned.
func (h *Handle) close(ctx context.Context) {
	h.stateMu.Lock()
	if h.status != domain.SessionActive {
		h.stateMu.Unlock()
		return
	}
	h.status = domain.SessionClosing
	h.stateMu.Unlock()

	// Take the command lock so an in-flight command finishes first.
	h.mu.Lock()
	err := h.ctrl.Close(ctx)
	h.mu.Unlock()

	h.stateMu.Lock()
	h.status = domain.SessionClosed
	h.stateMu.Unlock()

	if err != nil {
		h.log.Warn().Str("session_id", h.id).Err(err).Msg("browser close reported error")
	}
}
