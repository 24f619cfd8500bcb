package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/browserdeck/browserdeck/internal/browser"
	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
)

// Registry owns all live session handles. Session slots are bounded: when
// the cap is reached, creating another session fails rather than queueing.
type Registry struct {
	factory       browser.Factory
	base          domain.SessionConfig
	actionTimeout time.Duration
	log           *logging.Logger

	slots *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Handle
}

// NewRegistry builds a registry. base is the configuration applied to
// sessions that do not override it (including the lazily created default
// session); maxSessions caps concurrent live sessions.
func NewRegistry(factory browser.Factory, base domain.SessionConfig, maxSessions int, actionTimeout time.Duration, log *logging.Logger) *Registry {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Registry{
		factory:       factory,
		base:          base,
		actionTimeout: actionTimeout,
		log:           log.Sub("session"),
		slots:         semaphore.NewWeighted(int64(maxSessions)),
		sessions:      make(map[string]*Handle),
	}
}

// BaseConfig returns the configuration new sessions start from.
func (r *Registry) BaseConfig() domain.SessionConfig { return r.base }

// Create provisions a new session. An empty id gets a generated one. The
// id "default" is reserved for the lazily created default session.
func (r *Registry) Create(ctx context.Context, id string, cfg domain.SessionConfig) (*Handle, error) {
	if id == "" {
		id = uuid.NewString()
	} else if id == domain.DefaultSessionID {
		return nil, fmt.Errorf("%w: session id %q is reserved", domain.ErrInvalidParameters, id)
	}
	return r.create(ctx, id, cfg)
}

func (r *Registry) create(ctx context.Context, id string, cfg domain.SessionConfig) (*Handle, error) {
	if !r.slots.TryAcquire(1) {
		return nil, fmt.Errorf("%w: session limit reached", domain.ErrConflict)
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		r.slots.Release(1)
		return nil, fmt.Errorf("%w: session %s already exists", domain.ErrConflict, id)
	}
	// Reserve the id before the (slow) browser launch so concurrent
	// creates with the same id fail fast.
	r.sessions[id] = nil
	r.mu.Unlock()

	ctrl, err := r.factory(ctx, cfg)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		r.slots.Release(1)
		return nil, fmt.Errorf("%w: %v", domain.ErrProvisioning, err)
	}

	h := newHandle(id, cfg, ctrl, r.actionTimeout, r.log)
	r.mu.Lock()
	r.sessions[id] = h
	r.mu.Unlock()

	r.log.Info().Str("session_id", id).Bool("headless", cfg.Headless).
		Int("allowed_domains", len(cfg.AllowedDomains)).Msg("session created")
	return h, nil
}

// Get returns the handle for id, or NotFound. A session still being
// provisioned by a concurrent Create is reported as NotFound.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.Lock()
	h := r.sessions[id]
	r.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	return h, nil
}

// Resolve returns the handle for id, creating the default session on first
// reference when id is empty or "default".
func (r *Registry) Resolve(ctx context.Context, id string) (*Handle, error) {
	if id == "" {
		id = domain.DefaultSessionID
	}
	if id != domain.DefaultSessionID {
		return r.Get(id)
	}
	if h, err := r.Get(id); err == nil {
		return h, nil
	}
	h, err := r.create(ctx, domain.DefaultSessionID, r.base)
	if err == nil {
		return h, nil
	}
	// Lost a race with another request creating the default session.
	if h2, getErr := r.Get(domain.DefaultSessionID); getErr == nil {
		return h2, nil
	}
	return nil, err
}

// List snapshots all sessions, ordered by id.
func (r *Registry) List(ctx context.Context) []domain.SessionInfo {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.sessions))
	for _, h := range r.sessions {
		if h != nil {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	infos := make([]domain.SessionInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info(ctx))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.sessions {
		if h != nil {
			n++
		}
	}
	return n
}

// Close tears down the session with id. Closing an unknown session is
// NotFound; closing twice is NotFound the second time. A failing browser
// release does not fail the close: the entry is already removed and the
// handle logs the error.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	h := r.sessions[id]
	if h != nil {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if h == nil {
		return fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}

	h.close(ctx)
	r.slots.Release(1)
	r.log.Info().Str("session_id", id).Msg("session closed")
	return nil
}

// CloseIdle closes sessions whose last activity is older than maxIdle and
// returns how many were closed. The default session is swept like any other;
// it comes back on next use.
func (r *Registry) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var stale []string
	for id, h := range r.sessions {
		if h != nil && h.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	closed := 0
	for _, id := range stale {
		if err := r.Close(ctx, id); err == nil {
			closed++
			r.log.Info().Str("session_id", id).Dur("max_idle", maxIdle).Msg("idle session closed")
		}
	}
	return closed
}

// CloseAll tears down every session. Used on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id, h := range r.sessions {
		if h != nil {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		// NotFound here means a concurrent close got there first.
		_ = r.Close(ctx, id)
	}
}
