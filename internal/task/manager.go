// Package task runs agent tasks asynchronously and keeps their pollable
// status records.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/session"
)

// Executor drives one task against a session. Implemented by
// internal/agent.
type Executor interface {
	Execute(ctx context.Context, sess *session.Handle, spec domain.TaskSpec, progress func(steps int)) (string, error)
}

// Archive persists terminal task records. Implemented by
// store.TaskStore; nil disables archiving.
type Archive interface {
	Archive(task *domain.Task) error
	Get(id string) (*domain.Task, error)
}

// Config tunes the manager.
type Config struct {
	// Timeout bounds each task's wall-clock execution.
	Timeout time.Duration

	// DefaultMaxSteps applies when a submission omits max_steps.
	DefaultMaxSteps int
}

// Manager owns the task table. Submissions return immediately; execution
// happens on a goroutine per task. Terminal records stay in memory until
// evicted and are archived for later lookup.
type Manager struct {
	cfg      Config
	registry *session.Registry
	exec     Executor
	archive  Archive
	log      *logging.Logger

	eventMu sync.Mutex
	onEvent func(domain.TaskEvent)

	mu    sync.Mutex
	tasks map[string]*domain.Task

	wg sync.WaitGroup
}

// NewManager builds a manager. archive may be nil.
func NewManager(cfg Config, registry *session.Registry, exec Executor, archive Archive, log *logging.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: registry,
		exec:     exec,
		archive:  archive,
		log:      log.Sub("task"),
		tasks:    make(map[string]*domain.Task),
	}
}

// OnEvent registers the sink for task status transitions. Events are
// delivered synchronously from the task goroutine.
func (m *Manager) OnEvent(fn func(domain.TaskEvent)) {
	m.eventMu.Lock()
	m.onEvent = fn
	m.eventMu.Unlock()
}

func (m *Manager) emit(task *domain.Task) {
	m.eventMu.Lock()
	fn := m.onEvent
	m.eventMu.Unlock()
	if fn != nil {
		fn(domain.TaskEvent{
			TaskID:    task.ID,
			SessionID: task.SessionID,
			Status:    task.Status,
			Error:     task.Error,
			At:        time.Now(),
		})
	}
}

func (m *Manager) validate(spec *domain.TaskSpec) error {
	if strings.TrimSpace(spec.Description) == "" {
		return fmt.Errorf("%w: task description is required", domain.ErrInvalidParameters)
	}
	if spec.MaxSteps < 0 {
		return fmt.Errorf("%w: max_steps must be positive", domain.ErrInvalidParameters)
	}
	if spec.MaxSteps == 0 {
		spec.MaxSteps = m.cfg.DefaultMaxSteps
	}
	return nil
}

// Submit queues spec against an existing session (or the lazily created
// default session when sessionID is empty) and returns the pending record.
func (m *Manager) Submit(ctx context.Context, sessionID string, spec domain.TaskSpec) (*domain.Task, error) {
	if err := m.validate(&spec); err != nil {
		return nil, err
	}
	sess, err := m.registry.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.start(sess, spec, false), nil
}

// SubmitEphemeral provisions a dedicated session for one task and tears it
// down when the task finishes, whatever the outcome. Used for retries that
// must not disturb existing sessions.
func (m *Manager) SubmitEphemeral(ctx context.Context, spec domain.TaskSpec, cfg domain.SessionConfig) (*domain.Task, error) {
	if err := m.validate(&spec); err != nil {
		return nil, err
	}
	sess, err := m.registry.Create(ctx, "", cfg)
	if err != nil {
		return nil, err
	}
	return m.start(sess, spec, true), nil
}

func (m *Manager) start(sess *session.Handle, spec domain.TaskSpec, ownsSession bool) *domain.Task {
	task := &domain.Task{
		ID:        uuid.NewString(),
		SessionID: sess.ID(),
		Spec:      spec,
		Status:    domain.TaskPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.log.Info().Str("task_id", task.ID).Str("session_id", sess.ID()).
		Int("max_steps", spec.MaxSteps).Msg("task submitted")
	m.emit(task)

	m.wg.Add(1)
	go m.run(task.ID, sess, spec, ownsSession)

	return snapshot(task)
}

// run executes one task to its terminal state. The execution context is
// detached from the submitting request; only the task timeout bounds it.
func (m *Manager) run(id string, sess *session.Handle, spec domain.TaskSpec, ownsSession bool) {
	defer m.wg.Done()

	ctx := context.Background()
	var cancel context.CancelFunc
	if m.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	if ownsSession {
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer closeCancel()
			if err := m.registry.Close(closeCtx, sess.ID()); err != nil {
				m.log.Warn().Str("session_id", sess.ID()).Err(err).Msg("ephemeral session close failed")
			}
		}()
	}

	m.transition(id, func(t *domain.Task) {
		t.Status = domain.TaskRunning
		t.StartedAt = time.Now()
	})

	result, err := m.execute(ctx, sess, spec, id)

	m.transition(id, func(t *domain.Task) {
		t.CompletedAt = time.Now()
		if err != nil {
			t.Status = domain.TaskFailed
			t.Error = err.Error()
			return
		}
		t.Status = domain.TaskCompleted
		t.Result = result
	})

	if err != nil {
		m.log.Warn().Str("task_id", id).Err(err).Msg("task failed")
	} else {
		m.log.Info().Str("task_id", id).Msg("task completed")
	}
}

// execute wraps the executor with panic recovery and timeout
// classification. A panicking executor fails the task, never the process.
func (m *Manager) execute(ctx context.Context, sess *session.Handle, spec domain.TaskSpec, id string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("task_id", id).Interface("panic", r).Msg("task panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	result, err = m.exec.Execute(ctx, sess, spec, func(steps int) {
		m.transition(id, func(t *domain.Task) { t.StepsCompleted = steps })
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: task exceeded %s", domain.ErrTimeout, m.cfg.Timeout)
	}
	return result, err
}

// transition mutates the task under the lock and emits an event when the
// status changed.
func (m *Manager) transition(id string, mutate func(*domain.Task)) {
	m.mu.Lock()
	task := m.tasks[id]
	if task == nil {
		m.mu.Unlock()
		return
	}
	before := task.Status
	mutate(task)
	changed := task.Status != before
	copied := snapshot(task)
	m.mu.Unlock()

	if changed {
		m.emit(copied)
		if copied.Status.Terminal() && m.archive != nil {
			if err := m.archive.Archive(copied); err != nil {
				m.log.Warn().Str("task_id", id).Err(err).Msg("task archive failed")
			}
		}
	}
}

// Get returns the task record, falling back to the archive for records
// already evicted from memory.
func (m *Manager) Get(id string) (*domain.Task, error) {
	m.mu.Lock()
	task := m.tasks[id]
	var copied *domain.Task
	if task != nil {
		copied = snapshot(task)
	}
	m.mu.Unlock()
	if copied != nil {
		return copied, nil
	}
	if m.archive != nil {
		return m.archive.Get(id)
	}
	return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
}

// List snapshots all in-memory tasks, newest first.
func (m *Manager) List() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := make([]*domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, snapshot(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks
}

// ActiveCount returns the number of tasks not yet in a terminal state.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// EvictTerminalBefore drops terminal in-memory records completed before
// cutoff. Archived copies remain retrievable through Get.
func (m *Manager) EvictTerminalBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, t := range m.tasks {
		if t.Status.Terminal() && t.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			evicted++
		}
	}
	return evicted
}

// Drain blocks until all running tasks finish or ctx expires.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func snapshot(t *domain.Task) *domain.Task {
	copied := *t
	return &copied
}
