package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserdeck/browserdeck/internal/browser"
	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/session"
)

type fakeExec struct {
	fn func(ctx context.Context, sess *session.Handle, spec domain.TaskSpec, progress func(int)) (string, error)
}

func (f *fakeExec) Execute(ctx context.Context, sess *session.Handle, spec domain.TaskSpec, progress func(int)) (string, error) {
	return f.fn(ctx, sess, spec, progress)
}

type memArchive struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newMemArchive() *memArchive {
	return &memArchive{tasks: map[string]*domain.Task{}}
}

func (a *memArchive) Archive(task *domain.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := *task
	a.tasks[task.ID] = &copied
	return nil
}

func (a *memArchive) Get(id string) (*domain.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok := a.tasks[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
}

func testManager(t *testing.T, cfg Config, exec Executor, archive Archive) (*Manager, *session.Registry) {
	t.Helper()
	factory, _ := browser.FakeFactory()
	registry := session.NewRegistry(factory, domain.SessionConfig{}, 10, 5*time.Second, logging.Nop())
	t.Cleanup(func() { registry.CloseAll(context.Background()) })
	if cfg.DefaultMaxSteps == 0 {
		cfg.DefaultMaxSteps = 50
	}
	return NewManager(cfg, registry, exec, archive, logging.Nop()), registry
}

func waitTerminal(t *testing.T, m *Manager, id string) *domain.Task {
	t.Helper()
	var got *domain.Task
	require.Eventually(t, func() bool {
		task, err := m.Get(id)
		if err != nil {
			return false
		}
		got = task
		return task.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestSubmitRunsToCompletion(t *testing.T) {
	exec := &fakeExec{fn: func(ctx context.Context, sess *session.Handle, spec domain.TaskSpec, progress func(int)) (string, error) {
		progress(1)
		progress(2)
		return "all done", nil
	}}
	m, registry := testManager(t, Config{Timeout: time.Second}, exec, nil)

	var events []domain.TaskEvent
	var eventsMu sync.Mutex
	m.OnEvent(func(e domain.TaskEvent) {
		eventsMu.Lock()
		events = append(events, e)
		eventsMu.Unlock()
	})

	task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "do the thing"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, domain.DefaultSessionID, task.SessionID)
	assert.Equal(t, 50, task.Spec.MaxSteps)

	// The default session came into being lazily.
	assert.Equal(t, 1, registry.Count())

	got := waitTerminal(t, m, task.ID)
	assert.Equal(t, domain.TaskCompleted, got.Status)
	assert.Equal(t, "all done", got.Result)
	assert.Equal(t, 2, got.StepsCompleted)
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.CompletedAt.IsZero())

	eventsMu.Lock()
	defer eventsMu.Unlock()
	var statuses []domain.TaskStatus
	for _, e := range events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskRunning, domain.TaskCompleted}, statuses)
}

func TestConcurrentSubmissionsStayIndependent(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExec{fn: func(_ context.Context, _ *session.Handle, spec domain.TaskSpec, _ func(int)) (string, error) {
		if spec.Description == "held" {
			<-release
		}
		return "ok", nil
	}}
	m, _ := testManager(t, Config{Timeout: 5 * time.Second}, exec, nil)

	const quick, held = 4, 4
	descriptions := make([]string, 0, quick+held)
	for i := 0; i < quick; i++ {
		descriptions = append(descriptions, "quick")
	}
	for i := 0; i < held; i++ {
		descriptions = append(descriptions, "held")
	}

	var wg sync.WaitGroup
	ids := make(chan string, len(descriptions))
	for _, desc := range descriptions {
		wg.Add(1)
		go func(desc string) {
			defer wg.Done()
			task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: desc})
			assert.NoError(t, err)
			ids <- task.ID
		}(desc)
	}
	wg.Wait()
	close(ids)

	// Every submission got its own id.
	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate task id %s", id)
		seen[id] = true
	}
	require.Len(t, seen, quick+held)

	// The quick tasks finish while the held ones are still in flight;
	// their completion must not disturb the held tasks' status.
	require.Eventually(t, func() bool {
		completed, running := 0, 0
		for id := range seen {
			got, err := m.Get(id)
			if err != nil {
				return false
			}
			switch got.Status {
			case domain.TaskCompleted:
				completed++
			case domain.TaskRunning:
				running++
			}
		}
		return completed == quick && running == held
	}, 2*time.Second, 5*time.Millisecond)

	// Each record is independently queryable and reports its own id.
	for id := range seen {
		got, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
	}

	close(release)
	for id := range seen {
		got := waitTerminal(t, m, id)
		assert.Equal(t, domain.TaskCompleted, got.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	m, _ := testManager(t, Config{}, &fakeExec{}, nil)

	_, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)

	_, err = m.Submit(context.Background(), "", domain.TaskSpec{Description: "x", MaxSteps: -2})
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestSubmitUnknownSession(t *testing.T) {
	m, _ := testManager(t, Config{}, &fakeExec{}, nil)

	_, err := m.Submit(context.Background(), "ghost", domain.TaskSpec{Description: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskFailureKeepsError(t *testing.T) {
	exec := &fakeExec{fn: func(context.Context, *session.Handle, domain.TaskSpec, func(int)) (string, error) {
		return "", errors.New("could not find the button")
	}}
	m, _ := testManager(t, Config{}, exec, nil)

	task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "x"})
	require.NoError(t, err)

	got := waitTerminal(t, m, task.ID)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Equal(t, "could not find the button", got.Error)
	assert.Empty(t, got.Result)
}

func TestTaskPanicBecomesFailure(t *testing.T) {
	exec := &fakeExec{fn: func(context.Context, *session.Handle, domain.TaskSpec, func(int)) (string, error) {
		panic("executor bug")
	}}
	m, _ := testManager(t, Config{}, exec, nil)

	task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "x"})
	require.NoError(t, err)

	got := waitTerminal(t, m, task.ID)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Contains(t, got.Error, "internal error")
	assert.Contains(t, got.Error, "executor bug")
}

func TestTaskTimeout(t *testing.T) {
	exec := &fakeExec{fn: func(ctx context.Context, _ *session.Handle, _ domain.TaskSpec, _ func(int)) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	m, _ := testManager(t, Config{Timeout: 30 * time.Millisecond}, exec, nil)

	task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "x"})
	require.NoError(t, err)

	got := waitTerminal(t, m, task.ID)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Contains(t, got.Error, "timed out")
}

func TestSubmitEphemeralClosesItsSession(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExec{fn: func(context.Context, *session.Handle, domain.TaskSpec, func(int)) (string, error) {
		<-release
		return "ok", nil
	}}
	m, registry := testManager(t, Config{Timeout: time.Second}, exec, nil)

	task, err := m.SubmitEphemeral(context.Background(), domain.TaskSpec{Description: "retry"}, domain.SessionConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, domain.DefaultSessionID, task.SessionID)
	assert.Equal(t, 1, registry.Count())

	close(release)
	waitTerminal(t, m, task.ID)
	require.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestGetFallsBackToArchiveAfterEviction(t *testing.T) {
	exec := &fakeExec{fn: func(context.Context, *session.Handle, domain.TaskSpec, func(int)) (string, error) {
		return "archived result", nil
	}}
	archive := newMemArchive()
	m, _ := testManager(t, Config{}, exec, archive)

	task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "x"})
	require.NoError(t, err)
	waitTerminal(t, m, task.ID)

	evicted := m.EvictTerminalBefore(time.Now().Add(time.Minute))
	assert.Equal(t, 1, evicted)

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "archived result", got.Result)
}

func TestGetUnknownTask(t *testing.T) {
	m, _ := testManager(t, Config{}, &fakeExec{}, nil)

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvictKeepsRunningTasks(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExec{fn: func(context.Context, *session.Handle, domain.TaskSpec, func(int)) (string, error) {
		<-release
		return "ok", nil
	}}
	m, _ := testManager(t, Config{Timeout: time.Second}, exec, nil)

	task, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := m.Get(task.ID)
		return err == nil && got.Status == domain.TaskRunning
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, m.EvictTerminalBefore(time.Now().Add(time.Minute)))
	close(release)
	waitTerminal(t, m, task.ID)
}

func TestDrainWaitsForTasks(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExec{fn: func(context.Context, *session.Handle, domain.TaskSpec, func(int)) (string, error) {
		<-release
		return "ok", nil
	}}
	m, _ := testManager(t, Config{Timeout: time.Second}, exec, nil)

	_, err := m.Submit(context.Background(), "", domain.TaskSpec{Description: "x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, m.Drain(ctx))

	close(release)
	assert.NoError(t, m.Drain(context.Background()))
}
