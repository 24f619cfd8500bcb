package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserdeck/browserdeck/internal/domain"
	"github.com/browserdeck/browserdeck/internal/logging"
)

func testStore(t *testing.T) *TaskStore {
	t.Helper()
	db, err := Open(":memory:", logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTaskStore(db)
}

func sampleTask(id string, status domain.TaskStatus, completedAt time.Time) *domain.Task {
	return &domain.Task{
		ID:        id,
		SessionID: "s1",
		Spec: domain.TaskSpec{
			Description: "find the docs",
			MaxSteps:    20,
			Model:       "gpt-4o",
		},
		Status:         status,
		Result:         "found them",
		StepsCompleted: 4,
		CreatedAt:      completedAt.Add(-time.Minute),
		StartedAt:      completedAt.Add(-50 * time.Second),
		CompletedAt:    completedAt,
	}
}

func TestTaskStoreArchiveAndGet(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.Archive(sampleTask("t1", domain.TaskCompleted, now)))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "find the docs", got.Spec.Description)
	assert.Equal(t, 20, got.Spec.MaxSteps)
	assert.Equal(t, domain.TaskCompleted, got.Status)
	assert.Equal(t, "found them", got.Result)
	assert.Equal(t, 4, got.StepsCompleted)
	assert.True(t, got.CompletedAt.Equal(now))
}

func TestTaskStoreGetMissing(t *testing.T) {
	s := testStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTaskStoreArchiveIsUpsert(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	task := sampleTask("t1", domain.TaskCompleted, now)
	require.NoError(t, s.Archive(task))

	task.Status = domain.TaskFailed
	task.Result = ""
	task.Error = "browser crashed"
	require.NoError(t, s.Archive(task))

	got, err := s.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Equal(t, "browser crashed", got.Error)
}

func TestTaskStoreRecentOrdering(t *testing.T) {
	s := testStore(t)
	base := time.Now().UTC()

	require.NoError(t, s.Archive(sampleTask("old", domain.TaskCompleted, base.Add(-time.Hour))))
	require.NoError(t, s.Archive(sampleTask("new", domain.TaskCompleted, base)))

	tasks, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "new", tasks[0].ID)
	assert.Equal(t, "old", tasks[1].ID)

	tasks, err = s.Recent(1)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestTaskStoreDeleteCompletedBefore(t *testing.T) {
	s := testStore(t)
	base := time.Now().UTC()

	require.NoError(t, s.Archive(sampleTask("stale", domain.TaskCompleted, base.Add(-2*time.Hour))))
	require.NoError(t, s.Archive(sampleTask("fresh", domain.TaskFailed, base)))

	n, err := s.DeleteCompletedBefore(base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get("stale")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get("fresh")
	assert.NoError(t, err)
}
