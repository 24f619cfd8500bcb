package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/browserdeck/browserdeck/internal/domain"
)

// TaskStore archives terminal tasks. Live tasks stay in memory (see
// internal/task); a task lands here when it reaches a terminal state, so
// its record survives process restarts and in-memory eviction.
type TaskStore struct {
	db *DB
}

// NewTaskStore creates the archive on db.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// Archive upserts a terminal task record.
func (s *TaskStore) Archive(task *domain.Task) error {
	_, err := s.db.sql.Exec(`
		INSERT INTO tasks (id, session_id, description, model, max_steps, status,
			result, error, steps_completed, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			steps_completed = excluded.steps_completed,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		task.ID, task.SessionID, task.Spec.Description, task.Spec.Model,
		task.Spec.MaxSteps, string(task.Status), task.Result, task.Error,
		task.StepsCompleted, formatTime(task.CreatedAt),
		nullableTime(task.StartedAt), nullableTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("archiving task %s: %w", task.ID, err)
	}
	return nil
}

// Get returns one archived task.
func (s *TaskStore) Get(id string) (*domain.Task, error) {
	row := s.db.sql.QueryRow(`
		SELECT id, session_id, description, model, max_steps, status,
			result, error, steps_completed, created_at, started_at, completed_at
		FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return task, nil
}

// Recent returns up to limit archived tasks, newest first.
func (s *TaskStore) Recent(limit int) ([]*domain.Task, error) {
	rows, err := s.db.sql.Query(`
		SELECT id, session_id, description, model, max_steps, status,
			result, error, steps_completed, created_at, started_at, completed_at
		FROM tasks ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteCompletedBefore removes archived tasks whose completion time is
// older than cutoff and returns how many were removed.
func (s *TaskStore) DeleteCompletedBefore(cutoff time.Time) (int, error) {
	res, err := s.db.sql.Exec(`DELETE FROM tasks WHERE completed_at IS NOT NULL AND completed_at < ?`,
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*domain.Task, error) {
	var (
		task      domain.Task
		status    string
		createdAt string
		startedAt sql.NullString
		doneAt    sql.NullString
	)
	err := row.Scan(&task.ID, &task.SessionID, &task.Spec.Description,
		&task.Spec.Model, &task.Spec.MaxSteps, &status, &task.Result,
		&task.Error, &task.StepsCompleted, &createdAt, &startedAt, &doneAt)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	task.CreatedAt = parseTime(createdAt)
	if startedAt.Valid {
		task.StartedAt = parseTime(startedAt.String)
	}
	if doneAt.Valid {
		task.CompletedAt = parseTime(doneAt.String)
	}
	return &task, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
