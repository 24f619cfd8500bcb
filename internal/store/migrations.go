package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create task archive",
		SQL: `
			CREATE TABLE tasks (
				id              TEXT PRIMARY KEY,
				session_id      TEXT NOT NULL,
				description     TEXT NOT NULL,
				model           TEXT NOT NULL DEFAULT '',
				max_steps       INTEGER NOT NULL,
				status          TEXT NOT NULL,
				result          TEXT NOT NULL DEFAULT '',
				error           TEXT NOT NULL DEFAULT '',
				steps_completed INTEGER NOT NULL DEFAULT 0,
				created_at      TEXT NOT NULL,
				started_at      TEXT,
				completed_at    TEXT
			);

			CREATE INDEX idx_tasks_session ON tasks (session_id);
			CREATE INDEX idx_tasks_completed ON tasks (completed_at);
		`,
	},
}
