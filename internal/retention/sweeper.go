// Package retention periodically evicts finished task records and idle
// sessions.
package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/browserdeck/browserdeck/internal/logging"
	"github.com/browserdeck/browserdeck/internal/session"
	"github.com/browserdeck/browserdeck/internal/task"
)

// TaskArchive prunes old archived task rows. Implemented by
// store.TaskStore; nil disables archive pruning.
type TaskArchive interface {
	DeleteCompletedBefore(cutoff time.Time) (int, error)
}

// Config tunes the sweeper.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// TaskRetention is how long terminal task records stay in memory.
	TaskRetention time.Duration

	// ArchiveRetention is how long archived task rows stay on disk.
	// Zero keeps them forever.
	ArchiveRetention time.Duration

	// SessionIdle is how long a session may sit without commands before
	// it is closed. Zero disables idle eviction.
	SessionIdle time.Duration
}

// Sweeper runs the retention schedule.
type Sweeper struct {
	cfg      Config
	registry *session.Registry
	tasks    *task.Manager
	archive  TaskArchive
	log      *logging.Logger
	cron     *cron.Cron
}

// NewSweeper builds a sweeper. archive may be nil.
func NewSweeper(cfg Config, registry *session.Registry, tasks *task.Manager, archive TaskArchive, log *logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Sweeper{
		cfg:      cfg,
		registry: registry,
		tasks:    tasks,
		archive:  archive,
		log:      log.Sub("retention"),
		cron:     cron.New(),
	}
}

// Start schedules the sweep and launches the cron runner.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("@every "+s.cfg.Interval.String(), func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("retention sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep performs one retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	if s.cfg.TaskRetention > 0 {
		if n := s.tasks.EvictTerminalBefore(now.Add(-s.cfg.TaskRetention)); n > 0 {
			s.log.Info().Int("evicted", n).Msg("terminal tasks evicted")
		}
	}

	if s.archive != nil && s.cfg.ArchiveRetention > 0 {
		n, err := s.archive.DeleteCompletedBefore(now.Add(-s.cfg.ArchiveRetention))
		if err != nil {
			s.log.Warn().Err(err).Msg("archive prune failed")
		} else if n > 0 {
			s.log.Info().Int("pruned", n).Msg("archived tasks pruned")
		}
	}

	if s.cfg.SessionIdle > 0 {
		if n := s.registry.CloseIdle(ctx, s.cfg.SessionIdle); n > 0 {
			s.log.Info().Int("closed", n).Msg("idle sessions closed")
		}
	}
}
