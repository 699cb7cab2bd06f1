package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper prunes idle sessions on a cron schedule.
type Sweeper struct {
	store  *Store
	age    time.Duration
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper schedules pruning of sessions idle for longer than age.
// The schedule uses standard five-field cron syntax.
func NewSweeper(store *Store, schedule string, age time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:  store,
		age:    age,
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().Add(-s.age)
	n, err := s.store.Prune(context.Background(), cutoff)
	if err != nil {
		s.logger.Error("session retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned idle sessions", "count", n, "idle_for", s.age)
	}
}
