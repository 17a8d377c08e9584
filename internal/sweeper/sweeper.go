// Package sweeper periodically deletes expired challenges, refresh records and staged details.
// Expiry is always also checked on access; sweeping only bounds storage growth.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task is one named cleanup returning how many entries it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Sweeper runs its tasks on a fixed interval.
type Sweeper struct {
	tasks    []Task
	interval time.Duration
	logger   *zap.Logger
}

// New returns a Sweeper. Tasks with a nil Run are skipped.
func New(interval time.Duration, logger *zap.Logger, tasks ...Task) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{interval: interval, logger: logger}
	for _, t := range tasks {
		if t.Run != nil {
			s.tasks = append(s.tasks, t)
		}
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || len(s.tasks) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs every task once. A failing task is logged and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) map[string]int {
	removed := make(map[string]int, len(s.tasks))
	for _, t := range s.tasks {
		n, err := t.Run(ctx)
		if err != nil {
			s.logger.Warn("sweep failed", zap.String("task", t.Name), zap.Error(err))
			continue
		}
		removed[t.Name] = n
		if n > 0 {
			s.logger.Debug("swept expired entries", zap.String("task", t.Name), zap.Int("removed", n))
		}
	}
	return removed
}
