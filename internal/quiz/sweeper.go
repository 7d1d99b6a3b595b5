package quiz

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically evicts expired answer keys from a Manager so that
// abandoned quizzes do not accumulate for the life of the process.
type Sweeper struct {
	manager *Manager
	every   time.Duration
	logger  *slog.Logger
}

// NewSweeper creates a Sweeper. If every is <= 0, it defaults to one minute.
func NewSweeper(manager *Manager, every time.Duration) *Sweeper {
	if every <= 0 {
		every = time.Minute
	}
	return &Sweeper{
		manager: manager,
		every:   every,
		logger:  slog.Default(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if removed := s.manager.Sweep(); removed > 0 {
			s.logger.Debug("expired quiz keys evicted", "count", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.every):
		}
	}
}
