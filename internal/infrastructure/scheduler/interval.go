package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"NewsRAG/internal/ports"
)

// IntervalScheduler runs a job, waits for the interval after it completes and
// repeats. Runs never overlap. A non-positive interval runs the job once.
type IntervalScheduler struct {
	interval time.Duration
	location *time.Location
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ ports.Scheduler = (*IntervalScheduler)(nil)

// NewIntervalScheduler builds a scheduler. location is only used when logging the next run.
func NewIntervalScheduler(interval time.Duration, location *time.Location, logger *slog.Logger) *IntervalScheduler {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IntervalScheduler{interval: interval, location: location, logger: logger}
}

// Start launches the loop in the background. Starting twice is a no-op.
func (s *IntervalScheduler) Start(ctx context.Context, job func(context.Context, time.Time)) error {
	if job == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer cancel()

		for {
			job(runCtx, time.Now().In(s.location))
			if s.interval <= 0 || runCtx.Err() != nil {
				return
			}

			next := time.Now().Add(s.interval).In(s.location)
			s.logger.Info("next run scheduled", "at", next.Format(time.RFC3339), "interval", s.interval)

			timer := time.NewTimer(s.interval)
			select {
			case <-timer.C:
			case <-runCtx.Done():
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Done is closed once the loop has exited. It is nil before Start.
func (s *IntervalScheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop cancels the running job and waits for the loop to exit or ctx to expire.
func (s *IntervalScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
