package outcome

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper runs the Outcome Collector's background sweep on a fixed interval
// (default: ~60s), cooperatively yielding between batches rather than
// holding the store's writer across an await point.
type Sweeper struct {
	collector *Collector
	logger    *slog.Logger
	interval  time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewSweeper constructs a Sweeper. It does nothing until Start is called.
func NewSweeper(collector *Collector, logger *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{collector: collector, logger: logger, interval: interval, done: make(chan struct{})}
}

// Start begins the background poll loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("outcome: sweeper Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	go s.loop(loopCtx)
}

// Stop cancels the poll loop and blocks until the current batch finishes or
// ctx expires. Safe to call multiple times.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cancelLoop != nil {
		s.cancelLoop()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("outcome: sweeper stop timed out")
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.once.Do(func() { close(s.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(context.Background(), s.interval)
			n, err := s.collector.SweepExpired(batchCtx)
			cancel()
			if err != nil {
				s.logger.Error("outcome: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("outcome: swept expired pending outcomes", "count", n)
			}
		}
	}
}
