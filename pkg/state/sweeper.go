package state

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is the db_cleanup_interval_in_hours default.
const DefaultCleanupInterval = time.Hour

// Evictor is anything holding entries that expire. *Store, *rp.Cache,
// *discovery.Service and *idtoken.Engine implement it.
type Evictor interface {
	EvictExpired(ctx context.Context) int
}

// Sweeper periodically calls EvictExpired on its evictors from a single
// background goroutine.
type Sweeper struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	names    []string
	evictors []Evictor
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper returns a stopped sweeper. A non-positive interval selects
// DefaultCleanupInterval.
func NewSweeper(interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{interval: interval, logger: logger}
}

// Register adds an evictor under name, used in logs.
func (s *Sweeper) Register(name string, e Evictor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.evictors = append(s.evictors, e)
}

// SweepOnce runs every evictor and returns the total evicted.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	s.mu.Lock()
	names := append([]string(nil), s.names...)
	evictors := append([]Evictor(nil), s.evictors...)
	s.mu.Unlock()

	total := 0
	for i, e := range evictors {
		n := e.EvictExpired(ctx)
		if n > 0 {
			s.logger.DebugContext(ctx, "evicted expired entries", "store", names[i], "count", n)
		}
		total += n
	}
	return total
}

// Start launches the sweep loop. It is a no-op when already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.InfoContext(ctx, "sweeper started", "interval", s.interval.String())
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// Stop ends the sweep loop and waits for it to exit, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
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
