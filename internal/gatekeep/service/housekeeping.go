package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/metrics"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
)

// DefaultHousekeepingInterval applies when no positive interval is given.
const DefaultHousekeepingInterval = time.Hour

// HousekeepingService sweeps expired verification records on a fixed
// interval. A sweep runs as soon as the worker starts.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewHousekeepingService(store store.Store, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = DefaultHousekeepingInterval
	}
	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		Now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Stop must be called to release it.
func (s *HousekeepingService) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
	s.Logger.Info("housekeeping started", "interval", s.Interval)
}

// Stop cancels the loop and waits for an in-flight sweep. Safe to call more
// than once, and a no-op if Start never ran.
func (s *HousekeepingService) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
		s.Logger.Info("housekeeping stopped")
	})
}

func (s *HousekeepingService) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		_, _ = s.Cleanup(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cleanup deletes every verification that has expired and reports how many
// went away. One sweep never outlives the interval.
func (s *HousekeepingService) Cleanup(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Interval)
	defer cancel()

	started := s.Now()
	n, err := s.Store.Verifications().DeleteExpiredVerifications(ctx, started.UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.Logger.Error("housekeeping sweep failed", "err", err)
		}
		return 0, err
	}

	metrics.HousekeepingDeleted.Add(float64(n))
	if n > 0 {
		s.Logger.Info("housekeeping sweep", "deleted", n, "took", time.Since(started))
	}
	return n, nil
}
