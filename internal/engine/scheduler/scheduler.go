// Package scheduler dispatches ready buckets to the poll worker on a fixed
// tick, bounding concurrency and giving each bucket its own cooldown so a
// slow bucket never blocks the rest of the window (spec §4.D).
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/metric"

	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
	"github.com/resy-watch/discovery-engine/internal/engine/bucketid"
	"github.com/resy-watch/discovery-engine/internal/engine/pollworker"
	"github.com/resy-watch/discovery-engine/internal/provider"
	"github.com/resy-watch/discovery-engine/internal/telemetry"
)

// Config controls dispatch pacing (spec §6 external interfaces).
type Config struct {
	TickInterval      time.Duration
	BucketCooldown    time.Duration
	MaxConcurrent     int
	WindowDays        int
	TimeSlots         []string
	ProviderID        string
	PruneEveryNTicks  int
}

// Retention is the subset of the retention manager the scheduler drives on
// its own tick, kept narrow so tests can fake it.
type Retention interface {
	PruneTick(ctx context.Context, windowStart string, tickCount int) error
}

// Scheduler owns the per-bucket next-run/in-flight bookkeeping and dispatches
// ready buckets into a bounded worker pool every tick.
type Scheduler struct {
	cfg       Config
	worker    *pollworker.Worker
	buckets   bucketstore.Store
	providers *provider.Registry
	retention Retention
	logger    *log.Logger

	mu        sync.Mutex
	nextRun   map[string]time.Time
	inFlight  map[string]struct{}
	tickCount int

	pool         *pool.Pool
	tickDuration metric.Float64Histogram
}

// New constructs a Scheduler. The dispatch pool is created once and reused
// across ticks: a fresh pool per tick would only bound concurrency within
// that tick, letting overlapping ticks exceed MaxConcurrent when a poll runs
// longer than TickInterval (spec §4.D step 4, §5 connection budget).
func New(cfg Config, worker *pollworker.Worker, buckets bucketstore.Store, providers *provider.Registry, retention Retention, logger *log.Logger) *Scheduler {
	meter := telemetry.Meter("engine.scheduler")
	hist, _ := meter.Float64Histogram("discovery.scheduler.tick.duration",
		metric.WithDescription("Wall-clock duration of one scheduler tick, in milliseconds"),
		metric.WithUnit("ms"))
	return &Scheduler{
		cfg:          cfg,
		worker:       worker,
		buckets:      buckets,
		providers:    providers,
		retention:    retention,
		logger:       logger,
		nextRun:      make(map[string]time.Time),
		inFlight:     make(map[string]struct{}),
		pool:         pool.New().WithMaxGoroutines(cfg.MaxConcurrent),
		tickDuration: hist,
	}
}

// Wait blocks until every dispatched bucket poll has finished. Call during
// shutdown after Run's context has been cancelled.
func (s *Scheduler) Wait() {
	s.pool.Wait()
}

// Run blocks, ticking every cfg.TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, windowStart time.Time) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx, windowStart); err != nil && s.logger != nil {
				s.logger.Printf("scheduler tick: %v", err)
			}
		}
	}
}

// Tick ensures the active window's buckets exist, runs the lightweight
// retention pass, and dispatches up to MaxConcurrent ready buckets into the
// worker pool. It does not wait for them to finish; each dispatched bucket
// re-enqueues itself (sets next_run_after) when its poll completes.
func (s *Scheduler) Tick(ctx context.Context, windowStart time.Time) error {
	started := time.Now()
	defer func() {
		if s.tickDuration != nil {
			s.tickDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
		}
	}()

	anchors := bucketid.AllAnchors(windowStart, s.cfg.WindowDays, s.cfg.TimeSlots)

	bucketAnchors := make([]bucketstore.Anchor, 0, len(anchors))
	for _, a := range anchors {
		bucketAnchors = append(bucketAnchors, bucketstore.Anchor{DateStr: a.DateStr, TimeSlot: a.TimeSlot})
	}
	if err := s.buckets.EnsureBuckets(ctx, s.worker.DB.Pool, bucketAnchors); err != nil {
		return err
	}

	if s.retention != nil {
		s.tickCount++
		if err := s.retention.PruneTick(ctx, windowStart.Format("2006-01-02"), s.tickCount); err != nil && s.logger != nil {
			s.logger.Printf("retention prune tick: %v", err)
		}
		if s.tickCount >= s.cfg.PruneEveryNTicks {
			s.tickCount = 0
		}
	}

	adapter, err := s.providers.Get(s.cfg.ProviderID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ready := s.claimReady(anchors, now)
	if len(ready) == 0 {
		return nil
	}

	for _, a := range ready {
		a := a
		s.pool.Go(func() {
			s.runBucket(ctx, a, adapter)
		})
	}

	return nil
}

// claimReady returns the anchors that are not in flight and whose cooldown
// has elapsed, capped at MaxConcurrent minus the polls still in flight,
// marking them in-flight before return.
func (s *Scheduler) claimReady(anchors []bucketid.Anchor, now time.Time) []bucketid.Anchor {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		current[a.BucketID] = struct{}{}
	}
	for bid := range s.nextRun {
		if _, ok := current[bid]; !ok {
			delete(s.nextRun, bid)
		}
	}

	sorted := make([]bucketid.Anchor, len(anchors))
	copy(sorted, anchors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BucketID < sorted[j].BucketID })

	// Budget is N minus whatever's still running from prior ticks, not a flat
	// N per tick (spec §4.D step 4: min(|ready|, N - |in_flight|)).
	budget := s.cfg.MaxConcurrent - len(s.inFlight)
	ready := make([]bucketid.Anchor, 0, budget)
	for _, a := range sorted {
		if len(ready) >= budget {
			break
		}
		if _, inFlight := s.inFlight[a.BucketID]; inFlight {
			continue
		}
		due, seen := s.nextRun[a.BucketID]
		if seen && due.After(now) {
			continue
		}
		s.inFlight[a.BucketID] = struct{}{}
		ready = append(ready, a)
	}
	return ready
}

func (s *Scheduler) runBucket(ctx context.Context, a bucketid.Anchor, adapter provider.Adapter) {
	now := time.Now().UTC()
	_, err := s.worker.Poll(ctx, a, adapter)
	if err != nil && s.logger != nil {
		s.logger.Printf("bucket %s failed: %v", a.BucketID, err)
	}

	s.mu.Lock()
	delete(s.inFlight, a.BucketID)
	s.nextRun[a.BucketID] = now.Add(s.cfg.BucketCooldown)
	s.mu.Unlock()
}
