// Package retention prunes buckets, drop events, projection rows, and
// metrics once they fall outside the active window, and advances the window
// by one day (spec §4.E).
package retention

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/resy-watch/discovery-engine/errs"
	"github.com/resy-watch/discovery-engine/internal/domain/bucketstore"
	"github.com/resy-watch/discovery-engine/internal/domain/dropeventstore"
	"github.com/resy-watch/discovery-engine/internal/domain/metricsstore"
	"github.com/resy-watch/discovery-engine/internal/domain/notifystore"
	"github.com/resy-watch/discovery-engine/internal/domain/slotstore"
	"github.com/resy-watch/discovery-engine/internal/domain/statestore"
	"github.com/resy-watch/discovery-engine/internal/domain/venuestore"
	"github.com/resy-watch/discovery-engine/internal/engine/aggregate"
	"github.com/resy-watch/discovery-engine/internal/engine/bucketid"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
)

// Config mirrors the *_RETENTION_DAYS family of settings (spec §6).
type Config struct {
	DropEventsRetention  time.Duration
	NotificationsRetain  time.Duration
	MetricsRetentionDays int
	VenuesRetentionDays  int
	RollingMetricsKeepDays int
	WindowDays           int
	TimeSlots            []string
}

// Manager runs the scheduler's lightweight per-tick prune and the daily
// sliding-window advance.
type Manager struct {
	cfg           Config
	db            *db.Store
	buckets       bucketstore.Store
	slots         slotstore.Store
	drops         dropeventstore.Store
	state         statestore.Store
	venues        venuestore.Store
	metrics       metricsstore.Store
	notifications notifystore.Store
	logger        *log.Logger
}

// New constructs a Manager.
func New(cfg Config, store *db.Store, buckets bucketstore.Store, slots slotstore.Store, drops dropeventstore.Store, state statestore.Store, venues venuestore.Store, metrics metricsstore.Store, notifications notifystore.Store, logger *log.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		db:            store,
		buckets:       buckets,
		slots:         slots,
		drops:         drops,
		state:         state,
		venues:        venues,
		metrics:       metrics,
		notifications: notifications,
		logger:        logger,
	}
}

// rollingWindowDays is the width of the periodic rarity/trend rollup
// (ROLLING_WINDOW_DAYS in the original), distinct from cfg.WindowDays (the
// scheduler's active booking window).
const rollingWindowDays = 14

// runStep runs one independent prune step: a failure is classified and
// logged but never stops the remaining steps from running, so one bad table
// doesn't starve the rest of the daily job (spec §7.6).
func (m *Manager) runStep(name string, fn func() error, into *[]error) {
	if err := fn(); err != nil {
		wrapped := errs.New("retention", errs.CodeRetention, errs.WithCause(err), errs.WithField("step", name))
		*into = append(*into, wrapped)
		if m.logger != nil {
			m.logger.Printf("%v", wrapped)
		}
	}
}

// PruneTick runs the cheap prunes the scheduler drives on every tick:
// buckets on every tick, and drop events (outside the window, or pushed and
// older than DropEventsRetention) when tickCount is even. Projection and
// availability-state rows are not pruned here; SlidingWindow prunes them
// once a day (spec §4.D, §4.E).
func (m *Manager) PruneTick(ctx context.Context, windowStart string, tickCount int) error {
	var failures []error

	m.runStep("prune_buckets", func() error {
		_, err := m.buckets.DeleteBefore(ctx, m.db.Pool, windowStart)
		return err
	}, &failures)

	if tickCount%2 == 0 {
		m.runStep("prune_drop_events_by_window", func() error {
			_, err := m.drops.DeleteBucketPrefixBefore(ctx, m.db.Pool, windowStart)
			return err
		}, &failures)
		cutoff := time.Now().UTC().Add(-m.cfg.DropEventsRetention)
		m.runStep("prune_old_pushed_drop_events", func() error {
			_, err := m.drops.DeleteOlderPushed(ctx, m.db.Pool, cutoff)
			return err
		}, &failures)
	}

	return errors.Join(failures...)
}

// AggregateBeforePrune runs the periodic batch rollup over the last
// rollingWindowDays of venue_metrics, computing rarity and trend per venue
// and writing venue_rolling_metrics (spec §4.C).
// It runs before the daily prune so the rollup still sees the rows about to
// be deleted.
func (m *Manager) AggregateBeforePrune(ctx context.Context, windowDate string) error {
	asOf, err := time.Parse("2006-01-02", windowDate)
	if err != nil {
		return errs.New("retention", errs.CodeRetention, errs.WithCause(err), errs.WithMessage("parse window date"))
	}
	since := asOf.AddDate(0, 0, -rollingWindowDays).Format("2006-01-02")

	rows, err := m.metrics.ListVenueMetricsSince(ctx, since)
	if err != nil {
		return errs.New("retention", errs.CodeRetention, errs.WithCause(err), errs.WithMessage("list venue metrics for rollup"))
	}
	if len(rows) == 0 {
		return nil
	}

	byVenue := make(map[string][]metricsstore.VenueMetrics)
	order := make([]string, 0)
	for _, r := range rows {
		if _, ok := byVenue[r.VenueID]; !ok {
			order = append(order, r.VenueID)
		}
		byVenue[r.VenueID] = append(byVenue[r.VenueID], r)
	}
	histories := make([]aggregate.VenueHistory, 0, len(order))
	for _, vid := range order {
		histories = append(histories, aggregate.VenueHistory{VenueID: vid, Rows: byVenue[vid]})
	}

	rolling := aggregate.RollingMetrics(histories, windowDate, rollingWindowDays)
	if len(rolling) == 0 {
		return nil
	}
	if err := m.metrics.UpsertVenueRollingMetrics(ctx, rolling); err != nil {
		return errs.New("retention", errs.CodeRetention, errs.WithCause(err), errs.WithMessage("upsert venue rolling metrics"))
	}
	return nil
}

// SlidingWindow runs the daily job: roll up rarity/trend metrics, drop stale
// rows across every table tied to the window, advance the window forward one
// day, and seed the new day's buckets (one per configured time slot) with an
// empty baseline so the next
// scheduler tick treats them as first-poll buckets (spec §4.E). Each step
// runs independently of the others' failures (spec §7.6).
func (m *Manager) SlidingWindow(ctx context.Context, today time.Time) error {
	windowStart := today.Format("2006-01-02")
	var failures []error

	m.runStep("aggregate_before_prune", func() error {
		return m.AggregateBeforePrune(ctx, windowStart)
	}, &failures)

	if _, err := m.GetLastScanInfoBuckets(ctx, today); err != nil && m.logger != nil {
		m.logger.Printf("bucket health check: %v", err)
	}

	m.runStep("prune_buckets", func() error {
		_, err := m.buckets.DeleteBefore(ctx, m.db.Pool, windowStart)
		return err
	}, &failures)
	m.runStep("prune_drop_events_by_window", func() error {
		_, err := m.drops.DeleteBucketPrefixBefore(ctx, m.db.Pool, windowStart)
		return err
	}, &failures)
	m.runStep("prune_slot_availability_by_window", func() error {
		_, err := m.slots.DeleteBucketPrefixBefore(ctx, m.db.Pool, windowStart)
		return err
	}, &failures)
	m.runStep("prune_availability_state_by_window", func() error {
		_, err := m.state.DeleteOutsideWindow(ctx, m.db.Pool, windowStart)
		return err
	}, &failures)

	metricsCutoff := today.AddDate(0, 0, -m.cfg.MetricsRetentionDays).Format("2006-01-02")
	m.runStep("prune_old_metrics", func() error {
		_, err := m.metrics.DeleteMetricsOlderThan(ctx, metricsCutoff)
		return err
	}, &failures)

	venuesCutoff := time.Now().UTC().AddDate(0, 0, -m.cfg.VenuesRetentionDays)
	m.runStep("prune_stale_venues", func() error {
		_, err := m.venues.DeleteNotSeenSince(ctx, m.db.Pool, venuesCutoff)
		return err
	}, &failures)

	if m.notifications != nil {
		notificationsCutoff := time.Now().UTC().Add(-m.cfg.NotificationsRetain)
		m.runStep("prune_old_user_notifications", func() error {
			_, err := m.notifications.DeleteNotificationsOlderThan(ctx, notificationsCutoff)
			return err
		}, &failures)
	}

	newDay := today.AddDate(0, 0, m.cfg.WindowDays-1)
	anchors := make([]bucketstore.Anchor, 0, len(m.cfg.TimeSlots))
	for _, ts := range m.cfg.TimeSlots {
		anchors = append(anchors, bucketstore.Anchor{DateStr: newDay.Format("2006-01-02"), TimeSlot: ts})
	}
	m.runStep("ensure_new_day_buckets", func() error {
		return m.buckets.EnsureBuckets(ctx, m.db.Pool, anchors)
	}, &failures)

	if m.logger != nil {
		newDayStr := newDay.Format("2006-01-02")
		anchorIDs := make([]string, 0, len(m.cfg.TimeSlots))
		for _, ts := range m.cfg.TimeSlots {
			anchorIDs = append(anchorIDs, bucketid.BucketID(newDayStr, ts))
		}
		m.logger.Printf("sliding window advanced: new day %s, buckets %v", newDayStr, anchorIDs)
	}

	return errors.Join(failures...)
}
