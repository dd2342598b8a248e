// Command engine launches the reservation slot discovery engine: the
// scheduler tick loop, poll worker, retention job, and notification fan-out.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resy-watch/discovery-engine/internal/config"
	"github.com/resy-watch/discovery-engine/internal/engine/notify"
	"github.com/resy-watch/discovery-engine/internal/engine/pollworker"
	"github.com/resy-watch/discovery-engine/internal/engine/retention"
	"github.com/resy-watch/discovery-engine/internal/engine/scheduler"
	"github.com/resy-watch/discovery-engine/internal/persistence/db"
	"github.com/resy-watch/discovery-engine/internal/persistence/migrations"
	"github.com/resy-watch/discovery-engine/internal/persistence/postgres"
	"github.com/resy-watch/discovery-engine/internal/provider"
	"github.com/resy-watch/discovery-engine/internal/provider/fake"
	"github.com/resy-watch/discovery-engine/internal/telemetry"
)

const (
	engineLoggerPrefix = "discovery-engine "
	shutdownTimeout    = 30 * time.Second
)

func main() {
	migrationsPath := flag.String("migrations", "", "Path to migration files (default: embedded)")
	skipMigrate := flag.Bool("skip-migrate", false, "Skip applying migrations on startup")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, engineLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration loaded: window_days=%d time_slots=%v", cfg.WindowDays, cfg.TimeSlots)

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	if !*skipMigrate {
		if err := migrations.Apply(ctx, dsn, *migrationsPath, logger); err != nil {
			logger.Fatalf("apply migrations: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)

	buckets := postgres.NewBucketStore()
	slots := postgres.NewSlotStore()
	dropEvents := postgres.NewDropEventStore()
	state := postgres.NewStateStore()
	venues := postgres.NewVenueStore()
	metrics := postgres.NewMetricsStore(pool)
	recipients := postgres.NewNotifyStore(pool)

	registry := buildProviderRegistry(cfg)

	worker := pollworker.New(store, buckets, slots, dropEvents, state, venues, metrics, cfg.PartySizes, cfg.NotifiedDedupe, logger)

	retentionCfg := retention.Config{
		DropEventsRetention:    cfg.DropEventsRetention,
		NotificationsRetain:    cfg.NotificationWindow,
		MetricsRetentionDays:   int(cfg.MetricsRetention / (24 * time.Hour)),
		VenuesRetentionDays:    int(cfg.MetricsRetention / (24 * time.Hour)),
		RollingMetricsKeepDays: 60,
		WindowDays:             cfg.WindowDays,
		TimeSlots:              cfg.TimeSlots,
	}
	retentionMgr := retention.New(retentionCfg, store, buckets, slots, dropEvents, state, venues, metrics, recipients, logger)

	schedulerCfg := scheduler.Config{
		TickInterval:     cfg.Tick,
		BucketCooldown:   cfg.BucketCooldown,
		MaxConcurrent:    cfg.MaxConcurrentBuckets,
		WindowDays:       cfg.WindowDays,
		TimeSlots:        cfg.TimeSlots,
		ProviderID:       providerID(),
		PruneEveryNTicks: 30,
	}
	sched := scheduler.New(schedulerCfg, worker, buckets, registry, retentionMgr, logger)

	fanout := notify.New(dropEvents, recipients, noopTransport{logger}, cfg.NotificationWindow, 200, logger)

	windowStart := windowStartDate(cfg.DateTimezone)

	go sched.Run(ctx, windowStart)
	go runSlidingWindowDaily(ctx, retentionMgr, cfg.DateTimezone, logger)
	go runNotifyLoop(ctx, fanout, pool, cfg.NotificationInterval, logger)

	logger.Print("discovery engine started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, draining")

	drained := make(chan struct{})
	go func() {
		sched.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownTimeout):
		logger.Print("shutdown timeout elapsed with bucket polls still in flight")
	}
	time.Sleep(minDuration(shutdownTimeout, 2*time.Second))
	logger.Print("shutdown complete")
}

func providerID() string {
	if v := os.Getenv("DISCOVERY_PROVIDER_ID"); v != "" {
		return v
	}
	return "resy"
}

// buildProviderRegistry wires every configured provider adapter behind a
// retrying, rate-limited decorator. Only a deterministic fake is registered
// out of the box; a real HTTP-backed adapter is Non-goal (spec Non-goals:
// provider HTTP client internals).
func buildProviderRegistry(cfg config.RuntimeConfig) *provider.Registry {
	registry := provider.NewRegistry()
	fakeProvider := fake.New(providerID(), nil)
	registry.Register(providerID(), provider.NewRetryingAdapter(fakeProvider, 3, 5.0))
	_ = cfg
	return registry
}

func windowStartDate(tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc).AddDate(0, 0, -1).Truncate(24 * time.Hour)
}

func runSlidingWindowDaily(ctx context.Context, mgr *retention.Manager, tz string, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(nextMidnight(tz)):
			today := windowStartDate(tz)
			if err := mgr.SlidingWindow(ctx, today); err != nil {
				logger.Printf("sliding window job: %v", err)
			}
		}
	}
}

func nextMidnight(tz string) time.Duration {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 5, 0, 0, loc)
	return next.Sub(now)
}

func runNotifyLoop(ctx context.Context, fanout *notify.Fanout, pool *pgxpool.Pool, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fanout.Run(ctx, pool); err != nil {
				logger.Printf("notification fan-out: %v", err)
			}
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// noopTransport is the default push Transport: it logs instead of sending,
// since no real APNs/SMTP client is wired (spec Non-goals).
type noopTransport struct {
	logger *log.Logger
}

func (t noopTransport) Send(ctx context.Context, deviceToken, title, body string) error {
	t.logger.Printf("push (not sent, no transport configured) token=%s title=%q body=%q", deviceToken, title, body)
	return nil
}
