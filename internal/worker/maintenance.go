package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ignite/txmail/internal/pkg/distlock"
	"github.com/ignite/txmail/internal/pkg/logger"
)

// SuppressionSweeper deletes suppressions that expired before now.
type SuppressionSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// MessagePruner deletes terminal messages past retention.
type MessagePruner interface {
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// LockFactory returns the singleton lock guarding one maintenance job.
type LockFactory func(key string) distlock.DistLock

// MaintenanceConfig schedules the background sweeps.
type MaintenanceConfig struct {
	SuppressionSweepInterval time.Duration
	RetentionSweepInterval   time.Duration
	RetentionDays            int
}

// Maintenance runs periodic housekeeping. Every worker process schedules
// the jobs; the distributed lock makes only one of them do the work per tick.
type Maintenance struct {
	suppressions SuppressionSweeper
	messages     MessagePruner
	locks        LockFactory
	cfg          MaintenanceConfig
	now          func() time.Time
}

// NewMaintenance creates the maintenance runner.
func NewMaintenance(suppressions SuppressionSweeper, messages MessagePruner, locks LockFactory, cfg MaintenanceConfig) *Maintenance {
	if cfg.SuppressionSweepInterval <= 0 {
		cfg.SuppressionSweepInterval = 15 * time.Minute
	}
	if cfg.RetentionSweepInterval <= 0 {
		cfg.RetentionSweepInterval = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	return &Maintenance{suppressions: suppressions, messages: messages, locks: locks, cfg: cfg, now: time.Now}
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (m *Maintenance) Run(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"suppression_sweep", m.cfg.SuppressionSweepInterval, m.sweepSuppressions},
		{"message_retention", m.cfg.RetentionSweepInterval, m.pruneMessages},
	}
	for _, j := range jobs {
		j := j
		_, err := s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() { m.RunJob(ctx, j.name, j.fn) }),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	log.Printf("[Maintenance] started (suppression_sweep=%s, retention_sweep=%s, retention_days=%d)",
		m.cfg.SuppressionSweepInterval, m.cfg.RetentionSweepInterval, m.cfg.RetentionDays)
	s.Start()

	<-ctx.Done()
	log.Printf("[Maintenance] stopping")
	return s.Shutdown()
}

// RunJob executes fn under the job's singleton lock. It reports whether this
// process ran the job.
func (m *Maintenance) RunJob(ctx context.Context, name string, fn func(context.Context) error) bool {
	ran, err := distlock.Run(ctx, m.locks("txmail:maintenance:"+name), fn)
	switch {
	case err != nil:
		maintenanceRuns.WithLabelValues(name, "error").Inc()
		logger.Error("maintenance job failed", "job", name, "error", err)
	case !ran:
		maintenanceRuns.WithLabelValues(name, "skipped").Inc()
	default:
		maintenanceRuns.WithLabelValues(name, "ok").Inc()
	}
	return ran
}

func (m *Maintenance) sweepSuppressions(ctx context.Context) error {
	n, err := m.suppressions.SweepExpired(ctx, m.now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Maintenance] removed %d expired suppressions", n)
	}
	return nil
}

func (m *Maintenance) pruneMessages(ctx context.Context) error {
	n, err := m.messages.DeleteOlderThan(ctx, m.cfg.RetentionDays)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Maintenance] removed %d messages older than %d days", n, m.cfg.RetentionDays)
	}
	return nil
}
