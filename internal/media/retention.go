package media

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention periodically deletes uploads older than a fixed age.
type Retention struct {
	sweeper  Sweeper
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	logger   *slog.Logger
}

func NewRetention(log *slog.Logger, sweeper Sweeper, maxAge time.Duration, schedule string) *Retention {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = "@every 1h"
	}
	return &Retention{
		sweeper:  sweeper,
		maxAge:   maxAge,
		schedule: schedule,
		cron:     cron.New(),
		now:      time.Now,
		logger:   log.With(slog.String("service", "upload_retention")),
	}
}

// Start registers the sweep job. A non-positive max age disables it.
func (r *Retention) Start() error {
	if r.maxAge <= 0 || r.sweeper == nil {
		r.logger.Info("upload retention disabled")
		return nil
	}
	if _, err := r.cron.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule retention %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("upload retention scheduled", slog.String("schedule", r.schedule), slog.Duration("max_age", r.maxAge))
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (r *Retention) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce deletes uploads older than the max age.
func (r *Retention) RunOnce(ctx context.Context) (int, error) {
	removed, err := r.sweeper.Sweep(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		r.logger.Warn("upload sweep failed", slog.Any("error", err))
		return removed, err
	}
	if removed > 0 {
		r.logger.Info("uploads swept", slog.Int("removed", removed))
	}
	return removed, nil
}
