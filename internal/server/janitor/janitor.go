// Package janitor periodically removes expired tokens from the store.
// Expired tokens are already treated as absent, so the janitor only keeps
// the table small; correctness never depends on it having run.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/server/metrics"
)

// Purger is the part of tokens.Store the janitor needs.
type Purger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Janitor runs DeleteExpired every Interval.
type Janitor struct {
	store    Purger
	interval time.Duration
	logger   logging.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// New builds a Janitor. A nil recorder disables metrics.
func New(store Purger, interval time.Duration, logger logging.Logger, rec metrics.Recorder) *Janitor {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger.With("module", "janitor"),
		metrics:  rec,
		now:      time.Now,
	}
}

// RunOnce purges expired tokens and returns how many were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := j.store.DeleteExpired(ctx, j.now())
	if err != nil {
		j.logger.Error(ctx, "error purging expired tokens", "error", err)
		return 0, fmt.Errorf("error purging expired tokens: %w", err)
	}
	j.metrics.RecordTokensPurged(n)
	j.logger.Info(ctx, "purged expired tokens", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

// Run purges once immediately and then on every tick until ctx is done.
// Errors are logged and do not stop the loop.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	_, _ = j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.RunOnce(ctx)
		}
	}
}
