// Package janitor keeps the mailbox healthy: on startup it recovers
// deliveries orphaned by a worker crash, then it periodically prunes finished
// deliveries past their retention.
package janitor

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/uplink/internal/janitor Store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
)

// Store is the slice of *host.Mailbox the janitor needs.
type Store interface {
	Orphans(ctx context.Context, target string) ([]host.Orphan, error)
	Requeue(ctx context.Context, deliveryID string) error
	Complete(ctx context.Context, deliveryID string, status host.Status, lastError *string) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Target string
	// MaxClaims bounds how often a delivery may be claimed. An orphan that
	// used its last claim is failed instead of requeued.
	MaxClaims int
	// Retention is how long finished deliveries are kept. Zero disables pruning.
	Retention time.Duration
	Interval  time.Duration
}

type Janitor struct {
	cfg    Config
	store  Store
	events *events.Hub
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg Config, store Store, hub *events.Hub, logger *slog.Logger) *Janitor {
	if cfg.MaxClaims <= 0 {
		cfg.MaxClaims = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if hub == nil {
		hub = events.NewHub(16)
	}
	return &Janitor{
		cfg:    cfg,
		store:  store,
		events: hub,
		logger: logger.With("component", "janitor"),
		now:    time.Now,
	}
}

// Recover requeues or fails deliveries left running by a previous worker.
// Call it while holding the worker lock and before the worker starts claiming.
func (j *Janitor) Recover(ctx context.Context) (requeued, failed int, err error) {
	orphans, err := j.store.Orphans(ctx, j.cfg.Target)
	if err != nil {
		return 0, 0, fmt.Errorf("crash recovery: %w", err)
	}
	if len(orphans) == 0 {
		j.logger.Debug("no orphaned deliveries")
		return 0, 0, nil
	}

	j.logger.Warn("found orphaned deliveries", "count", len(orphans))
	for _, o := range orphans {
		if o.Claims < j.cfg.MaxClaims {
			if err := j.store.Requeue(ctx, o.ID); err != nil {
				j.logger.Error("failed to requeue orphaned delivery", "job_id", o.JobID, "error", err)
				continue
			}
			j.logger.Warn("requeued orphaned delivery", "job_id", o.JobID, "claims", o.Claims)
			requeued++
			continue
		}

		msg := fmt.Sprintf("worker stopped during upload; claim limit (%d) reached", j.cfg.MaxClaims)
		if err := j.store.Complete(ctx, o.ID, host.StatusFailed, &msg); err != nil {
			j.logger.Error("failed to fail orphaned delivery", "job_id", o.JobID, "error", err)
			continue
		}
		j.logger.Error("orphaned delivery failed", "job_id", o.JobID, "claims", o.Claims)
		j.events.Publish(events.JobFailed, o.JobID, map[string]string{"error": msg})
		failed++
	}
	return requeued, failed, nil
}

// Prune removes finished deliveries older than the retention window.
func (j *Janitor) Prune(ctx context.Context) (int64, error) {
	if j.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := j.store.Prune(ctx, j.now().Add(-j.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("pruned finished deliveries", "count", n, "retention", j.cfg.Retention)
	}
	return n, nil
}

// Run prunes on every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.Prune(ctx); err != nil {
			j.logger.Error("failed to prune mailbox", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
