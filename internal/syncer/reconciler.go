package syncer

import (
	"context"
	"log/slog"
	"time"

	v1 "github.com/briefcast-io/calsync/internal/api/v1"
	"github.com/briefcast-io/calsync/internal/core/storage"
)

// Reconciler is the required companion job for crashed syncs: a process that
// dies mid-run leaves sync_in_progress stuck true, and nothing in the hot
// path will ever clear it. The reconciler sweeps leases older than the
// timeout and appends a terminal ERROR event so pollers stop waiting.
type Reconciler struct {
	store        storage.Store
	leaseTimeout time.Duration
	interval     time.Duration
	now          func() time.Time
}

func NewReconciler(store storage.Store, leaseTimeout, interval time.Duration) *Reconciler {
	return &Reconciler{
		store:        store,
		leaseTimeout: leaseTimeout,
		interval:     interval,
		now:          time.Now,
	}
}

// Start sweeps on a fixed interval until the context is cancelled.
// Runs one sweep immediately so restarts clear stuck leases without waiting a
// full interval.
func (r *Reconciler) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("[Reconciler] Starting stale lease reconciler",
		"lease_timeout", r.leaseTimeout,
		"interval", r.interval)

	r.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			slog.Info("[Reconciler] Stopping (context cancelled)")
			return nil
		}
	}
}

// sweep clears all leases older than the timeout in one conditional UPDATE.
func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := r.now().UTC().Add(-r.leaseTimeout)

	ids, err := r.store.ReclaimStaleLeases(ctx, cutoff)
	if err != nil {
		slog.Error("[Reconciler] Failed to reclaim stale leases", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		slog.Warn("[Reconciler] Reclaimed stale sync lease",
			"connection_id", id,
			"cutoff", cutoff)

		ev := &v1.SyncProgressEvent{
			ConnectionID: id,
			Type:         v1.ProgressError,
			Message:      "sync abandoned: lease expired",
			CreatedAt:    r.now().UTC(),
		}
		if err := r.store.AppendProgress(ctx, ev); err != nil {
			slog.Error("[Reconciler] Failed to append reclaim event",
				"connection_id", id,
				"error", err)
		}
	}
}
