package presence

import (
	"context"
	"log/slog"
	"time"

	"beacon/internal/domain/entity"
)

// Reaper marks vendors implicitly offline when they stop sending any traffic,
// guarding against apps that crash without a clean disconnect and would
// otherwise leave a stale "online" pin forever. The synthetic offline goes
// through the normal pipeline so it respects per-vendor ordering and the
// sequence check like any other update.
type Reaper struct {
	store    *Store
	pipeline *Pipeline
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a liveness reaper sweeping at interval and expiring
// vendors silent for longer than timeout.
func NewReaper(store *Store, pipeline *Pipeline, timeout, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:    store,
		pipeline: pipeline,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.timeout)
	for _, vendorID := range r.store.SilentSince(cutoff) {
		r.logger.Info("vendor silent past timeout, issuing synthetic offline",
			slog.String("vendor_id", vendorID),
			slog.Duration("timeout", r.timeout),
		)

		// Sequence 0: the store assigns the next one, so a racing real update
		// with a newer sequence still wins.
		err := r.pipeline.Submit(ctx, Update{
			VendorID: vendorID,
			Kind:     entity.EventOffline,
		})
		if err != nil {
			r.logger.Warn("failed to submit synthetic offline",
				slog.String("vendor_id", vendorID),
				slog.Any("error", err),
			)
		}
	}
}
