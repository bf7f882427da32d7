package presence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/repository"
)

// WriteThrough persists applied presence snapshots asynchronously. A durable
// write failure is retried with bounded exponential backoff but never rolls
// back the in-memory apply: live broadcast stays correct while durability is
// temporarily degraded.
type WriteThrough struct {
	repo    repository.PresenceRepository
	queue   chan *entity.VendorPresence
	retries int
	backoff time.Duration
	logger  *slog.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewWriteThrough creates the write-through worker. queueSize bounds the
// pending snapshots; retries and backoff govern per-write retry behavior.
func NewWriteThrough(repo repository.PresenceRepository, queueSize, retries int, backoff time.Duration, logger *slog.Logger) *WriteThrough {
	return &WriteThrough{
		repo:    repo,
		queue:   make(chan *entity.VendorPresence, queueSize),
		retries: retries,
		backoff: backoff,
		logger:  logger,
	}
}

// Enqueue queues a snapshot for persistence without blocking the apply path.
// When the queue is full the snapshot is dropped and counted; a later update
// for the same vendor will carry the newer state anyway.
func (w *WriteThrough) Enqueue(presence *entity.VendorPresence) {
	select {
	case w.queue <- presence:
	default:
		w.dropped.Add(1)
		w.logger.Warn("write-through queue full, dropping snapshot",
			slog.String("vendor_id", presence.VendorID),
			slog.Uint64("sequence", presence.Sequence),
		)
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *WriteThrough) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-w.queue:
			w.persist(ctx, snapshot)
		}
	}
}

// Dropped returns how many snapshots were discarded due to a full queue.
func (w *WriteThrough) Dropped() uint64 {
	return w.dropped.Load()
}

// Failed returns how many snapshots exhausted their retries.
func (w *WriteThrough) Failed() uint64 {
	return w.failed.Load()
}

func (w *WriteThrough) persist(ctx context.Context, snapshot *entity.VendorPresence) {
	backoff := w.backoff
	for attempt := 0; attempt <= w.retries; attempt++ {
		err := w.repo.UpsertPresence(ctx, snapshot)
		if err == nil {
			return
		}

		w.logger.Warn("durable presence write failed",
			slog.String("vendor_id", snapshot.VendorID),
			slog.Uint64("sequence", snapshot.Sequence),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	w.failed.Add(1)
	w.logger.Error("giving up on durable presence write",
		slog.String("vendor_id", snapshot.VendorID),
		slog.Uint64("sequence", snapshot.Sequence),
	)
}
