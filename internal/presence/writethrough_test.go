package presence

import (
	"context"
	"testing"
	"time"

	"beacon/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThroughRetriesUntilSuccess(t *testing.T) {
	repo := newFakePresenceRepo()
	repo.failures = 2
	wt := NewWriteThrough(repo, 8, 5, time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wt.Run(ctx)

	wt.Enqueue(&entity.VendorPresence{VendorID: "v1", Sequence: 3})

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		_, ok := repo.rows["v1"]

		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, repo.upsertCount())
	assert.Equal(t, uint64(0), wt.Failed())
}

func TestWriteThroughGivesUpAfterRetries(t *testing.T) {
	repo := newFakePresenceRepo()
	repo.failures = 100
	wt := NewWriteThrough(repo, 8, 1, time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go wt.Run(ctx)

	wt.Enqueue(&entity.VendorPresence{VendorID: "v1", Sequence: 1})

	require.Eventually(t, func() bool {
		return wt.Failed() == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Empty(t, repo.rows)
}

func TestWriteThroughDropsWhenQueueFull(t *testing.T) {
	repo := newFakePresenceRepo()
	// No Run loop: the queue stays full after the first enqueue.
	wt := NewWriteThrough(repo, 1, 0, time.Millisecond, testLogger())

	wt.Enqueue(&entity.VendorPresence{VendorID: "v1", Sequence: 1})
	wt.Enqueue(&entity.VendorPresence{VendorID: "v1", Sequence: 2})

	assert.Equal(t, uint64(1), wt.Dropped())
}
