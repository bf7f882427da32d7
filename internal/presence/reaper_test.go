package presence

import (
	"context"
	"testing"
	"time"

	"beacon/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperIssuesSyntheticOffline(t *testing.T) {
	store := NewStore(newFakePresenceRepo(), nil, testLogger())
	pipeline := NewPipeline(store, 1, 16, 16, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.Run(ctx)

	// Apply on a clock one minute in the past so the vendor is already
	// silent for longer than the timeout when the sweep runs.
	past := time.Now().Add(-time.Minute)
	store.now = func() time.Time { return past }
	_, err := store.Apply(ctx, Update{VendorID: "v1", Kind: entity.EventOnline, Latitude: 40})
	require.NoError(t, err)

	reaper := NewReaper(store, pipeline, 30*time.Second, time.Hour, testLogger())
	reaper.sweep(ctx)

	select {
	case applied := <-pipeline.Applied():
		assert.Equal(t, entity.EventOffline, applied.Kind)
		assert.Equal(t, "v1", applied.Current.VendorID)
		assert.False(t, applied.Current.IsOnline)
		// Sequence advanced past the online update.
		assert.Equal(t, uint64(2), applied.Current.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for synthetic offline")
	}
}

func TestReaperSkipsRecentlyTouchedVendors(t *testing.T) {
	store := NewStore(newFakePresenceRepo(), nil, testLogger())
	pipeline := NewPipeline(store, 1, 16, 16, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pipeline.Run(ctx)

	past := time.Now().Add(-time.Minute)
	store.now = func() time.Time { return past }
	_, err := store.Apply(ctx, Update{VendorID: "v1", Kind: entity.EventOnline})
	require.NoError(t, err)

	// A fresh heartbeat keeps the vendor alive despite the old apply.
	store.now = time.Now
	store.Touch("v1")

	reaper := NewReaper(store, pipeline, 30*time.Second, time.Hour, testLogger())
	reaper.sweep(ctx)

	select {
	case applied := <-pipeline.Applied():
		t.Fatalf("unexpected applied update: %+v", applied)
	case <-time.After(50 * time.Millisecond):
	}
}
