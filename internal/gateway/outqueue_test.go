package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain/entity"
)

func moved(vendorID string, seq uint64) entity.PresenceEvent {
	return entity.PresenceEvent{Kind: entity.EventMoved, VendorID: vendorID, Sequence: seq}
}

func offline(vendorID string, seq uint64) entity.PresenceEvent {
	return entity.PresenceEvent{Kind: entity.EventOffline, VendorID: vendorID, Sequence: seq}
}

func TestOutQueueDrainsInOrder(t *testing.T) {
	q := newOutQueue(4)

	q.push(moved("v1", 1))
	q.push(moved("v2", 1))
	q.push(moved("v1", 2))

	events := q.drain()
	require.Len(t, events, 3)
	assert.Equal(t, "v1", events[0].VendorID)
	assert.Equal(t, "v2", events[1].VendorID)
	assert.Equal(t, uint64(2), events[2].Sequence)
	assert.Nil(t, q.drain())
}

func TestOutQueueCoalescesSameVendorWhenFull(t *testing.T) {
	q := newOutQueue(2)

	q.push(moved("v1", 1))
	q.push(moved("v2", 1))
	q.push(moved("v1", 5))

	events := q.drain()
	require.Len(t, events, 2)
	assert.Equal(t, uint64(5), events[0].Sequence)
	assert.Equal(t, "v2", events[1].VendorID)
	assert.Zero(t, q.droppedCount())
}

func TestOutQueueEvictsOldestWhenNoCoalescibleSlot(t *testing.T) {
	q := newOutQueue(2)

	q.push(moved("v1", 1))
	q.push(moved("v2", 1))
	q.push(moved("v3", 1))

	events := q.drain()
	require.Len(t, events, 2)
	assert.Equal(t, "v2", events[0].VendorID)
	assert.Equal(t, "v3", events[1].VendorID)
	assert.Equal(t, uint64(1), q.droppedCount())
}

func TestOutQueueNeverCoalescesOfflineAway(t *testing.T) {
	q := newOutQueue(2)

	q.push(offline("v1", 3))
	q.push(moved("v2", 1))
	// Same vendor, but the queued offline must survive; v2's slot goes.
	q.push(moved("v1", 4))

	events := q.drain()
	require.Len(t, events, 2)
	assert.Equal(t, entity.EventOffline, events[0].Kind)
	assert.Equal(t, uint64(3), events[0].Sequence)
	assert.Equal(t, uint64(4), events[1].Sequence)
}

func TestOutQueueDropsIncomingWhenFullOfOfflines(t *testing.T) {
	q := newOutQueue(2)

	q.push(offline("v1", 1))
	q.push(offline("v2", 1))
	q.push(moved("v3", 1))

	events := q.drain()
	require.Len(t, events, 2)
	assert.Equal(t, entity.EventOffline, events[0].Kind)
	assert.Equal(t, entity.EventOffline, events[1].Kind)
	assert.Equal(t, uint64(1), q.droppedCount())
}

func TestOutQueueSupersedesQueuedTerminalForSameVendor(t *testing.T) {
	q := newOutQueue(2)

	q.push(offline("v1", 3))
	q.push(offline("v2", 1))
	// Full of terminals, but the newer offline for v1 must replace the
	// queued one rather than vanish.
	q.push(offline("v1", 7))

	events := q.drain()
	require.Len(t, events, 2)
	assert.Equal(t, entity.EventOffline, events[0].Kind)
	assert.Equal(t, uint64(7), events[0].Sequence)
	assert.Equal(t, "v2", events[1].VendorID)
	assert.Zero(t, q.droppedCount())
}

func TestOutQueueSignalsWaiters(t *testing.T) {
	q := newOutQueue(4)

	select {
	case <-q.wait():
		t.Fatal("unexpected signal on empty queue")
	default:
	}

	q.push(moved("v1", 1))
	q.push(moved("v1", 2))

	select {
	case <-q.wait():
	default:
		t.Fatal("expected a pending signal after push")
	}
}
