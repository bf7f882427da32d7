package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain/entity"
)

func TestBoardAppliesEventsNewestWins(t *testing.T) {
	board := NewTruckBoard()

	assert.True(t, board.ApplyEvent(entity.PresenceEvent{
		Kind: entity.EventOnline, VendorID: "v1", Latitude: 40.75, Longitude: -73.98, Sequence: 1,
	}))
	assert.True(t, board.ApplyEvent(entity.PresenceEvent{
		Kind: entity.EventMoved, VendorID: "v1", Latitude: 40.76, Longitude: -73.98, Sequence: 3,
	}))

	// A late frame from before the move must not regress the position.
	assert.False(t, board.ApplyEvent(entity.PresenceEvent{
		Kind: entity.EventMoved, VendorID: "v1", Latitude: 40.70, Longitude: -73.98, Sequence: 2,
	}))

	truck, ok := board.Get("v1")
	require.True(t, ok)
	assert.True(t, truck.IsOnline)
	assert.Equal(t, 40.76, truck.Latitude)
	assert.Equal(t, uint64(3), truck.Sequence)
}

func TestBoardConvergesRegardlessOfArrivalOrder(t *testing.T) {
	moveFirst := NewTruckBoard()
	moveFirst.ApplyEvent(entity.PresenceEvent{Kind: entity.EventMoved, VendorID: "v1", Latitude: 41, Sequence: 2})
	moveFirst.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOnline, VendorID: "v1", Latitude: 40, Sequence: 1})

	onlineFirst := NewTruckBoard()
	onlineFirst.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOnline, VendorID: "v1", Latitude: 40, Sequence: 1})
	onlineFirst.ApplyEvent(entity.PresenceEvent{Kind: entity.EventMoved, VendorID: "v1", Latitude: 41, Sequence: 2})

	a, _ := moveFirst.Get("v1")
	b, _ := onlineFirst.Get("v1")
	assert.Equal(t, a, b)
	assert.Equal(t, 41.0, a.Latitude)
}

func TestBoardOfflineClearsPresenceOnly(t *testing.T) {
	board := NewTruckBoard()
	board.ApplyFullRefresh([]Truck{
		{VendorID: "v1", Name: "Arepa Lady", Address: "5th & Main", IsOnline: true, Latitude: 40.75, Longitude: -73.98, Sequence: 4},
	})

	assert.True(t, board.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOffline, VendorID: "v1", Sequence: 5}))

	truck, ok := board.Get("v1")
	require.True(t, ok)
	assert.False(t, truck.IsOnline)
	assert.Equal(t, "Arepa Lady", truck.Name)
	assert.Equal(t, "5th & Main", truck.Address)
	assert.Equal(t, 40.75, truck.Latitude, "last coordinates stay for map context")
}

func TestBoardEventForUnknownVendorCreatesEntry(t *testing.T) {
	board := NewTruckBoard()

	assert.True(t, board.ApplyEvent(entity.PresenceEvent{
		Kind: entity.EventOnline, VendorID: "v9", Latitude: 40, Longitude: -73, Sequence: 1,
	}))

	truck, ok := board.Get("v9")
	require.True(t, ok)
	assert.Empty(t, truck.Name)
	assert.True(t, truck.IsOnline)
}

func TestFullRefreshKeepsNewerLocalPresence(t *testing.T) {
	board := NewTruckBoard()
	board.ApplyEvent(entity.PresenceEvent{Kind: entity.EventMoved, VendorID: "v1", Latitude: 41, Longitude: -73, Sequence: 8})

	// The refresh snapshot was taken before the move made it to the API.
	board.ApplyFullRefresh([]Truck{
		{VendorID: "v1", Name: "Arepa Lady", IsOnline: true, Latitude: 40, Longitude: -73, Sequence: 6},
		{VendorID: "v2", Name: "Taco Cart", IsOnline: true, Latitude: 40.5, Longitude: -73.5, Sequence: 2},
	})

	v1, ok := board.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "Arepa Lady", v1.Name, "metadata always comes from the refresh")
	assert.Equal(t, 41.0, v1.Latitude, "presence keeps the newer local state")
	assert.Equal(t, uint64(8), v1.Sequence)

	v2, ok := board.Get("v2")
	require.True(t, ok)
	assert.Equal(t, uint64(2), v2.Sequence)
}

func TestFullRefreshDropsAbsentVendors(t *testing.T) {
	board := NewTruckBoard()
	board.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOnline, VendorID: "v1", Sequence: 1})
	board.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOnline, VendorID: "v2", Sequence: 1})

	board.ApplyFullRefresh([]Truck{{VendorID: "v2", Sequence: 1}})

	_, ok := board.Get("v1")
	assert.False(t, ok)

	snapshot := board.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "v2", snapshot[0].VendorID)
}

func TestSnapshotIsSortedAndDetached(t *testing.T) {
	board := NewTruckBoard()
	board.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOnline, VendorID: "v2", Sequence: 1})
	board.ApplyEvent(entity.PresenceEvent{Kind: entity.EventOnline, VendorID: "v1", Sequence: 1})

	snapshot := board.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "v1", snapshot[0].VendorID)
	assert.Equal(t, "v2", snapshot[1].VendorID)

	snapshot[0].IsOnline = false
	truck, _ := board.Get("v1")
	assert.True(t, truck.IsOnline, "snapshot mutations do not leak back")
}
