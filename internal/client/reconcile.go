package client

import (
	"sort"
	"sync"

	"beacon/internal/domain/entity"
)

// Truck is one vendor as the customer UI sees it: live presence fields that
// stream in over the websocket, plus metadata that only a full refresh sets.
type Truck struct {
	VendorID  string
	Name      string
	Address   string
	IsOnline  bool
	Latitude  float64
	Longitude float64
	Sequence  uint64
}

// TruckBoard reconciles two sources of truth for the same vendor set: the
// live event stream and periodic full refreshes from the REST API. Events
// may arrive out of order after a reconnect and refreshes may be stale, so
// every merge is guarded by the per-vendor sequence number.
type TruckBoard struct {
	mu     sync.RWMutex
	trucks map[string]*Truck
}

func NewTruckBoard() *TruckBoard {
	return &TruckBoard{trucks: make(map[string]*Truck)}
}

// ApplyEvent merges one live event. Events at or below the sequence already
// seen for the vendor are discarded. Only presence fields change; metadata
// from the last full refresh is left alone. Returns whether state changed.
func (b *TruckBoard) ApplyEvent(event entity.PresenceEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	truck, ok := b.trucks[event.VendorID]
	if !ok {
		truck = &Truck{VendorID: event.VendorID}
		b.trucks[event.VendorID] = truck
	} else if event.Sequence <= truck.Sequence {
		return false
	}

	truck.Sequence = event.Sequence
	switch event.Kind {
	case entity.EventOnline, entity.EventMoved:
		truck.IsOnline = true
		truck.Latitude = event.Latitude
		truck.Longitude = event.Longitude
	case entity.EventOffline:
		truck.IsOnline = false
	}

	return true
}

// ApplyFullRefresh replaces the board with the refreshed vendor list.
// Vendors absent from the refresh are dropped. When the local copy of a
// vendor carries a newer sequence than the refresh, its presence fields are
// kept and only metadata is taken from the refresh, so a stale snapshot
// never rolls back state the event stream already advanced past.
func (b *TruckBoard) ApplyFullRefresh(trucks []Truck) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]*Truck, len(trucks))
	for _, incoming := range trucks {
		merged := incoming
		if local, ok := b.trucks[incoming.VendorID]; ok && local.Sequence > incoming.Sequence {
			merged.IsOnline = local.IsOnline
			merged.Latitude = local.Latitude
			merged.Longitude = local.Longitude
			merged.Sequence = local.Sequence
		}
		next[merged.VendorID] = &merged
	}
	b.trucks = next
}

// Get returns the current state of one vendor.
func (b *TruckBoard) Get(vendorID string) (Truck, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	truck, ok := b.trucks[vendorID]
	if !ok {
		return Truck{}, false
	}

	return *truck, true
}

// Snapshot returns all tracked vendors ordered by id.
func (b *TruckBoard) Snapshot() []Truck {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Truck, 0, len(b.trucks))
	for _, truck := range b.trucks {
		out = append(out, *truck)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID < out[j].VendorID })

	return out
}
