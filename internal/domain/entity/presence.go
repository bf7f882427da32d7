// Package entity contains the core business objects of the project.
package entity

import "time"

// EventKind classifies a vendor presence change.
type EventKind string

const (
	// EventOnline means the vendor started broadcasting at a location.
	EventOnline EventKind = "online"
	// EventMoved means an online vendor reported new coordinates.
	EventMoved EventKind = "moved"
	// EventOffline means the vendor stopped broadcasting. Offline is the only
	// terminal kind: it must never be coalesced away on a congested connection.
	EventOffline EventKind = "offline"
)

// Terminal reports whether the kind ends a vendor's live session.
func (k EventKind) Terminal() bool {
	return k == EventOffline
}

// VendorPresence is the authoritative current state of one vendor.
// Rows are created lazily on the first online event and are never hard-deleted;
// going offline only flips IsOnline while the last coordinates are retained.
type VendorPresence struct {
	VendorID  string    `json:"vendor_id"`  // Stable vendor identifier, unique.
	IsOnline  bool      `json:"is_online"`  // Whether the vendor is currently broadcasting.
	Latitude  float64   `json:"latitude"`   // Last reported latitude in decimal degrees.
	Longitude float64   `json:"longitude"`  // Last reported longitude in decimal degrees.
	Address   string    `json:"address"`    // Optional free-text address.
	Sequence  uint64    `json:"sequence"`   // Monotonic per-vendor update counter.
	UpdatedAt time.Time `json:"updated_at"` // Timestamp of the last applied update.
}

// PresenceEvent is the transient notification fanned out to subscribers.
// It always carries the sequence the update was applied with so clients can
// enforce the same newest-wins rule as the server.
type PresenceEvent struct {
	Kind      EventKind `json:"kind"`
	VendorID  string    `json:"vendor_id"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Sequence  uint64    `json:"sequence"`
}

// AreaSubscription is a customer connection's circular area of interest.
// A connection holds at most one subscription; re-subscribing replaces it.
type AreaSubscription struct {
	ConnectionID string  `json:"connection_id"`
	CenterLat    float64 `json:"center_lat"`
	CenterLon    float64 `json:"center_lon"`
	RadiusKm     float64 `json:"radius_km"`
}
