package service

import (
	"context"
	"time"

	"beacon/internal/domain/entity"
)

// PresenceEventMessage is the wire form of an applied presence update mirrored
// to the message queue for the best-effort push notification path.
type PresenceEventMessage struct {
	RequestID  string           `json:"request_id,omitempty"` // For distributed tracing.
	VendorID   string           `json:"vendor_id"`
	Kind       entity.EventKind `json:"kind"`
	Latitude   float64          `json:"latitude"`
	Longitude  float64          `json:"longitude"`
	Address    string           `json:"address,omitempty"`
	Sequence   uint64           `json:"sequence"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// EventPublisher defines the interface for publishing events to a message queue.
// Publishing is best-effort: a failure is logged, never propagated back into
// the apply/dispatch path.
type EventPublisher interface {
	// PublishPresenceEvent publishes an applied presence update for async processing.
	PublishPresenceEvent(ctx context.Context, event *PresenceEventMessage) error

	// Close releases any resources held by the publisher.
	Close() error
}
