// Package dispatch fans applied presence updates out to the connections whose
// subscribed areas match, and mirrors them to the event publisher.
package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/service"
	"beacon/internal/geo"
	"beacon/internal/presence"
)

// EventSink is one connection's outbound side. Enqueue must never block the
// dispatcher; the gateway implements it with a bounded coalescing queue.
type EventSink interface {
	ConnectionID() string
	Enqueue(event entity.PresenceEvent)
}

// SinkLookup resolves a connection id to its sink. Dead connections simply
// stop resolving, so the dispatcher never writes to them.
type SinkLookup interface {
	Sink(connectionID string) (EventSink, bool)
}

// Dispatcher is the single consumer of the applied-update queue. Keeping
// fan-out on one goroutine preserves per-vendor event order towards every
// subscriber without any per-connection locking.
type Dispatcher struct {
	registry  *geo.Registry
	sinks     SinkLookup
	publisher service.EventPublisher
	logger    *slog.Logger

	mirror    chan *service.PresenceEventMessage
	delivered atomic.Uint64
}

// NewDispatcher creates a dispatcher. publisher may be a no-op provider.
func NewDispatcher(registry *geo.Registry, sinks SinkLookup, publisher service.EventPublisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		sinks:     sinks,
		publisher: publisher,
		logger:    logger,
		mirror:    make(chan *service.PresenceEventMessage, 256),
	}
}

// Run consumes applied updates until the channel closes or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, applied <-chan presence.AppliedUpdate) {
	go d.runMirror(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-applied:
			if !ok {
				return
			}
			notified := d.Dispatch(update)
			d.logger.Debug("presence update dispatched",
				slog.String("vendor_id", update.Current.VendorID),
				slog.String("kind", string(update.Kind)),
				slog.Int("notified", notified),
			)
		}
	}
}

// Dispatch delivers one applied update and returns how many connections were
// notified.
func (d *Dispatcher) Dispatch(update presence.AppliedUpdate) int {
	current := update.Current
	event := entity.PresenceEvent{
		Kind:      update.Kind,
		VendorID:  current.VendorID,
		Latitude:  current.Latitude,
		Longitude: current.Longitude,
		Sequence:  current.Sequence,
	}

	var notified int
	switch update.Kind {
	case entity.EventOnline, entity.EventMoved:
		notified = d.dispatchPositional(event, update.Previous)
	case entity.EventOffline:
		// A vendor going offline is always worth telling anyone tracking it
		// at its last known location, regardless of exact boundary math.
		notified = d.deliverTo(d.registry.FindMatching(current.Latitude, current.Longitude), event)
	}

	d.delivered.Add(uint64(notified))
	d.mirrorEvent(update)

	return notified
}

// Delivered returns the total number of per-connection deliveries.
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// dispatchPositional handles online/moved: subscribers matching the new
// location get the event, and subscribers who contained the previous location
// but not the new one get a final removal so their clients never show a
// ghost marker.
func (d *Dispatcher) dispatchPositional(event entity.PresenceEvent, previous *entity.VendorPresence) int {
	matched := d.registry.FindMatching(event.Latitude, event.Longitude)
	notified := d.deliverTo(matched, event)

	if previous == nil || !previous.IsOnline {
		return notified
	}

	inNew := make(map[string]struct{}, len(matched))
	for _, connID := range matched {
		inNew[connID] = struct{}{}
	}

	removal := entity.PresenceEvent{
		Kind:     entity.EventOffline,
		VendorID: event.VendorID,
		Sequence: event.Sequence,
	}
	for _, connID := range d.registry.FindMatching(previous.Latitude, previous.Longitude) {
		if _, still := inNew[connID]; still {
			continue
		}
		if sink, ok := d.sinks.Sink(connID); ok {
			sink.Enqueue(removal)
			notified++
		}
	}

	return notified
}

func (d *Dispatcher) deliverTo(connIDs []string, event entity.PresenceEvent) int {
	var notified int
	for _, connID := range connIDs {
		sink, ok := d.sinks.Sink(connID)
		if !ok {
			continue
		}
		sink.Enqueue(event)
		notified++
	}

	return notified
}

// mirrorEvent hands the update to the publisher goroutine. Best-effort: when
// the mirror queue is full the event is dropped with a warning, never
// stalling fan-out.
func (d *Dispatcher) mirrorEvent(update presence.AppliedUpdate) {
	msg := &service.PresenceEventMessage{
		VendorID:   update.Current.VendorID,
		Kind:       update.Kind,
		Latitude:   update.Current.Latitude,
		Longitude:  update.Current.Longitude,
		Address:    update.Current.Address,
		Sequence:   update.Current.Sequence,
		OccurredAt: update.Current.UpdatedAt,
	}

	select {
	case d.mirror <- msg:
	default:
		d.logger.Warn("event mirror queue full, dropping",
			slog.String("vendor_id", msg.VendorID),
			slog.Uint64("sequence", msg.Sequence),
		)
	}
}

func (d *Dispatcher) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.mirror:
			publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := d.publisher.PublishPresenceEvent(publishCtx, msg); err != nil {
				d.logger.Warn("presence event publish failed",
					slog.String("vendor_id", msg.VendorID),
					slog.Uint64("sequence", msg.Sequence),
					slog.Any("error", err),
				)
			}
			cancel()
		}
	}
}
