package client

import (
	"sync"
	"time"

	"beacon/internal/domain/entity"
	"beacon/internal/errors"
	"beacon/internal/gateway"
)

// ToggleState tracks the two-phase online/offline switch shown in vendor
// apps. A request moves the switch to Pending immediately; it settles to
// Confirmed when the vendor's own event echoes back, or rolls back to the
// last confirmed position on error or timeout.
type ToggleState int

const (
	ToggleConfirmed ToggleState = iota
	TogglePending
	ToggleRolledBack
)

// PresenceToggle is the state machine alone, independent of transport.
type PresenceToggle struct {
	mu        sync.Mutex
	vendorID  string
	confirmed bool
	pending   bool
	state     ToggleState
}

func NewPresenceToggle(vendorID string, online bool) *PresenceToggle {
	return &PresenceToggle{vendorID: vendorID, confirmed: online}
}

// Request starts a transition to the wanted position. Returns false when a
// transition is already in flight.
func (t *PresenceToggle) Request(online bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TogglePending {
		return false
	}
	t.pending = online
	t.state = TogglePending

	return true
}

// Confirm settles the pending transition from the server's echoed event.
// Confirmations for a position nobody asked for still win; the server is
// authoritative.
func (t *PresenceToggle) Confirm(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmed = online
	t.state = ToggleConfirmed
}

// Rollback abandons the pending transition and restores the last confirmed
// position.
func (t *PresenceToggle) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TogglePending {
		return
	}
	t.state = ToggleRolledBack
}

// Online reports the position the UI should render: the requested one while
// pending, otherwise the confirmed one.
func (t *PresenceToggle) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TogglePending {
		return t.pending
	}

	return t.confirmed
}

func (t *PresenceToggle) State() ToggleState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Publisher is the vendor-side helper: it publishes presence intents over a
// Client and drives the toggle from the echoed event stream. The vendor app
// subscribes to its own area so its events round-trip.
type Publisher struct {
	client   *Client
	token    string
	vendorID string
	toggle   *PresenceToggle
	timeout  time.Duration

	mu    sync.Mutex
	timer *time.Timer
	stop  func()
}

// NewPublisher wires a publisher to the client's event stream. confirmTimeout
// bounds how long a toggle stays pending before rolling back.
func NewPublisher(c *Client, token, vendorID string, confirmTimeout time.Duration) *Publisher {
	p := &Publisher{
		client:   c,
		token:    token,
		vendorID: vendorID,
		toggle:   NewPresenceToggle(vendorID, false),
		timeout:  confirmTimeout,
	}
	p.stop = c.OnAny(p.observe)

	return p
}

// Close detaches the publisher from the event stream.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	p.stop()
}

// Toggle reports the underlying state machine for UI binding.
func (p *Publisher) Toggle() *PresenceToggle { return p.toggle }

// GoOnline requests the online transition and publishes the intent.
func (p *Publisher) GoOnline(lat, lon float64, address string) error {
	if !p.toggle.Request(true) {
		return errors.New("toggle already pending")
	}
	p.armRollback()

	return p.publish(gateway.ClientMessage{
		Type:      gateway.TypeOnline,
		VendorID:  p.vendorID,
		Token:     p.token,
		Latitude:  lat,
		Longitude: lon,
		Address:   address,
	})
}

// GoOffline requests the offline transition and publishes the intent.
func (p *Publisher) GoOffline() error {
	if !p.toggle.Request(false) {
		return errors.New("toggle already pending")
	}
	p.armRollback()

	return p.publish(gateway.ClientMessage{
		Type:     gateway.TypeOffline,
		VendorID: p.vendorID,
		Token:    p.token,
	})
}

// Move publishes a position update without touching the toggle.
func (p *Publisher) Move(lat, lon float64) error {
	return p.client.Send(gateway.ClientMessage{
		Type:      gateway.TypeMoved,
		VendorID:  p.vendorID,
		Token:     p.token,
		Latitude:  lat,
		Longitude: lon,
	})
}

// Ping refreshes vendor liveness while stationary.
func (p *Publisher) Ping() error {
	return p.client.Send(gateway.ClientMessage{Type: gateway.TypePing})
}

func (p *Publisher) publish(msg gateway.ClientMessage) error {
	if err := p.client.Send(msg); err != nil {
		p.toggle.Rollback()
		p.disarmRollback()

		return err
	}

	return nil
}

func (p *Publisher) observe(event entity.PresenceEvent) {
	if event.VendorID != p.vendorID {
		return
	}
	p.toggle.Confirm(!event.Kind.Terminal())
	p.disarmRollback()
}

func (p *Publisher) armRollback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.timeout, p.toggle.Rollback)
}

func (p *Publisher) disarmRollback() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
