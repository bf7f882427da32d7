// Package client is the consumer-side library: a reconnecting websocket
// client, a reconciliation board merging live events with full refreshes,
// and a two-phase presence toggle for vendor apps.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"beacon/internal/domain/entity"
	"beacon/internal/errors"
	"beacon/internal/gateway"

	"github.com/gorilla/websocket"
)

// State is the connection lifecycle. Events are only surfaced to handlers
// in StateSubscribed; anything received earlier belongs to a stale view.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// frameConn is the subset of a websocket connection the client needs,
// injectable for tests.
type frameConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a frame connection to the gateway.
type Dialer func(ctx context.Context, endpoint string) (frameConn, error)

func defaultDialer(ctx context.Context, endpoint string) (frameConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial gateway")
	}

	return conn, nil
}

type area struct {
	lat, lon, radiusKm float64
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer swaps the websocket dialer.
func WithDialer(dial Dialer) Option {
	return func(c *Client) { c.dial = dial }
}

// WithReconnectBackoff sets the initial and maximum reconnect delays.
func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = max
	}
}

// WithUnavailableThreshold sets how many consecutive reconnect failures flip
// the client into the live-updates-unavailable state.
func WithUnavailableThreshold(n int) Option {
	return func(c *Client) { c.unavailableAfter = n }
}

// Client owns one websocket connection to the gateway and keeps it alive:
// automatic reconnect with exponential backoff, and automatic re-subscribe
// of the last requested area after each reconnect.
type Client struct {
	endpoint string
	logger   *slog.Logger
	dial     Dialer

	initialBackoff   time.Duration
	maxBackoff       time.Duration
	unavailableAfter int

	mu          sync.Mutex
	state       State
	unavailable bool
	lastArea    *area
	conn        frameConn
	stateSubs   map[int]func(State)
	eventSubs   map[int]eventHandler
	nextSubID   int

	cancel context.CancelFunc
	done   chan struct{}
}

type eventHandler struct {
	kind entity.EventKind
	any  bool
	cb   func(entity.PresenceEvent)
}

// New builds a client for the given websocket endpoint.
func New(endpoint string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:         endpoint,
		logger:           logger,
		dial:             defaultDialer,
		initialBackoff:   500 * time.Millisecond,
		maxBackoff:       30 * time.Second,
		unavailableAfter: 5,
		stateSubs:        make(map[int]func(State)),
		eventSubs:        make(map[int]eventHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect starts the connection loop. It returns immediately; state
// transitions are observable through OnStateChange.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("client already connected")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)

	return nil
}

// Close tears the connection down and stops reconnecting. The client can be
// reused: a later Connect starts a fresh connection loop.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	if c.done == done {
		c.cancel = nil
		c.done = nil
		c.conn = nil
	}
	c.mu.Unlock()
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Unavailable reports whether repeated reconnect failures have exceeded the
// threshold. It clears on the next successful connect.
func (c *Client) Unavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.unavailable
}

// OnStateChange registers a callback for lifecycle transitions and returns
// a function that unregisters it.
func (c *Client) OnStateChange(cb func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.stateSubs[id] = cb

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// On registers a callback for one event kind and returns a function that
// unregisters it.
func (c *Client) On(kind entity.EventKind, cb func(entity.PresenceEvent)) func() {
	return c.register(eventHandler{kind: kind, cb: cb})
}

// OnAny registers a callback for every event kind.
func (c *Client) OnAny(cb func(entity.PresenceEvent)) func() {
	return c.register(eventHandler{any: true, cb: cb})
}

func (c *Client) register(h eventHandler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.eventSubs[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.eventSubs, id)
	}
}

// SubscribeToArea requests events for a circular area. The area is
// remembered and reissued after every reconnect.
func (c *Client) SubscribeToArea(lat, lon, radiusKm float64) error {
	c.mu.Lock()
	c.lastArea = &area{lat: lat, lon: lon, radiusKm: radiusKm}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	return c.send(conn, gateway.ClientMessage{
		Type:      gateway.TypeSubscribe,
		Latitude:  lat,
		Longitude: lon,
		RadiusKm:  radiusKm,
	})
}

// Send transmits one intent on the live connection.
func (c *Client) Send(msg gateway.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	return c.send(conn, msg)
}

func (c *Client) send(conn frameConn, msg gateway.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	return errors.WithStack(conn.WriteMessage(websocket.TextMessage, data))
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateDisconnected)

	failures := 0
	backoff := c.initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		conn, err := c.dial(ctx, c.endpoint)
		if err != nil {
			failures++
			if failures >= c.unavailableAfter {
				c.setUnavailable(true)
			}
			c.logger.Warn("connect failed",
				slog.Int("consecutive_failures", failures),
				slog.Any("error", err))
			c.setState(StateDisconnected)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)

			continue
		}

		failures = 0
		backoff = c.initialBackoff
		c.setUnavailable(false)
		c.setConn(conn)
		c.setState(StateConnected)
		c.resubscribe(conn)

		c.readLoop(ctx, conn)
		c.setConn(nil)
		c.setState(StateDisconnected)
	}
}

// resubscribe reissues the last requested area after a reconnect.
func (c *Client) resubscribe(conn frameConn) {
	c.mu.Lock()
	last := c.lastArea
	c.mu.Unlock()
	if last == nil {
		return
	}

	err := c.send(conn, gateway.ClientMessage{
		Type:      gateway.TypeSubscribe,
		Latitude:  last.lat,
		Longitude: last.lon,
		RadiusKm:  last.radiusKm,
	})
	if err != nil {
		c.logger.Warn("resubscribe failed", slog.Any("error", err))
	}
}

func (c *Client) readLoop(ctx context.Context, conn frameConn) {
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("connection lost", slog.Any("error", err))
			}

			return
		}

		var msg gateway.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("malformed frame", slog.Any("error", err))

			continue
		}
		c.handleFrame(msg)
	}
}

func (c *Client) handleFrame(msg gateway.ServerMessage) {
	switch msg.Type {
	case gateway.TypeSubscribed:
		c.setState(StateSubscribed)

		return
	case gateway.TypePong:
		return
	case gateway.TypeError:
		c.logger.Warn("server error",
			slog.String("code", msg.Code),
			slog.String("message", msg.Message))

		return
	}

	event, ok := gateway.MessageToEvent(msg)
	if !ok {
		return
	}
	if c.State() != StateSubscribed {
		return
	}

	c.mu.Lock()
	handlers := make([]eventHandler, 0, len(c.eventSubs))
	for _, h := range c.eventSubs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		if h.any || h.kind == event.Kind {
			h.cb(event)
		}
	}
}

func (c *Client) setConn(conn frameConn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) setUnavailable(v bool) {
	c.mu.Lock()
	changed := c.unavailable != v
	c.unavailable = v
	c.mu.Unlock()
	if changed && v {
		c.logger.Warn("live updates unavailable")
	}
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()

		return
	}
	c.state = next
	subs := make([]func(State), 0, len(c.stateSubs))
	for _, cb := range c.stateSubs {
		subs = append(subs, cb)
	}
	c.mu.Unlock()

	for _, cb := range subs {
		cb(next)
	}
}
