package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain/entity"
	"beacon/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))

	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })

	return nil
}

func (f *fakeConn) deliver(t *testing.T, msg gateway.ServerMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	f.inbound <- data
}

func (f *fakeConn) sent(t *testing.T) []gateway.ClientMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]gateway.ClientMessage, 0, len(f.written))
	for _, data := range f.written {
		var msg gateway.ClientMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		out = append(out, msg)
	}

	return out
}

// queueDialer hands out prepared connections in order and blocks once they
// run out, keeping the reconnect loop parked until the test ends.
func queueDialer(conns ...*fakeConn) Dialer {
	queue := make(chan *fakeConn, len(conns))
	for _, conn := range conns {
		queue <- conn
	}

	return func(ctx context.Context, _ string) (frameConn, error) {
		select {
		case conn := <-queue:
			return conn, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestClientReachesSubscribedState(t *testing.T) {
	conn := newFakeConn()
	c := New("ws://gateway/stream", testLogger(), WithDialer(queueDialer(conn)))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.SubscribeToArea(40.75, -73.98, 2.0))
	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeSubscribed})

	require.Eventually(t, func() bool {
		return c.State() == StateSubscribed
	}, time.Second, 5*time.Millisecond)

	sent := conn.sent(t)
	require.Len(t, sent, 1)
	assert.Equal(t, gateway.TypeSubscribe, sent[0].Type)
	assert.Equal(t, 2.0, sent[0].RadiusKm)
}

func TestClientResubscribesAfterReconnect(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	c := New("ws://gateway/stream", testLogger(),
		WithDialer(queueDialer(first, second)),
		WithReconnectBackoff(time.Millisecond, time.Millisecond),
	)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SubscribeToArea(40.75, -73.98, 2.0))

	// Drop the first connection; the client should reconnect and reissue
	// the subscription on its own.
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		return len(second.sent(t)) > 0
	}, time.Second, 5*time.Millisecond)

	sent := second.sent(t)
	assert.Equal(t, gateway.TypeSubscribe, sent[0].Type)
	assert.Equal(t, 40.75, sent[0].Latitude)
	assert.Equal(t, -73.98, sent[0].Longitude)
	assert.Equal(t, 2.0, sent[0].RadiusKm)
}

func TestClientDiscardsEventsUntilSubscribed(t *testing.T) {
	conn := newFakeConn()
	c := New("ws://gateway/stream", testLogger(), WithDialer(queueDialer(conn)))

	events := make(chan entity.PresenceEvent, 4)
	c.OnAny(func(event entity.PresenceEvent) { events <- event })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	// Event before the subscription ack belongs to no known view.
	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeTruckMoved, VendorID: "v1", Sequence: 1})
	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeSubscribed})

	require.Eventually(t, func() bool {
		return c.State() == StateSubscribed
	}, time.Second, 5*time.Millisecond)

	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeTruckMoved, VendorID: "v1", Sequence: 2})

	select {
	case event := <-events:
		assert.Equal(t, uint64(2), event.Sequence)
	case <-time.After(time.Second):
		t.Fatal("expected the post-subscribe event")
	}
	assert.Empty(t, events)
}

func TestClientFiltersEventsByKind(t *testing.T) {
	conn := newFakeConn()
	c := New("ws://gateway/stream", testLogger(), WithDialer(queueDialer(conn)))

	offlines := make(chan entity.PresenceEvent, 4)
	unregister := c.On(entity.EventOffline, func(event entity.PresenceEvent) { offlines <- event })

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeSubscribed})
	require.Eventually(t, func() bool {
		return c.State() == StateSubscribed
	}, time.Second, 5*time.Millisecond)

	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeTruckMoved, VendorID: "v1", Sequence: 1})
	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeTruckOffline, VendorID: "v1", Sequence: 2})

	select {
	case event := <-offlines:
		assert.Equal(t, entity.EventOffline, event.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the offline event")
	}

	unregister()
	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypeTruckOffline, VendorID: "v1", Sequence: 3})
	conn.deliver(t, gateway.ServerMessage{Type: gateway.TypePong})

	assert.Empty(t, offlines)
}

func TestClientFlagsUnavailableAfterRepeatedFailures(t *testing.T) {
	attempts := make(chan struct{}, 16)
	dial := func(_ context.Context, _ string) (frameConn, error) {
		attempts <- struct{}{}

		return nil, errors.New("gateway unreachable")
	}

	c := New("ws://gateway/stream", testLogger(),
		WithDialer(dial),
		WithReconnectBackoff(time.Millisecond, 2*time.Millisecond),
		WithUnavailableThreshold(3),
	)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, c.Unavailable, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, len(attempts), 2)
}

func TestClientRecoversFromUnavailable(t *testing.T) {
	conn := newFakeConn()
	var failures int
	var mu sync.Mutex
	dial := func(_ context.Context, _ string) (frameConn, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures < 2 {
			failures++

			return nil, errors.New("gateway unreachable")
		}

		return conn, nil
	}

	c := New("ws://gateway/stream", testLogger(),
		WithDialer(dial),
		WithReconnectBackoff(time.Millisecond, 2*time.Millisecond),
		WithUnavailableThreshold(2),
	)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateConnected && !c.Unavailable()
	}, time.Second, 5*time.Millisecond)
}

func TestClientIsReusableAfterClose(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	c := New("ws://gateway/stream", testLogger(), WithDialer(queueDialer(first, second)))

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	c.Close()
	assert.Equal(t, StateDisconnected, c.State())

	// A second Connect starts a fresh loop instead of failing.
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
}

func TestClientSendRequiresConnection(t *testing.T) {
	c := New("ws://gateway/stream", testLogger())

	err := c.Send(gateway.ClientMessage{Type: gateway.TypePing})
	assert.Error(t, err)
}
