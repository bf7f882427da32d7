package gateway

import (
	"log/slog"
	"sync"

	"beacon/config"
	"beacon/internal/dispatch"
	"beacon/internal/domain/service"
	"beacon/internal/geo"
	"beacon/internal/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/fx"
)

// Gateway owns all live websocket connections. It hands vendor intents to
// the presence pipeline, area subscriptions to the registry, and resolves
// connection ids back to event sinks for the dispatcher.
type Gateway struct {
	cfg      config.WSConfig
	geoCfg   config.GeoConfig
	registry *geo.Registry
	pipeline *presence.Pipeline
	store    *presence.Store
	auth     service.VendorAuthorizer
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// Params declares the gateway dependencies.
type Params struct {
	fx.In

	Config     *config.Config
	Registry   *geo.Registry
	Pipeline   *presence.Pipeline
	Store      *presence.Store
	Authorizer service.VendorAuthorizer
	Logger     *slog.Logger
}

// NewGateway builds the connection hub.
func NewGateway(params Params) *Gateway {
	return &Gateway{
		cfg:      params.Config.WS,
		geoCfg:   params.Config.Geo,
		registry: params.Registry,
		pipeline: params.Pipeline,
		store:    params.Store,
		auth:     params.Authorizer,
		logger:   params.Logger,
		conns:    make(map[string]*Conn),
	}
}

// HandleConnection adopts an upgraded websocket and blocks until it closes.
func (g *Gateway) HandleConnection(ws *websocket.Conn) {
	conn := newConn(uuid.NewString(), ws, g, g.logger)

	g.mu.Lock()
	g.conns[conn.id] = conn
	total := len(g.conns)
	g.mu.Unlock()

	g.logger.Info("connection opened",
		slog.String("connection_id", conn.id),
		slog.Int("total_connections", total))

	conn.run()
}

// Sink implements dispatch.SinkLookup.
func (g *Gateway) Sink(connectionID string) (dispatch.EventSink, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conn, ok := g.conns[connectionID]

	return conn, ok
}

// ConnectionCount reports the number of live connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.conns)
}

// CloseAll tears down every live connection, used during shutdown.
func (g *Gateway) CloseAll() {
	g.mu.RLock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

// unregister removes a closed connection and withdraws its subscription, so
// a vanished client stops receiving dispatch fan-out immediately.
func (g *Gateway) unregister(conn *Conn) {
	g.registry.Unsubscribe(conn.id)

	g.mu.Lock()
	delete(g.conns, conn.id)
	total := len(g.conns)
	g.mu.Unlock()

	g.logger.Info("connection closed",
		slog.String("connection_id", conn.id),
		slog.Int("total_connections", total))
}
