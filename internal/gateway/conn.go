package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/service"
	"beacon/internal/errors"
	"beacon/internal/presence"

	"github.com/gorilla/websocket"
)

// Conn wraps a single websocket connection. Inbound frames are decoded and
// routed by the read pump; outbound presence events flow through the bounded
// coalescing queue, control frames (acks, errors, pongs) through a separate
// small channel so they cannot be coalesced away.
type Conn struct {
	id     string
	ws     *websocket.Conn
	gw     *Gateway
	out    *outQueue
	ctl    chan ServerMessage
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	vendors map[string]struct{}

	closeOnce sync.Once
}

const ctlQueueSize = 16

func newConn(id string, ws *websocket.Conn, gw *Gateway, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	return &Conn{
		id:      id,
		ws:      ws,
		gw:      gw,
		out:     newOutQueue(gw.cfg.OutboundQueueSize),
		ctl:     make(chan ServerMessage, ctlQueueSize),
		logger:  logger.With(slog.String("connection_id", id)),
		ctx:     ctx,
		cancel:  cancel,
		vendors: make(map[string]struct{}),
	}
}

// ConnectionID implements dispatch.EventSink.
func (c *Conn) ConnectionID() string { return c.id }

// Enqueue implements dispatch.EventSink.
func (c *Conn) Enqueue(event entity.PresenceEvent) {
	c.out.push(event)
}

func (c *Conn) run() {
	go c.writePump()
	c.readPump()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.gw.unregister(c)
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("websocket close", slog.Any("error", err))
		}
		if dropped := c.out.droppedCount(); dropped > 0 {
			c.logger.Warn("connection closed with dropped events",
				slog.Uint64("dropped", dropped))
		}
	})
}

func (c *Conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(c.gw.cfg.MaxMessageBytes)
	c.resetReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.resetReadDeadline()

		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", slog.Any("error", err))
			}

			return
		}
		c.resetReadDeadline()

		msg, err := DecodeClientMessage(data)
		if err != nil {
			c.sendError(CodeInvalidMessage, err.Error())

			continue
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg *ClientMessage) {
	switch msg.Type {
	case TypePing:
		c.touchVendors()
		c.sendControl(ServerMessage{Type: TypePong})
	case TypeSubscribe:
		c.handleSubscribe(msg)
	case TypeUnsubscribe:
		c.gw.registry.Unsubscribe(c.id)
	case TypeOnline, TypeMoved, TypeOffline:
		c.handleVendorIntent(msg)
	}
}

func (c *Conn) handleSubscribe(msg *ClientMessage) {
	radius := msg.RadiusKm
	if radius == 0 {
		radius = c.gw.geoCfg.DefaultRadiusKm
	}
	if radius > c.gw.geoCfg.MaxRadiusKm {
		c.sendError(CodeInvalidRadius,
			errors.Errorf("radius %.1fkm exceeds maximum %.1fkm",
				radius, c.gw.geoCfg.MaxRadiusKm).Error())

		return
	}

	c.gw.registry.Subscribe(c.id, msg.Latitude, msg.Longitude, radius)
	c.sendControl(ServerMessage{
		Type:      TypeSubscribed,
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
	})
}

func (c *Conn) handleVendorIntent(msg *ClientMessage) {
	if !c.authorized(msg.VendorID) {
		if err := c.gw.auth.CanActAsVendor(msg.Token, msg.VendorID); err != nil {
			c.logger.Warn("vendor intent rejected",
				slog.String("vendor_id", msg.VendorID),
				slog.Any("error", err))
			c.sendError(CodeUnauthorized, service.ErrUnauthorizedVendor.Error())

			return
		}
		c.rememberVendor(msg.VendorID)
	}

	kind := entity.EventOnline
	switch msg.Type {
	case TypeMoved:
		kind = entity.EventMoved
	case TypeOffline:
		kind = entity.EventOffline
	}

	update := presence.Update{
		VendorID:  msg.VendorID,
		Kind:      kind,
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Address:   msg.Address,
		Sequence:  msg.Sequence,
	}
	if err := c.gw.pipeline.Submit(c.ctx, update); err != nil {
		c.logger.Error("submit update", slog.Any("error", err))
	}
}

func (c *Conn) writePump() {
	pingPeriod := c.gw.cfg.HeartbeatTimeout * 4 / 5
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.ctl:
			if err := c.write(msg); err != nil {
				return
			}
		case <-c.out.wait():
			for _, event := range c.out.drain() {
				if err := c.write(EventToMessage(event)); err != nil {
					return
				}
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.gw.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(msg ServerMessage) error {
	data, err := msg.Encode()
	if err != nil {
		c.logger.Error("encode frame", slog.Any("error", err))

		return nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.gw.cfg.WriteTimeout)); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *Conn) sendControl(msg ServerMessage) {
	select {
	case c.ctl <- msg:
	default:
		c.logger.Warn("control queue full, frame dropped",
			slog.String("type", string(msg.Type)))
	}
}

func (c *Conn) sendError(code, message string) {
	c.sendControl(ServerMessage{Type: TypeError, Code: code, Message: message})
}

func (c *Conn) resetReadDeadline() {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.gw.cfg.HeartbeatTimeout)); err != nil {
		c.logger.Debug("set read deadline", slog.Any("error", err))
	}
}

func (c *Conn) authorized(vendorID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.vendors[vendorID]

	return ok
}

func (c *Conn) rememberVendor(vendorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vendors[vendorID] = struct{}{}
}

// touchVendors refreshes liveness for every vendor this connection acts as,
// so heartbeats alone keep an idle-but-connected vendor from being reaped.
func (c *Conn) touchVendors() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.vendors))
	for id := range c.vendors {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.gw.store.Touch(id)
	}
}
