// Package handler holds the HTTP handlers of the gateway server.
package handler

import (
	"log/slog"
	"net/http"

	"beacon/config"
	"beacon/internal/gateway"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// StreamHandler upgrades HTTP requests to websocket connections and hands
// them to the gateway.
type StreamHandler struct {
	gateway  *gateway.Gateway
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// StreamHandlerParams holds dependencies for the StreamHandler
type StreamHandlerParams struct {
	fx.In

	Config  *config.Config
	Gateway *gateway.Gateway
	Logger  *slog.Logger
}

// NewStreamHandler creates the websocket upgrade handler.
func NewStreamHandler(params StreamHandlerParams) *StreamHandler {
	return &StreamHandler{
		gateway: params.Gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement happens at the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: params.Logger,
	}
}

// HandleStream upgrades the request and blocks until the connection closes.
func (h *StreamHandler) HandleStream(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))

		return echo.NewHTTPError(http.StatusBadRequest, "upgrade failed")
	}

	h.gateway.HandleConnection(ws)

	return nil
}
