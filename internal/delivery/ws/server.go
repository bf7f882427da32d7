// Package ws hosts the public gateway server: the websocket stream endpoint
// plus the REST snapshot and QR endpoints.
package ws

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"beacon/config"
	"beacon/internal/delivery"
	"beacon/internal/delivery/validator"
	"beacon/internal/delivery/ws/handler"
	"beacon/internal/domain/lifecycle"
	"beacon/internal/gateway"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	slogecho "github.com/samber/slog-echo"
	"go.uber.org/fx"
)

// ServerParams holds dependencies for the gateway server
type ServerParams struct {
	fx.In
	fx.Lifecycle

	Config          *config.Config
	Logger          *slog.Logger
	Gateway         *gateway.Gateway
	StreamHandler   *handler.StreamHandler
	PresenceHandler *handler.PresenceHandler
	QRHandler       *handler.QRHandler
}

type wsServer struct {
	cfg     *config.Config
	logger  *slog.Logger
	gateway *gateway.Gateway
	server  *echo.Echo
}

// NewServer creates the gateway HTTP server.
func NewServer(params ServerParams) (delivery.Delivery, error) {
	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.Use(slogecho.New(params.Logger))
	echoServer.Validator = validator.New()
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.CORS())

	echoServer.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
	echoServer.GET("/stream", params.StreamHandler.HandleStream)
	echoServer.GET("/vendors/online", params.PresenceHandler.HandleOnlineVendors)
	echoServer.GET("/vendors/:id/presence", params.PresenceHandler.HandleVendorPresence)
	echoServer.GET("/vendors/:id/qr", params.QRHandler.HandleVendorQR)

	srv := &wsServer{
		cfg:     params.Config,
		logger:  params.Logger,
		gateway: params.Gateway,
		server:  echoServer,
	}

	params.Append(fx.Hook{
		OnStop: srv.stop,
	})

	return srv, nil
}

// Serve starts the gateway server.
func (s *wsServer) Serve(_ context.Context) error {
	hostPort := net.JoinHostPort("0.0.0.0", strconv.Itoa(s.cfg.WS.Port))
	s.logger.Info("Starting gateway server", slog.String("hostPort", hostPort))
	if err := s.server.Start(hostPort); err != nil {
		return errors.Wrap(err, "failed to serve gateway")
	}

	return nil
}

func (s *wsServer) stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, lifecycle.DefaultTimeout)
	defer cancel()

	s.logger.Info("Shutting down gateway server")
	s.gateway.CloseAll()

	return errors.WithStack(s.server.Shutdown(shutdownCtx))
}
