package main

import (
	"context"
	"log/slog"
	"os"

	"beacon/config"
	"beacon/internal/delivery"
	"beacon/internal/delivery/ws"
	"beacon/internal/delivery/ws/handler"
	"beacon/internal/dispatch"
	"beacon/internal/domain/repository"
	"beacon/internal/domain/service"
	"beacon/internal/gateway"
	"beacon/internal/geo"
	"beacon/internal/infra/auth"
	logs "beacon/internal/infra/log"
	"beacon/internal/infra/persistence/postgres"
	"beacon/internal/infra/pubsub"
	"beacon/internal/infra/qrcode"
	"beacon/internal/presence"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle
	fx.Shutdowner

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectRepo(),
		injectService(),
		injectEngine(),
		injectHandler(),
		injectDelivery(),
		pubsub.Module,
		fx.Invoke(
			startEngine,
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
		postgres.New,
	)
}

func injectRepo() fx.Option {
	return fx.Options(
		fx.Provide(
			postgres.NewPresenceRepository,
		),
	)
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			auth.NewJWTAuthorizer,
			newQRCodeService,
		),
	)
}

// newQRCodeService creates a QR code service with dependency injection
func newQRCodeService(cfg *config.Config) service.QRCodeService {
	if cfg.QRCode == nil {
		return qrcode.NewQRCodeService(256, "M")
	}

	return qrcode.NewQRCodeService(cfg.QRCode.Size, cfg.QRCode.ErrorCorrectionLevel)
}

func injectEngine() fx.Option {
	return fx.Options(
		fx.Provide(
			newWriteThrough,
			newStore,
			newPipeline,
			newReaper,
			newRegistry,
			gateway.NewGateway,
			func(g *gateway.Gateway) dispatch.SinkLookup { return g },
			newDispatcher,
		),
	)
}

func newWriteThrough(cfg *config.Config, repo repository.PresenceRepository, logger *slog.Logger) *presence.WriteThrough {
	return presence.NewWriteThrough(
		repo,
		cfg.Presence.WriteThroughQueueSize,
		cfg.Presence.WriteThroughRetries,
		cfg.Presence.WriteThroughBackoff,
		logger,
	)
}

func newStore(repo repository.PresenceRepository, writeThrough *presence.WriteThrough, logger *slog.Logger) *presence.Store {
	return presence.NewStore(repo, writeThrough, logger)
}

func newPipeline(cfg *config.Config, store *presence.Store, logger *slog.Logger) *presence.Pipeline {
	return presence.NewPipeline(
		store,
		cfg.Presence.ApplyWorkers,
		cfg.Presence.IntakeQueueSize,
		cfg.Presence.DispatchQueueSize,
		logger,
	)
}

func newReaper(cfg *config.Config, store *presence.Store, pipeline *presence.Pipeline, logger *slog.Logger) *presence.Reaper {
	return presence.NewReaper(store, pipeline, cfg.Presence.VendorTimeout, cfg.Presence.SweepInterval, logger)
}

func newRegistry(cfg *config.Config) *geo.Registry {
	return geo.NewRegistry(cfg.Geo.DefaultCellSizeKm)
}

func newDispatcher(registry *geo.Registry, sinks dispatch.SinkLookup, publisher service.EventPublisher, logger *slog.Logger) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(registry, sinks, publisher, logger)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewStreamHandler,
			handler.NewPresenceHandler,
			handler.NewQRHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				ws.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

type engineParams struct {
	fx.In
	fx.Lifecycle

	WriteThrough *presence.WriteThrough
	Pipeline     *presence.Pipeline
	Reaper       *presence.Reaper
	Dispatcher   *dispatch.Dispatcher
}

// startEngine runs the long-lived engine goroutines: the apply pipeline, the
// durable write-through, the liveness reaper, and the event dispatcher.
func startEngine(params engineParams) {
	engineCtx, cancel := context.WithCancel(context.Background())

	params.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go params.WriteThrough.Run(engineCtx)
			go params.Pipeline.Run(engineCtx)
			go params.Reaper.Run(engineCtx)
			go params.Dispatcher.Run(engineCtx, params.Pipeline.Applied())

			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()

			return nil
		},
	})
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))

				// Trigger graceful shutdown to execute all OnStop hooks
				if shutdownErr := params.Shutdown(); shutdownErr != nil {
					slog.Error("Failed to shutdown gracefully", slog.Any("error", shutdownErr))
					os.Exit(1)
				}
			}
		}()
	}
}
