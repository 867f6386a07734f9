//go:build wireinject
// +build wireinject

// Package wire assembles the API and worker processes.
package wire

import (
	"context"

	"github.com/google/wire"

	"bookviz-api/internal/application/visualization"
	"bookviz-api/internal/config"
	"bookviz-api/internal/infrastructure/provider"
	"bookviz-api/internal/interfaces/http/handler"
	"bookviz-api/internal/interfaces/http/router"
)

// DataSet provides the job store, cache, queue and event bus.
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	ProvideRedisClient,
	ProvideJobRepository,
	ProvideJobCache,
	ProvideJobQueue,
	ProvideEventBus,
)

// PipelineSet provides the service and the processing pipeline.
var PipelineSet = wire.NewSet(
	ProvideGateway,
	ProvidePromptEnhancer,
	ProvideImageStore,
	ProvideImageFetcher,
	ProvideCatalog,
	ProvideNotifier,
	ProvideService,
	ProvideProcessor,
	ProvidePool,
)

// RouterSet provides the HTTP surface.
var RouterSet = wire.NewSet(
	ProvideRateLimiter,
	ProvideHealthHandler,
	ProvideEventsHandler,
	handler.NewVisualizationHandler,
	handler.NewProviderHandler,
	wire.Bind(new(handler.VisualizationService), new(*visualization.Service)),
	wire.Bind(new(handler.ProviderLister), new(*provider.Gateway)),
	wire.Struct(new(router.Handlers), "*"),
	ProvideRouter,
)

// InitializeApp builds the API process.
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		DataSet,
		PipelineSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker builds the standalone worker process.
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		DataSet,
		PipelineSet,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}
