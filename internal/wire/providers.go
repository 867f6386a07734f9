package wire

import (
	"context"
	"fmt"
	"time"

	"bookviz-api/internal/application/notification"
	"bookviz-api/internal/application/visualization"
	"bookviz-api/internal/config"
	"bookviz-api/internal/domain/repository"
	"bookviz-api/internal/infrastructure/catalog"
	"bookviz-api/internal/infrastructure/llm"
	"bookviz-api/internal/infrastructure/messaging"
	"bookviz-api/internal/infrastructure/persistence/memory"
	"bookviz-api/internal/infrastructure/persistence/postgres"
	"bookviz-api/internal/infrastructure/persistence/redis"
	"bookviz-api/internal/infrastructure/provider"
	"bookviz-api/internal/infrastructure/queue"
	"bookviz-api/internal/infrastructure/storage"
	"bookviz-api/internal/interfaces/http/handler"
	"bookviz-api/internal/interfaces/http/middleware"
	"bookviz-api/internal/interfaces/http/router"
	"bookviz-api/pkg/logger"
)

const fetchTimeout = time.Minute

// App is the API process: HTTP router plus an optional embedded worker pool.
type App struct {
	Config  *config.Config
	Router  *router.Router
	Service *visualization.Service
	Pool    *visualization.Pool
}

// Worker is the standalone worker process.
type Worker struct {
	Config *config.Config
	Pool   *visualization.Pool
}

// EventBus carries notifications between the process that produced them and
// the API instance holding the user's stream.
type EventBus interface {
	notification.Publisher
	notification.Subscriber
}

type redisBus struct {
	*messaging.Publisher
	*messaging.Subscriber
}

// ProvidePostgresClient opens the job database. It returns nil for the memory
// driver.
func ProvidePostgresClient(ctx context.Context, cfg *config.Config) (*postgres.Client, func(), error) {
	if cfg.Database.Driver == "memory" {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Postgres.AutoMigrate {
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient connects to redis when a redis backed queue or event bus
// is configured, and returns nil otherwise.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if cfg.Queue.Backend != queue.BackendRedis && cfg.Notification.Backend != "redis" {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

func ProvideJobRepository(client *postgres.Client) repository.JobRepository {
	if client == nil {
		return memory.NewJobRepository()
	}
	return postgres.NewJobRepository(client)
}

func ProvideJobCache(client *redis.Client) visualization.JobCache {
	if client == nil {
		return memory.NewJobCache()
	}
	return redis.NewJobCache(client)
}

func ProvideJobQueue(cfg *config.Config, client *redis.Client) (visualization.JobQueue, error) {
	return queue.New(cfg.Queue, client)
}

// ProvideRateLimiter returns nil without redis, which disables rate limiting.
func ProvideRateLimiter(client *redis.Client) middleware.RateLimiter {
	if client == nil {
		return nil
	}
	return redis.NewRateLimiter(client)
}

// ProvideGateway registers the configured image providers. Async results are
// kept in redis when available so any worker can collect them.
func ProvideGateway(ctx context.Context, cfg *config.Config, client *redis.Client) (*provider.Gateway, error) {
	var store provider.ResultStore = provider.NewMemoryResultStore()
	if client != nil {
		store = redis.NewResultStore(client, cfg.Queue.ProviderResultKeyRoot)
	}
	return provider.NewGatewayFromConfig(ctx, cfg.Providers, store, cfg.Queue.ProviderResultTTL)
}

// ProvidePromptEnhancer uses the configured chat model, falling back to the
// template enhancer when no LLM credentials are present.
func ProvidePromptEnhancer(ctx context.Context, cfg *config.Config) visualization.PromptEnhancer {
	factory := llm.NewEinoFactory(cfg)
	if !factory.Configured() {
		logger.Warn(ctx, "no prompt llm configured, using template prompts")
		return llm.NewStaticEnhancer(cfg.Prompt.DefaultStyle)
	}
	return llm.NewChatEnhancer(factory, cfg.Prompt.Provider, cfg.Prompt.DefaultStyle)
}

func ProvideImageStore(cfg *config.Config) (storage.Store, error) {
	return storage.New(cfg.Storage)
}

func ProvideImageFetcher(cfg *config.Config) *storage.Fetcher {
	return storage.NewFetcher(fetchTimeout, cfg.Storage.MaxBytes)
}

func ProvideCatalog(cfg *config.Config) (catalog.Client, func(), error) {
	return catalog.New(cfg.Catalog)
}

// ProvideEventBus selects the notification transport. The in-process hub only
// reaches streams held by the same process.
func ProvideEventBus(cfg *config.Config, client *redis.Client) (EventBus, error) {
	switch cfg.Notification.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis notification backend requires a redis client")
		}
		return redisBus{
			Publisher:  messaging.NewPublisher(client.Redis(), cfg.Notification.ChannelPrefix),
			Subscriber: messaging.NewSubscriber(client.Redis(), cfg.Notification.ChannelPrefix),
		}, nil
	case "", "memory":
		return notification.NewHub(), nil
	default:
		return nil, fmt.Errorf("unknown notification backend %q", cfg.Notification.Backend)
	}
}

func ProvideNotifier(cfg *config.Config, bus EventBus) visualization.Notifier {
	return notification.NewDispatcher(bus, cfg.Notification.PublishTimeout)
}

func ProvideService(
	cfg *config.Config,
	repo repository.JobRepository,
	jobQueue visualization.JobQueue,
	cache visualization.JobCache,
	gateway *provider.Gateway,
	store storage.Store,
	catalogClient catalog.Client,
	notifier visualization.Notifier,
) *visualization.Service {
	return visualization.NewService(repo, jobQueue, cache, gateway, store, catalogClient, notifier, visualization.OptionsFromConfig(cfg))
}

func ProvideProcessor(
	cfg *config.Config,
	svc *visualization.Service,
	gateway *provider.Gateway,
	enhancer visualization.PromptEnhancer,
	store storage.Store,
	fetcher *storage.Fetcher,
	catalogClient catalog.Client,
) *visualization.Processor {
	return visualization.NewProcessor(svc, gateway, enhancer, store, fetcher, catalogClient, visualization.ProcessorOptions{
		PromptTimeout: cfg.Prompt.Timeout,
		JobTimeout:    cfg.Worker.JobTimeout,
		StatusPoll:    cfg.Worker.StatusPoll,
		FallbackChain: provider.FallbackChain(cfg.Providers.FallbackChain),
		MaxImageBytes: cfg.Storage.MaxBytes,
	})
}

func ProvidePool(cfg *config.Config, svc *visualization.Service, processor *visualization.Processor) *visualization.Pool {
	return visualization.NewPool(svc, processor, visualization.NewRetryPolicy(cfg.Retry), visualization.PoolConfigFrom(cfg.Worker))
}

// ProvideHealthHandler probes the backing services that are configured.
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rdb *redis.Client) *handler.HealthHandler {
	var deps []handler.Dependency
	if pg != nil {
		deps = append(deps, handler.Dependency{Name: "postgres", Checker: pg})
	}
	if rdb != nil {
		deps = append(deps, handler.Dependency{Name: "redis", Checker: rdb})
	}
	return handler.NewHealthHandler(cfg.App.Version, deps...)
}

func ProvideEventsHandler(cfg *config.Config, bus EventBus) *handler.EventsHandler {
	return handler.NewEventsHandler(bus, cfg.Notification.Heartbeat)
}

func ProvideRouter(cfg *config.Config, handlers router.Handlers, limiter middleware.RateLimiter) *router.Router {
	return router.New(cfg, handlers, limiter)
}
