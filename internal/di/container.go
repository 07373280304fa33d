package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/money"
	"github.com/hanko-field/ordercore/internal/platform/cache"
	"github.com/hanko-field/ordercore/internal/platform/config"
	"github.com/hanko-field/ordercore/internal/platform/events"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/platform/idempotency"
	"github.com/hanko-field/ordercore/internal/platform/observability"
	"github.com/hanko-field/ordercore/internal/repositories"
	rfirestore "github.com/hanko-field/ordercore/internal/repositories/firestore"
	"github.com/hanko-field/ordercore/internal/repositories/memory"
	"github.com/hanko-field/ordercore/internal/repositories/postgres"
	"github.com/hanko-field/ordercore/internal/services"
)

const (
	idempotencyCollection = "idempotencyKeys"
	storeCheck            = "store"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory services.InventoryService
	Cart      services.CartService
	Orders    services.OrderService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Idempotency  idempotency.Store
	Publisher    events.Publisher

	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	metrics   *observability.Metrics
	redis     redis.UniversalClient
	publisher events.Publisher
	provider  *pfirestore.Provider
	clock     func() time.Time
	build     services.BuildInfo
}

// WithLogger sets the base logger handed to services and infrastructure.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithMetrics records service events on the given instruments.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *containerOptions) {
		o.metrics = metrics
	}
}

// WithRedisClient supplies a redis client instead of dialling cfg.Redis.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *containerOptions) {
		o.redis = client
	}
}

// WithPublisher overrides the publisher selected by cfg.Events.Driver. The breaker still wraps it.
func WithPublisher(publisher events.Publisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithFirestoreProvider shares a provider already created for the firestore store.
func WithFirestoreProvider(provider *pfirestore.Provider) Option {
	return func(o *containerOptions) {
		o.provider = provider
	}
}

// WithClock overrides the clock used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by health checks.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// OpenRegistry opens the store selected by cfg.Store.Driver. The returned provider is non-nil only
// for the firestore driver so it can be shared with the idempotency store.
func OpenRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.Registry, *pfirestore.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", config.StoreDriverMemory:
		return memory.NewStore(memory.WithLockTimeout(cfg.Store.LockTimeout)), nil, nil
	case config.StoreDriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			LockTimeout:     cfg.Store.LockTimeout,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			AutoMigrate:     cfg.Postgres.AutoMigrate,
			Logger:          logger.Named("postgres"),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		store, err := rfirestore.New(provider, rfirestore.Options{
			TxAttempts: cfg.Store.TxAttempts,
			TxTimeout:  cfg.Store.LockTimeout,
		})
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, err
		}
		return store, provider, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// NewContainer constructs the runtime dependencies on top of an opened registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	o := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	c := &Container{Config: cfg, Repositories: reg}

	if o.redis == nil && cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		o.redis = client
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
	}

	publisher, err := c.buildPublisher(ctx, cfg.Events, o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Publisher = publisher
	c.Idempotency = buildIdempotencyStore(cfg, o)

	svc, err := buildServices(cfg, reg, publisher, o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.EventsConfig, o containerOptions) (events.Publisher, error) {
	next := o.publisher
	if next == nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
		case "", config.EventsDriverLog:
			next = events.NewLogPublisher(o.logger.Named("events"))
		case config.EventsDriverPubSub:
			client, err := pubsub.NewClient(ctx, cfg.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("build pubsub client: %w", err)
			}
			publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Topic))
			if err != nil {
				_ = client.Close()
				return nil, err
			}
			c.closers = append(c.closers, func(context.Context) error {
				_ = publisher.Close()
				return client.Close()
			})
			next = publisher
		case config.EventsDriverKafka:
			writer, err := events.NewKafkaWriter(cfg.Brokers, cfg.Topic)
			if err != nil {
				return nil, err
			}
			publisher, err := events.NewKafkaPublisher(writer)
			if err != nil {
				_ = writer.Close()
				return nil, err
			}
			c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
			next = publisher
		default:
			return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
		}
	}

	failures := cfg.BreakerFailures
	if failures < 0 {
		failures = 0
	}
	return events.NewBreakerPublisher(next, events.BreakerSettings{
		Name:        "events",
		Failures:    uint32(failures),
		OpenTimeout: cfg.BreakerOpenTimeout,
		Interval:    cfg.BreakerInterval,
		Logger:      o.logger.Named("events"),
	}), nil
}

func buildIdempotencyStore(cfg config.Config, o containerOptions) idempotency.Store {
	switch {
	case o.redis != nil:
		return idempotency.NewRedisStore(o.redis)
	case o.provider != nil:
		return idempotency.NewFirestoreStore(o.provider, idempotencyCollection, cfg.Store.TxAttempts)
	default:
		return idempotency.NewMemoryStore()
	}
}

func buildServices(cfg config.Config, reg repositories.Registry, publisher events.Publisher, o containerOptions) (Services, error) {
	var svc Services

	logger := observability.ServiceLogger(o.logger.Named("services"), o.metrics)
	normalizer := money.New(cfg.Pricing.DefaultCurrency)

	var cartCache services.CartCache
	if o.redis != nil {
		cartCache = cache.NewRedisCartCache(o.redis, cfg.Redis.CartCacheTTL)
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products:   reg.Products(),
		UnitOfWork: reg,
		Events:     publisher,
		Normalizer: normalizer,
		Clock:      o.clock,
		Logger:     logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		UnitOfWork:      reg,
		Cache:           cartCache,
		Normalizer:      normalizer,
		TaxRate:         cfg.Pricing.CartTaxRate,
		DefaultCurrency: cfg.Pricing.DefaultCurrency,
		GuestTTL:        cfg.Cart.GuestTTL,
		Clock:           o.clock,
		Logger:          logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		Inventory:  inventorySvc,
		UnitOfWork: reg,
		Events:     publisher,
		CartCache:  cartCache,
		Pricing: services.FlatRatePolicy{
			TaxRate:          cfg.Pricing.OrderTaxRate,
			ShippingFlat:     cfg.Pricing.ShippingFlat,
			FreeShippingOver: cfg.Pricing.FreeShippingOver,
		},
		Normalizer:      normalizer,
		NumberPrefix:    cfg.Orders.NumberPrefix,
		NumberAttempts:  cfg.Orders.NumberAttempts,
		RestockOnReturn: cfg.Orders.RestockOnReturn,
		Clock:           o.clock,
		Logger:          logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	health, err := buildHealthRepository(reg, publisher, o)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Critical:         []string{storeCheck},
		Clock:            o.clock,
		Build:            o.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// buildHealthRepository probes the store through its own health repository and adds the optional
// redis and publisher dependencies.
func buildHealthRepository(reg repositories.Registry, publisher events.Publisher, o containerOptions) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name: storeCheck,
		Check: func(ctx context.Context) error {
			storeHealth := reg.Health()
			if storeHealth == nil {
				return nil
			}
			report, err := storeHealth.Collect(ctx)
			if err != nil {
				return err
			}
			for name, check := range report.Checks {
				if check.Status != domain.HealthStatusOK {
					return fmt.Errorf("%s: %s", name, check.Detail)
				}
			}
			return nil
		},
	}}
	if o.redis != nil {
		client := o.redis
		checks = append(checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	if breaker, ok := publisher.(*events.BreakerPublisher); ok {
		checks = append(checks, repositories.DependencyCheck{
			Name: "events",
			Check: func(context.Context) error {
				if state := breaker.State(); state != "closed" {
					return fmt.Errorf("publisher circuit %s", state)
				}
				return nil
			},
		})
	}
	return repositories.NewProbeHealthRepository(o.clock, checks...)
}
