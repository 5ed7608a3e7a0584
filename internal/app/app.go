package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"storefront/internal/config"
	"storefront/internal/consumer"
	"storefront/internal/database"
	"storefront/internal/eventbus"
	"storefront/internal/events"
	"storefront/internal/gateway"
	"storefront/internal/handler"
	"storefront/internal/model"
	"storefront/internal/monitor"
	"storefront/internal/repository"
	"storefront/internal/service/auth"
	"storefront/internal/service/catalog"
	"storefront/internal/service/design"
	"storefront/internal/service/order"
	"storefront/internal/utils"
	"storefront/pkg/log"
	pkgutils "storefront/pkg/utils"
)

// Version reported by traces
const Version = "1.0.0"

// Role one service hosted by the process
type Role string

// Roles
const (
	RoleCatalog Role = "catalog"
	RoleOrder   Role = "order"
	RoleDesign  Role = "design"
	RoleGateway Role = "gateway"
)

// App a wired process: stores, bus, consumers and the HTTP server
type App struct {
	cfg   *config.Config
	roles map[Role]bool

	db      *gorm.DB
	bus     *eventbus.InstrumentedBus
	metrics *monitor.MetricsCollector
	tracer  *monitor.Tracer
	health  *handler.HealthHandler

	authService    auth.AuthService
	catalogService catalog.CatalogService
	orderService   order.OrderService
	designService  design.DesignService
	gateway        *gateway.Gateway

	products repository.ProductRepository
	orders   repository.OrderRepository
	designs  repository.DesignRepository

	consumers []*consumer.Consumer
	router    *gin.Engine
	server    *http.Server
}

// New wires every component the roles need. The gateway role cannot share a
// process with the resource services.
func New(ctx context.Context, cfg *config.Config, roles ...Role) (*App, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one role is required")
	}

	a := &App{cfg: cfg, roles: make(map[Role]bool, len(roles))}
	for _, r := range roles {
		a.roles[r] = true
	}
	if a.roles[RoleGateway] && len(a.roles) > 1 {
		return nil, fmt.Errorf("the gateway runs alone")
	}

	a.metrics = monitor.NewMetricsCollector(cfg.Metrics.Namespace)
	a.health = handler.NewHealthHandler(cfg.Service, 0)

	tracer, err := monitor.NewTracer(&monitor.TracerConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracer: %w", err)
	}
	a.tracer = tracer
	if tracer.Enabled() {
		log.WithField("endpoint", cfg.Tracing.Endpoint).Info("Tracing enabled")
	}

	if a.roles[RoleGateway] {
		g, err := gateway.New(cfg.Gateway)
		if err != nil {
			return nil, err
		}
		a.gateway = g
		a.router = a.newGatewayRouter()
		a.server = a.newServer()
		return a, nil
	}

	if err := a.initAuth(); err != nil {
		return nil, err
	}
	if err := a.initStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initBus(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initServices(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.router = a.newRouter()
	a.server = a.newServer()
	return a, nil
}

// Router returns the HTTP handler of the process
func (a *App) Router() *gin.Engine {
	return a.router
}

// Bus returns the instrumented bus; nil for the gateway
func (a *App) Bus() eventbus.Bus {
	if a.bus == nil {
		return nil
	}
	return a.bus
}

func (a *App) initAuth() error {
	jwtManager := utils.NewJWTManager(a.cfg.Security.JWT.Secret, a.cfg.Security.JWT.Issuer, a.cfg.Security.JWT.Expire)
	svc, err := auth.NewAuthService(auth.Credentials{
		Username:     a.cfg.Security.DemoUser.Username,
		Password:     a.cfg.Security.DemoUser.Password,
		PasswordHash: a.cfg.Security.DemoUser.PasswordHash,
	}, jwtManager, a.metrics)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}
	a.authService = svc
	return nil
}

// initStores opens the relational store, or the in-memory repositories when the driver is memory
func (a *App) initStores(ctx context.Context) error {
	if a.cfg.Database.Driver == config.DriverMemory {
		log.Info("Using in-memory stores")
		a.products = repository.NewMemoryProductRepository()
		a.orders = repository.NewMemoryOrderRepository()
		a.designs = repository.NewMemoryDesignRepository()
		return nil
	}

	var models []interface{}
	if a.roles[RoleCatalog] {
		models = append(models, &model.Product{})
	}
	if a.roles[RoleOrder] {
		models = append(models, &model.Order{}, &model.OrderItem{})
	}
	if a.roles[RoleDesign] {
		models = append(models, &model.Design{})
	}

	db, err := database.OpenWithRetry(ctx, a.cfg, models...)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.products = repository.NewProductRepository(db)
	a.orders = repository.NewOrderRepository(db)
	a.designs = repository.NewDesignRepository(db)

	a.health.AddCheck("database", func(ctx context.Context) error {
		return database.Health(ctx, db)
	})
	return nil
}

// initBus connects the bus with the startup retry policy and declares the
// subscriptions this process consumes so early publishes are not lost
func (a *App) initBus(ctx context.Context) error {
	if !a.roles[RoleCatalog] && !a.roles[RoleOrder] {
		return nil
	}

	var bus eventbus.Bus
	err := pkgutils.Retry(ctx, a.cfg.Startup.Retries, a.cfg.Startup.Backoff, "bus", func() error {
		b, err := eventbus.New(ctx, a.cfg.Bus, a.cfg.Service)
		if err != nil {
			return err
		}
		bus = b
		return nil
	})
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}

	a.bus = eventbus.Instrument(bus,
		eventbus.WithBreaker(eventbus.NewBreakerManager(a.cfg.CircuitBreak)),
		eventbus.WithTracer(a.tracer),
		eventbus.WithMetrics(a.metrics),
	)
	a.health.AddCheck("bus", a.bus.Health)

	for _, s := range a.subscriptions() {
		if err := eventbus.Declare(ctx, a.bus, s.topic, s.subscription); err != nil {
			return fmt.Errorf("declare %s: %w", s.subscription, err)
		}
	}

	log.WithFields(map[string]interface{}{
		"driver": a.cfg.Bus.Driver,
	}).Info("Event bus connected")
	return nil
}

type subscription struct {
	topic        string
	subscription string
}

func (a *App) subscriptions() []subscription {
	var subs []subscription
	if a.roles[RoleCatalog] {
		subs = append(subs, subscription{events.TopicOrderCreated, events.SubscriptionCatalogOrders})
	}
	if a.roles[RoleOrder] {
		subs = append(subs, subscription{events.TopicStockEvents, events.SubscriptionStockEvents})
	}
	return subs
}

func (a *App) initServices(ctx context.Context) error {
	if a.roles[RoleCatalog] {
		created, err := catalog.Seed(ctx, a.products, catalog.SeedConfig{
			Enabled:  a.cfg.Catalog.Seed.Enabled,
			Count:    a.cfg.Catalog.Seed.Count,
			RandSeed: a.cfg.Catalog.Seed.RandSeed,
		})
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		if created > 0 {
			log.WithField("count", created).Info("Seeded demo products")
		}

		svc, err := catalog.NewCatalogService(ctx, a.products,
			catalog.CacheConfig{
				Enabled:     a.cfg.Cache.Catalog.Enabled,
				TTL:         a.cfg.Cache.Catalog.TTL,
				Shards:      a.cfg.Cache.Catalog.Shards,
				MaxSizeMB:   a.cfg.Cache.Catalog.MaxSizeMB,
				CleanWindow: a.cfg.Cache.Catalog.CleanWindow,
			},
			catalog.BloomConfig{
				Enabled:           a.cfg.Cache.Bloom.Enabled,
				ExpectedItems:     a.cfg.Cache.Bloom.ExpectedItems,
				FalsePositiveRate: a.cfg.Cache.Bloom.FalsePositiveRate,
			})
		if err != nil {
			return fmt.Errorf("create catalog service: %w", err)
		}
		a.catalogService = svc
		if err := svc.WarmUp(ctx); err != nil {
			return fmt.Errorf("warm up catalog: %w", err)
		}

		reservations := catalog.NewReservationHandler(a.products, a.bus, svc, a.metrics)
		a.consumers = append(a.consumers, consumer.NewConsumer(a.bus,
			events.TopicOrderCreated, events.SubscriptionCatalogOrders,
			reservations.Handle, a.cfg.Bus.RedeliveryDelay))
	}

	if a.roles[RoleOrder] {
		a.orderService = order.NewOrderService(a.orders, a.bus, a.metrics)

		statuses := order.NewStatusHandler(a.orders, a.metrics)
		a.consumers = append(a.consumers, consumer.NewConsumer(a.bus,
			events.TopicStockEvents, events.SubscriptionStockEvents,
			statuses.Handle, a.cfg.Bus.RedeliveryDelay))
	}

	if a.roles[RoleDesign] {
		a.designService = design.NewDesignService(a.designs, a.metrics)
	}
	return nil
}

// Close releases the bus, the catalog cache and the database
func (a *App) Close() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			log.WithError(err).Warn("Failed to close event bus")
		}
	}
	if a.catalogService != nil {
		if err := a.catalogService.Close(); err != nil {
			log.WithError(err).Warn("Failed to close catalog cache")
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}
}
