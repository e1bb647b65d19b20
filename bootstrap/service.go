// Package bootstrap assembles the geofence service from its configuration.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mycobrun/geofence-service/api"
	"github.com/mycobrun/geofence-service/auth"
	"github.com/mycobrun/geofence-service/config"
	"github.com/mycobrun/geofence-service/database"
	"github.com/mycobrun/geofence-service/geofence"
	"github.com/mycobrun/geofence-service/health"
	pkghttp "github.com/mycobrun/geofence-service/http"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/messaging"
	"github.com/mycobrun/geofence-service/spatial"
	"github.com/mycobrun/geofence-service/telemetry"
)

const defaultCheckTimeout = 3 * time.Second

// Service holds the initialized components of the geofence service.
type Service struct {
	Config      *config.Config
	Logger      *logging.Logger
	Connections *database.Connections
	Store       *geofence.Store
	Engine      *geofence.Engine
	Handler     http.Handler
	Server      *pkghttp.Server

	closers []func(context.Context) error
}

// Initialize connects the configured backend, loads the stored geofences
// into the index and builds the HTTP handler. On error everything opened so
// far is released.
func Initialize(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *Service, err error) {
	if logger == nil {
		logger = logging.NewLogger(cfg.LogLevel)
	}
	logger = logger.WithService(cfg.ServiceName)

	svc := &Service{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = svc.Close(context.Background())
		}
	}()

	tracing, err := telemetry.NewTracingProvider(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	svc.closers = append(svc.closers, tracing.Shutdown)

	metricsProvider, err := telemetry.NewMetricsProvider(ctx, telemetry.MetricsConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		ExportInterval: cfg.MetricsExportInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	svc.closers = append(svc.closers, metricsProvider.Shutdown)
	meter := metricsProvider.Meter()

	httpMetrics, err := telemetry.NewHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}
	geofenceMetrics, err := telemetry.NewGeofenceMetrics(meter)
	if err != nil {
		return nil, err
	}

	conns, err := database.Open(ctx, database.ConnectionConfig{
		Backend:        database.Backend(cfg.StoreBackend),
		SQLitePath:     cfg.SQLitePath,
		DatabaseURL:    cfg.DatabaseURL,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		RedisTLS:       cfg.RedisTLS,
		RedisKeyPrefix: cfg.RedisKeyPrefix,
		Retry:          database.StartupRetryConfig(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	svc.Connections = conns
	svc.closers = append(svc.closers, func(context.Context) error { return conns.Close() })

	repo := conns.Repository
	if conns.Backend != database.BackendMemory {
		dbMetrics, err := telemetry.NewDatabaseMetrics(meter, string(conns.Backend))
		if err != nil {
			return nil, err
		}
		repo = database.Instrument(repo, string(conns.Backend), tracing.Tracer(), dbMetrics)
	}

	storeOpts := []geofence.Option{
		geofence.WithLogger(logger),
		geofence.WithMetrics(geofenceMetrics),
	}
	if cfg.RedisAddr != "" {
		publisher, err := svc.publisher(ctx, tracing)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, geofence.WithPublisher(publisher))
	}

	index, err := spatial.NewGridIndex(
		spatial.WithCellSize(cfg.GridCellSize),
		spatial.WithMaxCellsPerEntry(cfg.GridMaxCells),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create spatial index: %w", err)
	}

	svc.Store = geofence.NewStore(repo, index, storeOpts...)
	if err := svc.Store.Load(ctx); err != nil {
		return nil, err
	}
	logger.Info("geofences loaded",
		"count", svc.Store.Len(),
		"backend", string(conns.Backend),
		"cell_size", index.CellSize(),
	)

	svc.Engine = geofence.NewEngine(svc.Store,
		geofence.WithTracer(tracing.Tracer()),
		geofence.WithEngineMetrics(geofenceMetrics),
	)

	audit := logging.NewAuditLogger(logging.AuditLoggerConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Logger:      logger,
	})

	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.Issuer = cfg.JWTIssuer

	checker := health.NewChecker(cfg.Version)
	checker.AddCheck("repository", health.RepositoryCheck(repo, defaultCheckTimeout), true)
	checker.AddCheck("spatial_index", health.IndexCheck(index.Stats, svc.Store.Len), false)

	routerCfg := api.RouterConfig{
		Handlers:       api.NewHandlers(svc.Store, svc.Engine, audit, logger),
		Logger:         logger,
		Audit:          audit,
		JWT:            auth.NewJWTManager(jwtCfg),
		APIKey:         cfg.AuthorizationKey,
		BasePath:       cfg.BasePath,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.WriteTimeout,
		Health:         checker,
		Tracer:         tracing.Tracer(),
		HTTPMetrics:    httpMetrics,
	}
	if cfg.RateLimitEnabled {
		rlCfg := pkghttp.DefaultRateLimiterConfig()
		rlCfg.RequestsPerSecond = cfg.RateLimitRPS
		rlCfg.BurstSize = cfg.RateLimitBurst
		rlCfg.KeyFunc = api.SubjectKeyFunc
		limiter := pkghttp.NewRateLimiter(rlCfg, audit)
		svc.closers = append(svc.closers, func(context.Context) error {
			limiter.Close()
			return nil
		})
		routerCfg.RateLimiter = limiter
	}
	svc.Handler = api.NewRouter(routerCfg)

	svc.Server = pkghttp.NewServer(pkghttp.ServerConfig{
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, svc.Handler, logger)

	return svc, nil
}

// publisher reuses the repository's Redis client when the store lives in
// Redis and dials a separate one otherwise.
func (s *Service) publisher(ctx context.Context, tracing *telemetry.TracingProvider) (*messaging.RedisPublisher, error) {
	cfg := s.Config
	client := s.Connections.Redis
	if client == nil {
		redisCfg := database.DefaultRedisConfig(cfg.RedisAddr)
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.TLS = cfg.RedisTLS

		var err error
		client, err = database.RetryWithResult(ctx, database.StartupRetryConfig(), func() (*database.RedisClient, error) {
			return database.NewRedisClient(ctx, redisCfg)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		s.closers = append(s.closers, func(context.Context) error { return client.Close() })
	}

	p := messaging.NewRedisPublisher(client.Client(), cfg.EventsChannel, messaging.WithTracer(tracing.Tracer()))
	s.Logger.Info("publishing geofence events", "channel", p.Channel())
	return p, nil
}

// Run serves HTTP until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.Server.Run(ctx)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	return s.Server.Serve(ctx, ln)
}

// Close releases resources in reverse order of acquisition.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return stderrors.Join(errs...)
}
