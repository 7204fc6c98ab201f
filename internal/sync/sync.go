package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/eventbus"
	"firestore-sync/internal/shared/logger"
	synchttp "firestore-sync/internal/sync/adapter/http"
	"firestore-sync/internal/sync/adapter/persistence"
	mongopersistence "firestore-sync/internal/sync/adapter/persistence/mongodb"
	"firestore-sync/internal/sync/adapter/persistence/sqlite"
	"firestore-sync/internal/sync/adapter/transform"
	"firestore-sync/internal/sync/config"
	"firestore-sync/internal/sync/domain/model"
	"firestore-sync/internal/sync/domain/repository"
	"firestore-sync/internal/sync/telemetry"
	"firestore-sync/internal/sync/usecase"
)

const connectTimeout = 15 * time.Second

// Backends are the storage ports the pipeline runs on
type Backends struct {
	Tracker     repository.TrackerLog
	Table       repository.MainTable
	Checkpoints repository.CheckpointStore
	Source      repository.DocumentSource
	Leases      repository.LeaseManager
	Transform   repository.TransformClient
}

// SyncModule is the assembled change-capture pipeline
type SyncModule struct {
	Config        *config.SyncConfig
	Resolver      *usecase.ConfigResolver
	Recorder      *usecase.ChangeEventRecorder
	Consolidation *usecase.ConsolidationEngine
	Backfill      *usecase.BackfillEngine
	Scheduler     *usecase.Scheduler
	Metrics       *telemetry.Metrics
	Handler       *synchttp.Handler
	Bus           *eventbus.EventBus
	Backends      Backends
	// Skipped holds the config validation errors of configs left out
	Skipped []error
	Logger  logger.Logger

	warehouse   *sqlite.Warehouse
	mongoClient *mongo.Client
	redisClient *redis.Client
	verifier    *synchttp.TokenVerifier
}

// CompileCollections loads the collection config file and compiles it. Invalid
// configs are skipped and returned; err is only set when the file itself
// cannot be read.
func CompileCollections(path string, log logger.Logger) (*usecase.ConfigResolver, []error, error) {
	configs, skipped, err := config.LoadCollectionConfigs(path, log)
	if err != nil {
		return nil, nil, err
	}
	registry, err := usecase.NewTransformRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transform registry: %w", err)
	}
	resolver, invalid := usecase.NewConfigResolver(configs, registry, log)
	return resolver, append(skipped, invalid...), nil
}

// NewSyncModule connects the configured backends and assembles the pipeline
func NewSyncModule(ctx context.Context, cfg *config.SyncConfig, log logger.Logger) (*SyncModule, error) {
	log.Info("Initializing Sync Module...")

	resolver, skipped, err := CompileCollections(cfg.ConfigFile, log)
	if err != nil {
		return nil, err
	}

	m := &SyncModule{Config: cfg, Resolver: resolver, Skipped: skipped, Logger: log}
	if err := m.connect(ctx); err != nil {
		m.Close(context.Background())
		return nil, err
	}
	m.assemble()

	if err := m.provision(ctx); err != nil {
		m.Close(context.Background())
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"configs":            len(resolver.Configs()),
		"skipped":            len(skipped),
		"tracker_backend":    cfg.TrackerBackend,
		"checkpoint_backend": cfg.CheckpointBackend,
	}).Info("Sync Module initialized successfully")
	return m, nil
}

// NewSyncModuleWithBackends assembles the pipeline on caller-provided
// backends. Nothing is connected or closed by the module.
func NewSyncModuleWithBackends(cfg *config.SyncConfig, configs []model.CollectionConfig, backends Backends, log logger.Logger) (*SyncModule, error) {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	registry, err := usecase.NewTransformRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to create transform registry: %w", err)
	}
	resolver, skipped := usecase.NewConfigResolver(configs, registry, log)

	m := &SyncModule{Config: cfg, Resolver: resolver, Skipped: skipped, Backends: backends, Logger: log}
	if m.Backends.Leases == nil {
		m.Backends.Leases = usecase.NewLocalLeaseManager()
	}
	if m.Backends.Source == nil {
		m.Backends.Source = noDocumentSource{}
	}
	m.assemble()
	return m, nil
}

func (m *SyncModule) connect(ctx context.Context) error {
	cfg := m.Config
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	warehouse, err := sqlite.Open(cfg.WarehouseDSN, m.Logger)
	if err != nil {
		return errors.NewInfrastructureError("failed to open warehouse").WithCause(err)
	}
	m.warehouse = warehouse
	m.Backends.Table = warehouse
	m.Backends.Tracker = warehouse
	m.Backends.Checkpoints = warehouse
	m.Backends.Leases = usecase.NewLocalLeaseManager()
	m.Backends.Source = noDocumentSource{}

	if cfg.Redis.Enabled {
		m.redisClient = config.NewRedisClient(&cfg.Redis)
		if err := m.redisClient.Ping(ctx).Err(); err != nil {
			return errors.NewInfrastructureError("failed to connect to redis").WithCause(err)
		}
		m.Backends.Leases = persistence.NewRedisLeaseManager(m.redisClient, cfg.Redis.KeyPrefix)
		if cfg.TrackerBackend == config.BackendRedis {
			m.Backends.Tracker = persistence.NewRedisTrackerLog(m.redisClient, cfg.Redis.KeyPrefix, m.Logger)
		}
		m.Logger.Info("Redis connection established successfully")
	}

	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return errors.NewInfrastructureError("failed to connect to mongodb").WithCause(err)
		}
		m.mongoClient = client
		if err := client.Ping(ctx, nil); err != nil {
			return errors.NewInfrastructureError("failed to ping mongodb").WithCause(err)
		}
		db := client.Database(cfg.Mongo.Database)

		source := mongopersistence.NewDocumentSource(db, cfg.Mongo.DocumentsCollection, m.Logger)
		if err := source.EnsureIndexes(ctx); err != nil {
			m.Logger.WithError(err).Warn("Failed to ensure document source indexes")
		}
		m.Backends.Source = source

		if cfg.CheckpointBackend == config.BackendMongoDB {
			checkpoints := mongopersistence.NewCheckpointStore(db, cfg.Mongo.CheckpointsCollection)
			if err := checkpoints.EnsureIndexes(ctx); err != nil {
				return errors.NewInfrastructureError("failed to index checkpoint collection").WithCause(err)
			}
			m.Backends.Checkpoints = checkpoints
		}
		m.Logger.Info("MongoDB connection established successfully")
	}
	return nil
}

func (m *SyncModule) assemble() {
	cfg := m.Config
	if m.Backends.Transform == nil {
		m.Backends.Transform = transform.NewWebhookClient(cfg.TransformTimeout, m.Logger)
	}

	m.Bus = eventbus.NewEventBus(m.Logger)
	m.Metrics = telemetry.NewMetrics(cfg.InstanceID)
	m.Metrics.Subscribe(m.Bus)

	coercion := usecase.NewCoercionEngine(m.Backends.Transform, m.Logger)
	m.Recorder = usecase.NewChangeEventRecorder(m.Resolver, coercion, m.Backends.Tracker, m.Bus, m.Logger)
	m.Consolidation = usecase.NewConsolidationEngine(
		m.Resolver,
		m.Backends.Tracker,
		m.Backends.Table,
		m.Backends.Checkpoints,
		m.Backends.Leases,
		m.Bus,
		usecase.ConsolidationOptions{
			InstanceID: cfg.InstanceID,
			LeaseTTL:   cfg.LeaseTTL,
			Retention:  cfg.ChangelogRetention,
		},
		m.Logger,
	)
	m.Backfill = usecase.NewBackfillEngine(m.Resolver, coercion, m.Backends.Source, m.Backends.Table, m.Bus, cfg.BackfillPageSize, m.Logger)
	m.Scheduler = usecase.NewScheduler(m.Resolver, m.Consolidation, m.Logger)

	m.verifier = synchttp.NewTokenVerifier(cfg.Ingest.JWTSecret, cfg.Ingest.JWTIssuer)
	m.Handler = synchttp.NewHandler(m.Recorder, m.Consolidation, m.Backfill, m.Resolver, m.Metrics.Handler(), m.Logger)
}

// provision creates the tracker and main tables of every config up front
func (m *SyncModule) provision(ctx context.Context) error {
	for _, cfg := range m.Resolver.Configs() {
		if err := m.Backends.Table.EnsureTables(ctx, &cfg.CollectionConfig); err != nil {
			return errors.NewInfrastructureError("failed to provision tables for " + cfg.ID).WithCause(err)
		}
	}
	return nil
}

// RegisterRoutes mounts the ingestion and admin API on router
func (m *SyncModule) RegisterRoutes(router fiber.Router) {
	if m.verifier == nil {
		m.Logger.Warn("INGEST_JWT_SECRET is not set, the /v1 API is unauthenticated")
	}
	m.Handler.RegisterRoutes(router, synchttp.JWTMiddleware(m.verifier))
}

// Start registers and starts the consolidation schedules. With
// BackfillOnStart, every backfill-enabled config is loaded first.
func (m *SyncModule) Start(ctx context.Context) {
	if m.Config.BackfillOnStart {
		for _, result := range m.Backfill.RunAll(ctx) {
			m.Logger.WithFields(map[string]interface{}{
				"config_id":     result.ConfigID,
				"inserted":      result.Inserted,
				"dropped_pages": result.DroppedPages,
			}).Info("Startup backfill finished")
		}
	}

	if skipped := m.Scheduler.Register(); len(skipped) > 0 {
		m.Skipped = append(m.Skipped, skipped...)
	}
	m.Scheduler.Start()
	m.Logger.Infof("Consolidation scheduler started with %d jobs", m.Scheduler.Entries())
}

// HealthCheck pings the connected backends
func (m *SyncModule) HealthCheck(ctx context.Context) error {
	if m.warehouse != nil {
		if err := m.warehouse.Ping(ctx); err != nil {
			return fmt.Errorf("warehouse health check failed: %w", err)
		}
	}
	if m.redisClient != nil {
		if err := m.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	if m.mongoClient != nil {
		if err := m.mongoClient.Ping(ctx, nil); err != nil {
			return fmt.Errorf("MongoDB health check failed: %w", err)
		}
	}
	return nil
}

// Stop halts the scheduler, waiting for running consolidations until ctx
// expires
func (m *SyncModule) Stop(ctx context.Context) error {
	return m.Scheduler.Stop(ctx)
}

// Close releases the connections opened by NewSyncModule
func (m *SyncModule) Close(ctx context.Context) error {
	var errs []error
	if m.warehouse != nil {
		if err := m.warehouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close warehouse: %w", err))
		}
	}
	if m.redisClient != nil {
		if err := m.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if m.mongoClient != nil {
		if err := m.mongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect mongodb: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// noDocumentSource stands in when no document store is configured
type noDocumentSource struct{}

func (noDocumentSource) Page(context.Context, model.BackfillScope, string, int) ([]model.SourceDocument, error) {
	return nil, errors.NewInfrastructureError("backfill requires MONGODB_URI")
}
