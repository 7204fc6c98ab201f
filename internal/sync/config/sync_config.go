package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v6"
)

// Backend names
const (
	BackendWarehouse = "warehouse"
	BackendRedis     = "redis"
	BackendMongoDB   = "mongodb"
)

// MongoConfig points at the document store read by backfill
type MongoConfig struct {
	URI                   string `env:"MONGODB_URI" json:"uri"`
	Database              string `env:"MONGODB_DATABASE" envDefault:"firestore_default" json:"database"`
	DocumentsCollection   string `env:"MONGODB_DOCUMENTS_COLLECTION" envDefault:"documents" json:"documents_collection"`
	CheckpointsCollection string `env:"MONGODB_CHECKPOINTS_COLLECTION" envDefault:"sync_checkpoints" json:"checkpoints_collection"`
}

// ServerConfig is the listen address of the HTTP API
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"localhost" json:"host"`
	Port string `env:"SERVER_PORT" envDefault:"3000" json:"port"`
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// IngestConfig secures the event ingestion endpoint. An empty secret
// disables authentication.
type IngestConfig struct {
	JWTSecret string `env:"INGEST_JWT_SECRET" json:"-"`
	JWTIssuer string `env:"INGEST_JWT_ISSUER" json:"jwt_issuer"`
}

// SyncConfig holds the process configuration of the sync service
type SyncConfig struct {
	InstanceID         string        `env:"SYNC_INSTANCE_ID" envDefault:"default" json:"instance_id"`
	ConfigFile         string        `env:"SYNC_CONFIG_FILE" json:"config_file"`
	BackfillOnStart    bool          `env:"SYNC_BACKFILL_ON_START" envDefault:"false" json:"backfill_on_start"`
	WarehouseDSN       string        `env:"WAREHOUSE_DSN" envDefault:"file:warehouse.db" json:"warehouse_dsn"`
	TrackerBackend     string        `env:"TRACKER_BACKEND" envDefault:"warehouse" json:"tracker_backend"`
	CheckpointBackend  string        `env:"CHECKPOINT_BACKEND" envDefault:"warehouse" json:"checkpoint_backend"`
	TransformTimeout   time.Duration `env:"TRANSFORM_TIMEOUT" envDefault:"10s" json:"transform_timeout"`
	BackfillPageSize   int           `env:"BACKFILL_PAGE_SIZE" envDefault:"100" json:"backfill_page_size"`
	ChangelogRetention time.Duration `env:"CHANGELOG_RETENTION" envDefault:"720h" json:"changelog_retention"`
	LeaseTTL           time.Duration `env:"LEASE_TTL" envDefault:"10m" json:"lease_ttl"`

	Server ServerConfig `json:"server"`
	Mongo  MongoConfig  `json:"mongo"`
	Redis  RedisConfig  `json:"redis"`
	Ingest IngestConfig `json:"ingest"`
}

// LoadConfig reads the process configuration from the environment
func LoadConfig() (*SyncConfig, error) {
	cfg := &SyncConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load sync configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Server); err != nil {
		return nil, errors.New("failed to load server configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Mongo); err != nil {
		return nil, errors.New("failed to load mongodb configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return nil, errors.New("failed to load redis configuration from environment: " + err.Error())
	}
	if err := env.Parse(&cfg.Ingest); err != nil {
		return nil, errors.New("failed to load ingest configuration from environment: " + err.Error())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *SyncConfig) Validate() error {
	if c.ConfigFile == "" {
		return errors.New("SYNC_CONFIG_FILE environment variable is not set")
	}
	if c.BackfillPageSize <= 0 {
		c.BackfillPageSize = 100
	}
	switch c.TrackerBackend {
	case BackendWarehouse:
	case BackendRedis:
		if !c.Redis.Enabled {
			return errors.New("TRACKER_BACKEND=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("unknown TRACKER_BACKEND %q", c.TrackerBackend)
	}
	switch c.CheckpointBackend {
	case BackendWarehouse:
	case BackendMongoDB:
		if c.Mongo.URI == "" {
			return errors.New("CHECKPOINT_BACKEND=mongodb requires MONGODB_URI")
		}
	default:
		return fmt.Errorf("unknown CHECKPOINT_BACKEND %q", c.CheckpointBackend)
	}
	return nil
}

// DefaultSyncConfig returns a configuration suitable for local development
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		InstanceID:         "default",
		ConfigFile:         "collections.json",
		WarehouseDSN:       "file:warehouse.db",
		TrackerBackend:     BackendWarehouse,
		CheckpointBackend:  BackendWarehouse,
		TransformTimeout:   10 * time.Second,
		BackfillPageSize:   100,
		ChangelogRetention: 720 * time.Hour,
		LeaseTTL:           10 * time.Minute,
		Server:             ServerConfig{Host: "localhost", Port: "3000"},
		Mongo: MongoConfig{
			URI:                   "mongodb://localhost:27017",
			Database:              "firestore_default",
			DocumentsCollection:   "documents",
			CheckpointsCollection: "sync_checkpoints",
		},
		Redis: *DefaultRedisConfig(),
	}
}
