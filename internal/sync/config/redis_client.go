package config

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the optional Redis tracker log and lease backend
type RedisConfig struct {
	Enabled         bool   `env:"REDIS_ENABLED" envDefault:"false" json:"enabled"`
	Host            string `env:"REDIS_HOST" envDefault:"localhost" json:"host"`
	Port            string `env:"REDIS_PORT" envDefault:"6379" json:"port"`
	Password        string `env:"REDIS_PASSWORD" json:"-"`
	Database        int    `env:"REDIS_DB" envDefault:"0" json:"database"`
	MaxRetries      int    `env:"REDIS_MAX_RETRIES" envDefault:"3" json:"max_retries"`
	PoolSize        int    `env:"REDIS_POOL_SIZE" envDefault:"10" json:"pool_size"`
	MinIdleConns    int    `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2" json:"min_idle_conns"`
	EnableTLS       bool   `env:"REDIS_TLS" envDefault:"false" json:"enable_tls"`
	ConnMaxIdleTime string `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"30m" json:"conn_max_idle_time"`
	ConnMaxLifetime string `env:"REDIS_CONN_MAX_LIFETIME" envDefault:"1h" json:"conn_max_lifetime"`
	KeyPrefix       string `env:"REDIS_KEY_PREFIX" envDefault:"firestore-sync" json:"key_prefix"`
}

func (c *RedisConfig) GetAddr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// DefaultRedisConfig matches a local development Redis
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:            "localhost",
		Port:            "6379",
		MaxRetries:      3,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: "30m",
		ConnMaxLifetime: "1h",
		KeyPrefix:       "firestore-sync",
	}
}

// NewRedisClient builds a client with fixed dial/read/write timeouts
func NewRedisClient(cfg *RedisConfig) *redis.Client {
	connMaxIdleTime, _ := time.ParseDuration(cfg.ConnMaxIdleTime)
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 30 * time.Minute
	}
	connMaxLifetime, _ := time.ParseDuration(cfg.ConnMaxLifetime)
	if connMaxLifetime == 0 {
		connMaxLifetime = time.Hour
	}

	options := &redis.Options{
		Addr:         cfg.GetAddr(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		ConnMaxIdleTime: connMaxIdleTime,
		ConnMaxLifetime: connMaxLifetime,
	}

	if cfg.EnableTLS {
		options.TLSConfig = &tls.Config{ServerName: cfg.Host}
	}

	return redis.NewClient(options)
}
