// Package config loads server configuration. Values come from an optional
// YAML file, then AUDIOVAULT_* environment variables, then defaults.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	pstrings "audiovault/pkg/platform/strings"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Audit sinks.
const (
	SinkMemory   = "memory"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

type Config struct {
	Env        string     `koanf:"env"`
	Server     Server     `koanf:"server"`
	Auth       Auth       `koanf:"auth"`
	Storage    Storage    `koanf:"storage"`
	KMS        KMS        `koanf:"kms"`
	Classifier Classifier `koanf:"classifier"`
	Store      Store      `koanf:"store"`
	Audit      Audit      `koanf:"audit"`
	RateLimit  RateLimit  `koanf:"rate_limit"`
	Redis      Redis      `koanf:"redis"`
	Postgres   Postgres   `koanf:"postgres"`
	Kafka      Kafka      `koanf:"kafka"`
	Tracing    Tracing    `koanf:"tracing"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `koanf:"addr"`
	BaseURL           string        `koanf:"base_url"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// Auth controls bearer token verification. With auth disabled every caller
// is anonymous.
type Auth struct {
	Enabled   bool   `koanf:"enabled"`
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

type Storage struct {
	Bucket          string        `koanf:"bucket"`
	Region          string        `koanf:"region"`
	Endpoint        string        `koanf:"endpoint"`
	AccessKeyID     string        `koanf:"access_key_id"`
	SecretAccessKey string        `koanf:"secret_access_key"`
	UsePathStyle    bool          `koanf:"use_path_style"`
	UploadTTL       time.Duration `koanf:"upload_ttl"`
}

// KMS configures the local envelope KMS. MasterKey is base64.
type KMS struct {
	MasterKey  string `koanf:"master_key"`
	KeyID      string `koanf:"key_id"`
	IndexKeyID string `koanf:"index_key_id"`
}

// MasterKeyBytes decodes MasterKey.
func (k KMS) MasterKeyBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(k.MasterKey)
}

type Classifier struct {
	Concurrency int `koanf:"concurrency"`
}

type Store struct {
	Backend string `koanf:"backend"`
}

type Audit struct {
	Sinks         []string      `koanf:"sinks"`
	QueueCapacity int           `koanf:"queue_capacity"`
	DrainInterval time.Duration `koanf:"drain_interval"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// Uses reports whether sink is enabled.
func (a Audit) Uses(sink string) bool {
	return slices.Contains(a.Sinks, sink)
}

// RateLimit bounds requests per client address. The redis backend shares
// budgets across instances and falls back to memory while redis is failing.
type RateLimit struct {
	Enabled    bool          `koanf:"enabled"`
	Backend    string        `koanf:"backend"`
	Requests   int           `koanf:"requests"`
	Window     time.Duration `koanf:"window"`
	BlockAfter int           `koanf:"block_after"`
	BlockFor   time.Duration `koanf:"block_for"`
	Denylist   []string      `koanf:"denylist"`
}

type Redis struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type Postgres struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Migrate         bool          `koanf:"migrate"`
}

type Kafka struct {
	Brokers           []string `koanf:"brokers"`
	AuditTopic        string   `koanf:"audit_topic"`
	Partitions        int32    `koanf:"partitions"`
	ReplicationFactor int16    `koanf:"replication_factor"`
}

type Tracing struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
	ServiceName string  `koanf:"service_name"`
}

var defaults = map[string]any{
	"env":                        EnvDevelopment,
	"server.addr":                ":8080",
	"server.base_url":            "http://localhost:8080/fhir",
	"server.read_header_timeout": "5s",
	"server.request_timeout":     "30s",
	"server.shutdown_timeout":    "15s",
	"storage.region":             "us-east-1",
	"storage.upload_ttl":         "15m",
	"kms.key_id":                 "phi-v1",
	"classifier.concurrency":     4,
	"store.backend":              BackendMemory,
	"audit.sinks":                []string{SinkMemory},
	"audit.queue_capacity":       1024,
	"audit.drain_interval":       "1s",
	"audit.close_timeout":        "10s",
	"rate_limit.enabled":         true,
	"rate_limit.backend":         BackendMemory,
	"rate_limit.requests":        100,
	"rate_limit.window":          "15m",
	"rate_limit.block_for":       "1h",
	"redis.pool_size":            10,
	"redis.min_idle_conns":       2,
	"redis.dial_timeout":         "5s",
	"redis.read_timeout":         "3s",
	"redis.write_timeout":        "3s",
	"postgres.max_open_conns":    10,
	"postgres.max_idle_conns":    5,
	"postgres.conn_max_lifetime": "30m",
	"postgres.migrate":           true,
	"kafka.audit_topic":          "audiovault.audit",
	"kafka.partitions":           3,
	"kafka.replication_factor":   1,
	"tracing.sample_ratio":       1.0,
	"tracing.service_name":       "audiovault",
}

// envKeys maps environment variables onto config keys. List values are
// comma separated.
var envKeys = map[string]string{
	"AUDIOVAULT_ENV":                       "env",
	"AUDIOVAULT_ADDR":                      "server.addr",
	"AUDIOVAULT_BASE_URL":                  "server.base_url",
	"AUDIOVAULT_REQUEST_TIMEOUT":           "server.request_timeout",
	"AUDIOVAULT_SHUTDOWN_TIMEOUT":          "server.shutdown_timeout",
	"AUDIOVAULT_AUTH_ENABLED":              "auth.enabled",
	"AUDIOVAULT_JWT_SECRET":                "auth.jwt_secret",
	"AUDIOVAULT_JWT_ISSUER":                "auth.issuer",
	"AUDIOVAULT_STORAGE_BUCKET":            "storage.bucket",
	"AUDIOVAULT_STORAGE_REGION":            "storage.region",
	"AUDIOVAULT_STORAGE_ENDPOINT":          "storage.endpoint",
	"AUDIOVAULT_STORAGE_ACCESS_KEY_ID":     "storage.access_key_id",
	"AUDIOVAULT_STORAGE_SECRET_ACCESS_KEY": "storage.secret_access_key",
	"AUDIOVAULT_STORAGE_USE_PATH_STYLE":    "storage.use_path_style",
	"AUDIOVAULT_UPLOAD_TTL":                "storage.upload_ttl",
	"AUDIOVAULT_KMS_MASTER_KEY":            "kms.master_key",
	"AUDIOVAULT_KMS_KEY_ID":                "kms.key_id",
	"AUDIOVAULT_KMS_INDEX_KEY_ID":          "kms.index_key_id",
	"AUDIOVAULT_CLASSIFIER_CONCURRENCY":    "classifier.concurrency",
	"AUDIOVAULT_STORE_BACKEND":             "store.backend",
	"AUDIOVAULT_AUDIT_SINKS":               "audit.sinks",
	"AUDIOVAULT_AUDIT_QUEUE_CAPACITY":      "audit.queue_capacity",
	"AUDIOVAULT_AUDIT_DRAIN_INTERVAL":      "audit.drain_interval",
	"AUDIOVAULT_RATE_LIMIT_ENABLED":        "rate_limit.enabled",
	"AUDIOVAULT_RATE_LIMIT_BACKEND":        "rate_limit.backend",
	"AUDIOVAULT_RATE_LIMIT_REQUESTS":       "rate_limit.requests",
	"AUDIOVAULT_RATE_LIMIT_WINDOW":         "rate_limit.window",
	"AUDIOVAULT_RATE_LIMIT_DENYLIST":       "rate_limit.denylist",
	"AUDIOVAULT_REDIS_URL":                 "redis.url",
	"AUDIOVAULT_POSTGRES_URL":              "postgres.url",
	"AUDIOVAULT_POSTGRES_MIGRATE":          "postgres.migrate",
	"AUDIOVAULT_KAFKA_BROKERS":             "kafka.brokers",
	"AUDIOVAULT_KAFKA_AUDIT_TOPIC":         "kafka.audit_topic",
	"AUDIOVAULT_TRACING_ENABLED":           "tracing.enabled",
	"AUDIOVAULT_TRACING_ENDPOINT":          "tracing.endpoint",
	"AUDIOVAULT_TRACING_INSECURE":          "tracing.insecure",
	"AUDIOVAULT_TRACING_SAMPLE_RATIO":      "tracing.sample_ratio",
}

var listKeys = map[string]bool{
	"audit.sinks":         true,
	"kafka.brokers":       true,
	"rate_limit.denylist": true,
}

// Load builds the configuration. Every validation problem is reported in
// the returned error, not just the first.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	var errs []error
	for env, key := range envKeys {
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			continue
		}
		var v any = val
		if listKeys[key] {
			v = pstrings.SplitList(val)
		}
		if err := k.Set(key, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", env, err))
		}
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, val); err != nil {
				errs = append(errs, fmt.Errorf("default %s: %w", key, err))
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Audit.Sinks = pstrings.DedupeAndTrimLower(cfg.Audit.Sinks)
	cfg.Kafka.Brokers = pstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	cfg.RateLimit.Denylist = pstrings.DedupeAndTrim(cfg.RateLimit.Denylist)

	errs = append(errs, cfg.Validate()...)
	if len(errs) > 0 {
		return &cfg, errors.Join(errs...)
	}
	return &cfg, nil
}

// Validate returns every problem found.
func (c *Config) Validate() []error {
	var errs []error
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("env must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes when auth is enabled"))
	}
	if c.Env == EnvProduction && !c.Auth.Enabled {
		errs = append(errs, errors.New("auth must be enabled in production"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Storage.UploadTTL <= 0 {
		errs = append(errs, errors.New("storage.upload_ttl must be positive"))
	}
	if c.KMS.KeyID == "" {
		errs = append(errs, errors.New("kms.key_id is required"))
	}
	if key, err := c.KMS.MasterKeyBytes(); err != nil || len(key) < 32 {
		errs = append(errs, errors.New("kms.master_key must be base64 of at least 32 bytes"))
	}
	if c.Classifier.Concurrency < 1 {
		errs = append(errs, errors.New("classifier.concurrency must be at least 1"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("postgres.url is required for the postgres store"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of memory, postgres, redis", c.Store.Backend))
	}

	if len(c.Audit.Sinks) == 0 {
		errs = append(errs, errors.New("audit.sinks must name at least one sink"))
	}
	for _, sink := range c.Audit.Sinks {
		switch sink {
		case SinkMemory:
		case SinkPostgres:
			if c.Postgres.URL == "" {
				errs = append(errs, errors.New("postgres.url is required for the postgres audit sink"))
			}
		case SinkKafka:
			if len(c.Kafka.Brokers) == 0 {
				errs = append(errs, errors.New("kafka.brokers is required for the kafka audit sink"))
			}
			if c.Kafka.AuditTopic == "" {
				errs = append(errs, errors.New("kafka.audit_topic is required for the kafka audit sink"))
			}
		default:
			errs = append(errs, fmt.Errorf("audit sink %q is not one of memory, postgres, kafka", sink))
		}
	}
	if c.RateLimit.Enabled {
		switch c.RateLimit.Backend {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.URL == "" {
				errs = append(errs, errors.New("redis.url is required for the redis rate limit backend"))
			}
		default:
			errs = append(errs, fmt.Errorf("rate_limit.backend %q is not one of memory, redis", c.RateLimit.Backend))
		}
		if c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
		}
		if c.RateLimit.BlockAfter != 0 && c.RateLimit.BlockAfter <= c.RateLimit.Requests {
			errs = append(errs, errors.New("rate_limit.block_after must exceed rate_limit.requests"))
		}
	}
	if c.Audit.QueueCapacity < 1 {
		errs = append(errs, errors.New("audit.queue_capacity must be at least 1"))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	return errs
}

