package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"audiovault/internal/bundle"
	"audiovault/internal/classifier"
	"audiovault/internal/classifier/scanner"
	"audiovault/internal/encryption"
	"audiovault/internal/encryption/kms"
	jwttoken "audiovault/internal/jwt_token"
	"audiovault/internal/platform/config"
	platformkafka "audiovault/internal/platform/kafka"
	"audiovault/internal/platform/metrics"
	"audiovault/internal/platform/postgres"
	platformredis "audiovault/internal/platform/redis"
	"audiovault/internal/ratelimit"
	rlmetrics "audiovault/internal/ratelimit/metrics"
	rlmiddleware "audiovault/internal/ratelimit/middleware"
	rlmemory "audiovault/internal/ratelimit/store/memory"
	rlredis "audiovault/internal/ratelimit/store/redis"
	"audiovault/internal/registration"
	reghandler "audiovault/internal/registration/handler"
	regmetrics "audiovault/internal/registration/metrics"
	regmemory "audiovault/internal/registration/store/memory"
	regpostgres "audiovault/internal/registration/store/postgres"
	regredis "audiovault/internal/registration/store/redis"
	httptransport "audiovault/internal/transport/http"
	"audiovault/internal/upload"
	uploadhandler "audiovault/internal/upload/handler"
	uploadmetrics "audiovault/internal/upload/metrics"
	"audiovault/internal/upload/storage"
	"audiovault/pkg/platform/audit"
	auditkafka "audiovault/pkg/platform/audit/publishers/kafka"
	auditmemory "audiovault/pkg/platform/audit/store/memory"
	auditpostgres "audiovault/pkg/platform/audit/store/postgres"
	authmw "audiovault/pkg/platform/middleware/auth"
)

// application holds what the server lifecycle needs after wiring.
type application struct {
	router   http.Handler
	recorder *audit.Recorder
	closers  []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// infra holds the lazily opened shared connections.
type infra struct {
	cfg    *config.Config
	log    *slog.Logger
	app    *application
	db     *sql.DB
	redis  *platformredis.Client
	kafka  *kgo.Client
	checks map[string]httptransport.HealthCheck
}

func (in *infra) postgres(ctx context.Context) (*sql.DB, error) {
	if in.db != nil {
		return in.db, nil
	}
	db, err := postgres.Open(ctx, in.cfg.Postgres)
	if err != nil {
		return nil, err
	}
	in.app.closers = append(in.app.closers, func() { _ = db.Close() })
	if in.cfg.Postgres.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	in.db = db
	in.checks["postgres"] = db.PingContext
	return db, nil
}

func (in *infra) redisClient(ctx context.Context) (*platformredis.Client, error) {
	if in.redis != nil {
		return in.redis, nil
	}
	client, err := platformredis.New(ctx, in.cfg.Redis)
	if err != nil {
		return nil, err
	}
	in.app.closers = append(in.app.closers, func() { _ = client.Close() })
	in.redis = client
	in.checks["redis"] = client.Health
	return client, nil
}

func (in *infra) kafkaClient(ctx context.Context) (*kgo.Client, error) {
	if in.kafka != nil {
		return in.kafka, nil
	}
	client, err := platformkafka.NewClient(ctx, in.cfg.Kafka)
	if err != nil {
		return nil, err
	}
	in.app.closers = append(in.app.closers, client.Close)
	if err := platformkafka.EnsureTopic(ctx, client, in.cfg.Kafka.AuditTopic, in.cfg.Kafka.Partitions, in.cfg.Kafka.ReplicationFactor); err != nil {
		return nil, err
	}
	in.kafka = client
	in.checks["kafka"] = client.Ping
	return client, nil
}

// build wires every component from cfg. On error, connections opened so far
// are closed.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (_ *application, err error) {
	app := &application{}
	defer func() {
		if err != nil {
			app.close()
		}
	}()
	in := &infra{cfg: cfg, log: log, app: app, checks: map[string]httptransport.HealthCheck{}}

	records, err := buildRecordStore(ctx, in)
	if err != nil {
		return nil, err
	}
	sink, trail, err := buildAuditSinks(ctx, in)
	if err != nil {
		return nil, err
	}
	app.recorder, err = audit.NewRecorder(sink,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetricsWith(reg)),
		audit.WithQueueCapacity(cfg.Audit.QueueCapacity),
		audit.WithDrainInterval(cfg.Audit.DrainInterval),
	)
	if err != nil {
		return nil, err
	}

	c, err := classifier.New(scanner.New(),
		classifier.WithLogger(log),
		classifier.WithConcurrency(cfg.Classifier.Concurrency),
	)
	if err != nil {
		return nil, err
	}

	master, err := cfg.KMS.MasterKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("decode kms master key: %w", err)
	}
	keys, err := kms.NewLocal(master)
	if err != nil {
		return nil, err
	}
	encOpts := []encryption.Option{encryption.WithLogger(log)}
	if cfg.KMS.IndexKeyID != "" {
		encOpts = append(encOpts, encryption.WithIndexKey(cfg.KMS.IndexKeyID))
	}
	enc, err := encryption.New(keys, cfg.KMS.KeyID, encOpts...)
	if err != nil {
		return nil, err
	}

	svc, err := registration.New(c, enc, bundle.NewAssembler(cfg.Server.BaseURL), records, app.recorder,
		registration.WithLogger(log),
		registration.WithMetrics(regmetrics.NewWith(reg)),
		registration.WithAuditTrail(trail),
	)
	if err != nil {
		return nil, err
	}

	presigner, err := storage.NewS3Presigner(storage.Config{
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	issuer, err := upload.NewIssuer(presigner,
		upload.WithTTL(cfg.Storage.UploadTTL),
		upload.WithLogger(log),
		upload.WithMetrics(uploadmetrics.NewWith(reg)),
	)
	if err != nil {
		return nil, err
	}

	var auth func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		tokens := jwttoken.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		auth = authmw.RequireCaller(jwttoken.NewMiddlewareAdapter(tokens), log)
	} else {
		log.Warn("caller authentication disabled; every caller is anonymous")
	}

	limit, err := buildRateLimit(ctx, in, reg)
	if err != nil {
		return nil, err
	}

	app.router = httptransport.NewRouter(httptransport.Options{
		Logger:         log,
		ServiceName:    cfg.Tracing.ServiceName,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        metrics.NewWith(reg),
		Gatherer:       gatherer,
		RateLimit:      limit,
		Auth:           auth,
		Handlers: []httptransport.RouteRegistrar{
			uploadhandler.New(issuer, log),
			reghandler.New(svc, log),
		},
		HealthChecks: in.checks,
	})
	return app, nil
}

func buildRecordStore(ctx context.Context, in *infra) (registration.Store, error) {
	switch in.cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := in.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return regpostgres.New(db), nil
	case config.BackendRedis:
		client, err := in.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return regredis.New(client.Client), nil
	default:
		in.log.Warn("using in-memory record store; registrations are lost on restart")
		return regmemory.New(), nil
	}
}

// buildRateLimit returns nil when rate limiting is disabled. The redis
// backend keeps an in-memory fallback for redis outages.
func buildRateLimit(ctx context.Context, in *infra, reg prometheus.Registerer) (func(http.Handler) http.Handler, error) {
	rl := in.cfg.RateLimit
	if !rl.Enabled {
		in.log.Warn("rate limiting disabled")
		return nil, nil
	}
	opts := []ratelimit.Option{
		ratelimit.WithPolicy(ratelimit.Policy{
			Requests:   rl.Requests,
			Window:     rl.Window,
			BlockAfter: rl.BlockAfter,
			BlockFor:   rl.BlockFor,
		}),
		ratelimit.WithDenylist(rl.Denylist...),
		ratelimit.WithLogger(in.log),
		ratelimit.WithMetrics(rlmetrics.NewWith(reg)),
	}

	var store ratelimit.Store
	if rl.Backend == config.BackendRedis {
		client, err := in.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		store = rlredis.New(client.Client)
		opts = append(opts, ratelimit.WithFallback(rlmemory.New()))
	} else {
		store = rlmemory.New()
	}

	limiter, err := ratelimit.New(store, opts...)
	if err != nil {
		return nil, err
	}
	return rlmiddleware.New(limiter, in.log).RateLimit, nil
}

// buildAuditSinks fans out to every configured sink. The queryable trail is
// postgres when enabled, otherwise the memory sink.
func buildAuditSinks(ctx context.Context, in *infra) (audit.Sink, registration.AuditTrail, error) {
	var (
		sinks audit.Fanout
		trail registration.AuditTrail
		mem   *auditmemory.Store
	)
	for _, name := range in.cfg.Audit.Sinks {
		switch name {
		case config.SinkPostgres:
			db, err := in.postgres(ctx)
			if err != nil {
				return nil, nil, err
			}
			pg := auditpostgres.New(db)
			sinks = append(sinks, pg)
			trail = pg
		case config.SinkKafka:
			client, err := in.kafkaClient(ctx)
			if err != nil {
				return nil, nil, err
			}
			pub, err := auditkafka.New(client, in.cfg.Kafka.AuditTopic)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, pub)
		case config.SinkMemory:
			mem = auditmemory.New()
			sinks = append(sinks, mem)
		}
	}
	if trail == nil && mem != nil {
		trail = mem
	}
	return sinks, trail, nil
}
