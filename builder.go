package farmauth

import (
	"context"
	"errors"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/farmauth/internal/audit"
	"github.com/MrEthical07/farmauth/tokenstore"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  tokenstore.Store

	auditSink AuditSink
	logger    logrus.FieldLogger

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTokenStore overrides the store selected by Config.Store.Driver.
func (b *Builder) WithTokenStore(store tokenstore.Store) *Builder {
	b.store = store
	return b
}

// WithRedis supplies the client used by the redis driver. The engine does not
// close a client it did not create.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger logrus.FieldLogger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and opens the token store.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = NewLogger(cfg.Logging, nil)
	}

	engine := &Engine{
		config:  cfg,
		logger:  logger,
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}

	// -------- TOKEN STORE --------
	store, closer, err := b.openStore(cfg)
	if err != nil {
		return nil, err
	}
	engine.store = store
	if closer != nil {
		engine.closers = append(engine.closers, closer)
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil && cfg.Audit.Enabled {
		sink = internalaudit.LogrusSink{Logger: logger}
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, sink)

	b.built = true

	return engine, nil
}

func (b *Builder) openStore(cfg Config) (tokenstore.Store, io.Closer, error) {
	if b.store != nil {
		return b.store, nil, nil
	}

	switch cfg.Store.Driver {
	case StoreRedis:
		client := b.redis
		var closer io.Closer
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr: cfg.Store.RedisAddr,
				DB:   cfg.Store.RedisDB,
			})
			client, closer = c, c
		}
		return tokenstore.NewRedisStore(client, cfg.Session.KeyPrefix, cfg.Session.Profile), closer, nil
	case StoreSQLite:
		s, err := tokenstore.OpenSQLite(context.Background(), cfg.Store.SQLitePath, cfg.Session.Profile)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return tokenstore.NewMemoryStore(), nil, nil
	}
}
