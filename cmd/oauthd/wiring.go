package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/oauthd/internal/audit"
	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/config"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/scopes"
	"github.com/alexjbarnes/oauthd/internal/store"
	"github.com/alexjbarnes/oauthd/internal/store/bolt"
	"github.com/alexjbarnes/oauthd/internal/store/postgres"
)

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnLifetime,
		})
	default:
		return bolt.Open(cfg.BoltPath)
	}
}

// codeCache is a Cache that owns resources.
type codeCache interface {
	codestore.Cache
	Close() error
}

type memoryCache struct{ *codestore.MemoryCache }

func (m memoryCache) Close() error {
	m.Stop()
	return nil
}

func openCodeCache(ctx context.Context, cfg *config.Config) (codeCache, error) {
	switch cfg.CacheDriver {
	case config.CacheRedis:
		return codestore.NewRedisCache(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
	default:
		return memoryCache{codestore.NewMemoryCache()}, nil
	}
}

func loadScopes(cfg *config.Config) (*scopes.Registry, error) {
	if cfg.ScopesFile != "" {
		return scopes.Load(cfg.ScopesFile)
	}

	return scopes.Default()
}

// auditPipeline is the configured sink behind a bounded queue. run
// delivers events until its context ends; close releases the transport.
type auditPipeline struct {
	sink  audit.Sink
	run   func(ctx context.Context) error
	close func() error
}

func openAudit(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*auditPipeline, error) {
	var (
		next    audit.Sink
		closeFn = func() error { return nil }
	)

	switch cfg.AuditDriver {
	case config.AuditNone:
		return &auditPipeline{
			sink: audit.Nop{},
			run: func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			},
			close: closeFn,
		}, nil
	case config.AuditAMQP:
		sink, err := audit.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting audit broker: %w", err)
		}

		next, closeFn = sink, sink.Close
	default:
		next = audit.NewLogSink(logger)
	}

	async := audit.NewAsync(next, cfg.AuditBuffer, m.AuditDropped, logger)

	return &auditPipeline{sink: async, run: async.Run, close: closeFn}, nil
}
