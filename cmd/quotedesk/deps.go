package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/quotedesk/internal/app"
	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/platform/cache"
	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// runtime bundles the connections every subcommand needs.
type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	tx     *db.TxManager
	redis  *redis.Client
}

func openRuntime(ctx context.Context, withRedis bool) (*runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, pool: pool, tx: db.NewTxManager(pool)}
	if withRedis {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			pool.Close()
			return nil, err
		}
		rt.redis = client
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	rt.pool.Close()
}

func (rt *runtime) companyResolver() *company.Resolver {
	var c *cache.JSONCache
	if rt.redis != nil {
		c = cache.NewJSONCache(rt.redis, "company", rt.cfg.CompanyCacheTTL)
	}
	return company.NewResolver(company.NewRepository(rt.tx), rt.cfg.CompanyDetails(), c, rt.logger)
}
