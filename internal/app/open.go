package app

import (
	"context"

	"github.com/jmehdipour/wa-broadcaster/internal/config"
	"github.com/jmehdipour/wa-broadcaster/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

func dbOpts(c config.DatabaseConfig) db.Opts {
	return db.Opts{
		DSN:             c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

func OpenMySQL(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	return db.NewMySQLConnection(ctx, dbOpts(cfg.MySQL))
}

func OpenClickHouse(ctx context.Context, cfg config.Config) (*sqlx.DB, error) {
	return db.NewClickHouseConnection(ctx, dbOpts(cfg.ClickHouse))
}

func OpenRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	return db.NewRedisClient(ctx, db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
}
