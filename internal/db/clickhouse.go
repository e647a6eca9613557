package db

import (
	"context"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the delivery log store, e.g.
// clickhouse://default:@localhost:9000/broadcaster?dial_timeout=5s
func NewClickHouseConnection(ctx context.Context, opts Opts) (*sqlx.DB, error) {
	return open(ctx, "clickhouse", opts, 3*time.Second)
}
