package db

import (
	"context"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// NewMySQLConnection opens the tenants / tenant_configs database. The DSN
// needs parseTime=true for DATETIME columns.
func NewMySQLConnection(ctx context.Context, opts Opts) (*sqlx.DB, error) {
	return open(ctx, "mysql", opts, 5*time.Second)
}
