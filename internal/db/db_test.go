package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := NewMySQLConnection(context.Background(), Opts{})
	assert.ErrorContains(t, err, "mysql: empty DSN")

	_, err = NewClickHouseConnection(context.Background(), Opts{})
	assert.ErrorContains(t, err, "clickhouse: empty DSN")
}
