package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestBuildDeliveryQuery(t *testing.T) {
	t.Run("tenant only", func(t *testing.T) {
		q, args := buildDeliveryQuery("acme", DeliveryFilter{})

		assert.Contains(t, q, "WHERE tenant_id = ?")
		assert.NotContains(t, q, "status = ?")
		assert.True(t, strings.HasSuffix(q, "ORDER BY recorded_at DESC LIMIT ? OFFSET ?"))
		assert.Equal(t, []any{"acme", 50, 0}, args)
	})

	t.Run("all filters", func(t *testing.T) {
		since := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
		q, args := buildDeliveryQuery("acme", DeliveryFilter{
			QueueID:   "q1",
			Recipient: "4915112345678",
			Status:    model.StatusFailed,
			Since:     since,
			Limit:     10,
			Offset:    20,
		})

		assert.Contains(t, q, "AND queue_id = ? AND recipient = ? AND status = ? AND recorded_at >= ?")
		assert.Equal(t, []any{"acme", "q1", "4915112345678", "failed", since, 10, 20}, args)
	})

	t.Run("clamps paging", func(t *testing.T) {
		_, args := buildDeliveryQuery("acme", DeliveryFilter{Limit: 5000, Offset: -3})
		assert.Equal(t, []any{"acme", 50, 0}, args)
	})
}
