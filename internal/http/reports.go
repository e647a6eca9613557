package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/http/middleware"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	"github.com/jmehdipour/wa-broadcaster/internal/util"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (h *handlers) listDeliveries(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	if h.deliveries == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "delivery log disabled"})
	}

	f := repository.DeliveryFilter{
		Limit:   50,
		QueueID: strings.TrimSpace(c.QueryParam("queue_id")),
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			f.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		st := model.MessageStatus(raw)
		if !st.Valid() || !st.Terminal() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be sent or failed"})
		}
		f.Status = st
	}
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
		}
		f.Since = t
	}
	f.Recipient = util.NormalizeRecipient(c.QueryParam("recipient"))

	rows, err := h.deliveries.ListByTenant(c.Request().Context(), tenantID, f)
	if err != nil {
		h.log.Error("clickhouse list failed", zap.String("tenant", tenantID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"limit":   f.Limit,
		"offset":  f.Offset,
		"count":   len(rows),
		"results": rows,
	})
}
