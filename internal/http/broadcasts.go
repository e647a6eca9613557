package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/http/middleware"
	"github.com/jmehdipour/wa-broadcaster/internal/model"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxMessagesPerRequest = 10000

type handlers struct {
	m          *broadcast.Manager
	configs    repository.TenantConfigRepository
	deliveries repository.DeliveriesRepository
	log        *zap.Logger
}

type submitReq struct {
	Messages []model.OutboundMessage `json:"messages"`
}

func (h *handlers) submit(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	var req submitReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}
	if len(req.Messages) > maxMessagesPerRequest {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
			"error": fmt.Sprintf("at most %d messages per campaign", maxMessagesPerRequest),
		})
	}

	res := h.m.AddMessages(tenantID, req.Messages)
	if res.Success {
		return c.JSON(http.StatusAccepted, res)
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(res.Err, broadcast.ErrCampaignRunning):
		status = http.StatusConflict
	case errors.Is(res.Err, broadcast.ErrManagerClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(res.Err, broadcast.ErrOutsideAllowedHours):
		status = http.StatusUnprocessableEntity
	case errors.Is(res.Err, broadcast.ErrNoMessages),
		errors.Is(res.Err, broadcast.ErrInvalidMessage),
		errors.Is(res.Err, broadcast.ErrEmptyTenant):
		status = http.StatusBadRequest
	}
	return c.JSON(status, res)
}

func (h *handlers) progress(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	p, ok := h.m.GetProgress(tenantID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no queue"})
	}
	return c.JSON(http.StatusOK, p)
}

func (h *handlers) stats(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	st, ok := h.m.GetStats(tenantID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no queue"})
	}
	return c.JSON(http.StatusOK, st)
}

func (h *handlers) stop(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	if err := h.m.StopQueue(tenantID); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no queue"})
	}
	return c.JSON(http.StatusOK, map[string]any{"stopping": true})
}

// clear refuses a running queue: Clear is only safe once the loop is idle.
func (h *handlers) clear(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	switch err := h.m.ClearQueue(tenantID); {
	case errors.Is(err, broadcast.ErrCampaignRunning):
		return c.JSON(http.StatusConflict, map[string]string{"error": "campaign running, stop it first"})
	case errors.Is(err, broadcast.ErrNoQueue):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no queue"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) allStats(c echo.Context) error {
	all := h.m.GetAllStats()
	return c.JSON(http.StatusOK, map[string]any{
		"count":  len(all),
		"queues": all,
	})
}

func (h *handlers) getConfig(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	return c.JSON(http.StatusOK, configView(h.m.TenantConfig(tenantID)))
}

// patchConfig persists the overrides first, so a restart keeps them, then
// applies them to the running manager.
func (h *handlers) patchConfig(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	var o broadcast.TenantOverrides
	if err := c.Bind(&o); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}
	if o.Empty() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no fields to update"})
	}
	if err := validateOverrides(o); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if h.configs != nil {
		if err := h.configs.Upsert(c.Request().Context(), nil, tenantID, o); err != nil {
			h.log.Error("persist tenant config", zap.String("tenant", tenantID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
	}

	cfg := h.m.UpdateTenantConfig(tenantID, o)
	return c.JSON(http.StatusOK, configView(cfg))
}

func validateOverrides(o broadcast.TenantOverrides) error {
	nonNeg := func(name string, v *int) error {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
		return nil
	}
	nonNegMs := func(name string, v *int64) error {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
		return nil
	}
	positive := func(name string, v *int) error {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be >= 1", name)
		}
		return nil
	}
	hour := func(name string, v *int) error {
		if v != nil && (*v < 0 || *v > 24) {
			return fmt.Errorf("%s must be within 0..24", name)
		}
		return nil
	}

	errs := []error{
		nonNegMs("delay_between_messages_ms", o.DelayBetweenMessagesMs),
		nonNegMs("delay_between_batches_ms", o.DelayBetweenBatchesMs),
		nonNegMs("retry_delay_ms", o.RetryDelayMs),
		positive("batch_size", o.BatchSize),
		positive("max_per_minute", o.MaxPerMinute),
		positive("max_per_hour", o.MaxPerHour),
		nonNeg("max_retries", o.MaxRetries),
		hour("allowed_hour_start", o.AllowedHourStart),
		hour("allowed_hour_end", o.AllowedHourEnd),
	}
	if o.Timezone != nil {
		if _, err := time.LoadLocation(*o.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("unknown timezone %q", *o.Timezone))
		}
	}
	return errors.Join(errs...)
}

// configView renders an effective config in the same shape PATCH accepts.
func configView(cfg broadcast.TenantConfig) broadcast.TenantOverrides {
	ms := func(d time.Duration) *int64 { v := d.Milliseconds(); return &v }
	i := func(v int) *int { return &v }
	tz := cfg.Location().String()

	return broadcast.TenantOverrides{
		DelayBetweenMessagesMs: ms(cfg.DelayBetweenMessages),
		DelayBetweenBatchesMs:  ms(cfg.DelayBetweenBatches),
		BatchSize:              i(cfg.BatchSize),
		MaxPerMinute:           i(cfg.MaxPerMinute),
		MaxPerHour:             i(cfg.MaxPerHour),
		MaxRetries:             i(cfg.MaxRetries),
		RetryDelayMs:           ms(cfg.RetryDelay),
		AllowedHourStart:       i(cfg.AllowedHours.Start),
		AllowedHourEnd:         i(cfg.AllowedHours.End),
		Timezone:               &tz,
	}
}
