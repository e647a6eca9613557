package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/jmehdipour/wa-broadcaster/internal/model"
	echo "github.com/labstack/echo/v4"
)

const (
	ctxTenantID  = "tenant_id"
	ctxTenantRPS = "tenant_rps"
)

// TenantLookup resolves an API key; nil, nil means unknown.
type TenantLookup interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error)
}

// TenantIDFromCtx extracts the tenant authenticated by APIKeyMiddleware.
func TenantIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxTenantID).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using the X-API-Key header and
// blocks suspended tenants.
func APIKeyMiddleware(tenants TenantLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			t, err := tenants.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				c.Logger().Errorf("tenant lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if t == nil || !t.Active() {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxTenantID, t.ID)
			if t.RateLimitRPS != nil {
				c.Set(ctxTenantRPS, *t.RateLimitRPS)
			}
			return next(c)
		}
	}
}

// AdminKeyMiddleware guards operator endpoints with a static X-Admin-Key.
func AdminKeyMiddleware(adminKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get("X-Admin-Key")
			if adminKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid admin key"})
			}
			return next(c)
		}
	}
}
