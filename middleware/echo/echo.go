// Package echo provides Echo middleware for usage metering
package echo

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mockpress/mockpress/pkg/metering"
)

// ClientIDExtractor extracts the client identifier from an Echo context.
// Return empty string if the client cannot be identified.
type ClientIDExtractor func(c echo.Context) string

// CustomKeyDetector reports whether the request carries its own credential
// and therefore bypasses metering.
type CustomKeyDetector func(c echo.Context) bool

// Config holds middleware configuration
type Config struct {
	// Meter is the usage meter instance (required)
	Meter *metering.Meter

	// GetClientID extracts the client ID from the context.
	// Default: first X-Forwarded-For hop or the remote address.
	GetClientID ClientIDExtractor

	// HasCustomKey detects a caller-supplied credential.
	// Default: checks the X-Has-Custom-Key header.
	HasCustomKey CustomKeyDetector

	// Window selects which window gates requests. Default: WindowDay.
	Window metering.Window

	// OnRateLimitExceeded is called when the window is full.
	// If nil, uses default response: 429 JSON with rate limit headers
	OnRateLimitExceeded func(c echo.Context, result metering.RateLimitResult) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that meters requests against the
// configured window
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Meter == nil {
		panic("mockpress/echo: Config.Meter is required")
	}

	if cfg.GetClientID == nil {
		cfg.GetClientID = func(c echo.Context) string {
			return metering.ClientIPFromRequest(c.Request())
		}
	}
	if cfg.HasCustomKey == nil {
		cfg.HasCustomKey = HeaderCustomKey("X-Has-Custom-Key")
	}
	if !cfg.Window.Valid() {
		cfg.Window = metering.WindowDay
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.HasCustomKey(c) {
				return next(c)
			}

			clientID := cfg.GetClientID(c)
			result := cfg.Meter.CheckAndConsume(c.Request().Context(), clientID, cfg.Window)

			header := c.Response().Header()
			header.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			if !result.ResetTime.IsZero() {
				header.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
			}

			if !result.Allowed {
				if retryAfter := time.Until(result.ResetTime); retryAfter > 0 {
					header.Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				if cfg.OnRateLimitExceeded != nil {
					return cfg.OnRateLimitExceeded(c, result)
				}
				return defaultRateLimitExceeded(c, result)
			}

			return next(c)
		}
	}
}

// Default error handlers

func defaultRateLimitExceeded(c echo.Context, result metering.RateLimitResult) error {
	return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"success": false,
		"error":   result.Message,
	})
}

// Convenience extractors for client ID

// FromContext returns a ClientIDExtractor that gets the client ID from Echo context values
func FromContext(key string) ClientIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a ClientIDExtractor that gets the client ID from a header
func FromHeader(headerName string) ClientIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromQuery returns a ClientIDExtractor that gets the client ID from a query parameter
func FromQuery(queryName string) ClientIDExtractor {
	return func(c echo.Context) string {
		return c.QueryParam(queryName)
	}
}

// HeaderCustomKey returns a CustomKeyDetector that checks a header for "true"
func HeaderCustomKey(headerName string) CustomKeyDetector {
	return func(c echo.Context) bool {
		return c.Request().Header.Get(headerName) == "true"
	}
}
