// Package gin provides Gin middleware for usage metering
package gin

import (
	"fmt"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/mockpress/mockpress/pkg/metering"
)

// ClientIDExtractor extracts the client identifier from a Gin context.
// Return empty string if the client cannot be identified.
type ClientIDExtractor func(c *gongin.Context) string

// CustomKeyDetector reports whether the request carries its own credential
// and therefore bypasses metering.
type CustomKeyDetector func(c *gongin.Context) bool

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
	OnRateLimitExceeded func(c *gongin.Context, result metering.RateLimitResult)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that meters requests against the
// configured window
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Meter == nil {
		panic("mockpress/gin: Config.Meter is required")
	}

	if cfg.GetClientID == nil {
		cfg.GetClientID = func(c *gongin.Context) string {
			return metering.ClientIPFromRequest(c.Request)
		}
	}
	if cfg.HasCustomKey == nil {
		cfg.HasCustomKey = HeaderCustomKey("X-Has-Custom-Key")
	}
	if !cfg.Window.Valid() {
		cfg.Window = metering.WindowDay
	}

	return func(c *gongin.Context) {
		if cfg.HasCustomKey(c) {
			c.Next()
			return
		}

		clientID := cfg.GetClientID(c)
		result := cfg.Meter.CheckAndConsume(c.Request.Context(), clientID, cfg.Window)

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		if !result.ResetTime.IsZero() {
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
		}

		if !result.Allowed {
			if retryAfter := time.Until(result.ResetTime); retryAfter > 0 {
				c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			}
			if cfg.OnRateLimitExceeded != nil {
				cfg.OnRateLimitExceeded(c, result)
			} else {
				defaultRateLimitExceeded(c, result)
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// Default error handlers

func defaultRateLimitExceeded(c *gongin.Context, result metering.RateLimitResult) {
	c.JSON(http.StatusTooManyRequests, gongin.H{
		"success": false,
		"error":   result.Message,
	})
}

// Convenience extractors for client ID

// FromContext returns a ClientIDExtractor that gets the client ID from Gin context values
//
// Example:
//
//	// In your identity middleware:
//	c.Set("ClientID", clientID)
//
//	// In metering middleware config:
//	GetClientID: gin.FromContext("ClientID")
func FromContext(key string) ClientIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a ClientIDExtractor that gets the client ID from a header
func FromHeader(headerName string) ClientIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromQuery returns a ClientIDExtractor that gets the client ID from a query parameter
func FromQuery(queryName string) ClientIDExtractor {
	return func(c *gongin.Context) string {
		return c.Query(queryName)
	}
}

// HeaderCustomKey returns a CustomKeyDetector that checks a header for "true"
func HeaderCustomKey(headerName string) CustomKeyDetector {
	return func(c *gongin.Context) bool {
		return c.GetHeader(headerName) == "true"
	}
}
