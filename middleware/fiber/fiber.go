// Package fiber provides Fiber middleware for usage metering
package fiber

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mockpress/mockpress/pkg/metering"
)

// ClientIDExtractor extracts the client identifier from a Fiber context.
// Return empty string if the client cannot be identified.
type ClientIDExtractor func(c *fiber.Ctx) string

// CustomKeyDetector reports whether the request carries its own credential
// and therefore bypasses metering.
type CustomKeyDetector func(c *fiber.Ctx) bool

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
	OnRateLimitExceeded func(c *fiber.Ctx, result metering.RateLimitResult) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that meters requests against the
// configured window
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Meter == nil {
		panic("mockpress/fiber: Config.Meter is required")
	}

	if cfg.GetClientID == nil {
		cfg.GetClientID = ClientIP()
	}
	if cfg.HasCustomKey == nil {
		cfg.HasCustomKey = HeaderCustomKey("X-Has-Custom-Key")
	}
	if !cfg.Window.Valid() {
		cfg.Window = metering.WindowDay
	}

	return func(c *fiber.Ctx) error {
		if cfg.HasCustomKey(c) {
			return c.Next()
		}

		clientID := cfg.GetClientID(c)
		result := cfg.Meter.CheckAndConsume(c.UserContext(), clientID, cfg.Window)

		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		if !result.ResetTime.IsZero() {
			c.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
		}

		if !result.Allowed {
			if retryAfter := time.Until(result.ResetTime); retryAfter > 0 {
				c.Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			}
			if cfg.OnRateLimitExceeded != nil {
				return cfg.OnRateLimitExceeded(c, result)
			}
			return defaultRateLimitExceeded(c, result)
		}

		return c.Next()
	}
}

// Default error handlers

func defaultRateLimitExceeded(c *fiber.Ctx, result metering.RateLimitResult) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"success": false,
		"error":   result.Message,
	})
}

// Convenience extractors for client ID

// ClientIP returns a ClientIDExtractor that uses the first X-Forwarded-For
// hop, falling back to the connection's remote address.
func ClientIP() ClientIDExtractor {
	return func(c *fiber.Ctx) string {
		if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := c.IP(); ip != "" {
			return ip
		}
		return metering.UnknownClient
	}
}

// FromContext returns a ClientIDExtractor that gets the client ID from Fiber locals
func FromContext(key string) ClientIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a ClientIDExtractor that gets the client ID from a header
func FromHeader(headerName string) ClientIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromQuery returns a ClientIDExtractor that gets the client ID from a query parameter
func FromQuery(queryName string) ClientIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Query(queryName)
	}
}

// HeaderCustomKey returns a CustomKeyDetector that checks a header for "true"
func HeaderCustomKey(headerName string) CustomKeyDetector {
	return func(c *fiber.Ctx) bool {
		return c.Get(headerName) == "true"
	}
}
