// Package http provides HTTP middleware for usage metering
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mockpress/mockpress/pkg/metering"
)

// ClientIDExtractor extracts the client identifier from an HTTP request.
// Return empty string if the client cannot be identified.
type ClientIDExtractor func(r *http.Request) string

// CustomKeyDetector reports whether the request carries its own credential
// and therefore bypasses metering.
type CustomKeyDetector func(r *http.Request) bool

// Config holds middleware configuration
type Config struct {
	// Meter is the usage meter instance (required)
	Meter *metering.Meter

	// GetClientID extracts the client ID from the request.
	// Default: metering.ClientIPFromRequest
	GetClientID ClientIDExtractor

	// HasCustomKey detects a caller-supplied credential.
	// Default: checks the X-Has-Custom-Key header.
	HasCustomKey CustomKeyDetector

	// Window selects which window gates requests. Default: WindowDay.
	Window metering.Window

	// OnRateLimitExceeded is called when the window is full.
	// If nil, returns 429 with rate limit headers and a JSON body.
	OnRateLimitExceeded func(w http.ResponseWriter, r *http.Request, result metering.RateLimitResult)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that meters requests against the
// configured window. Requests with a custom credential pass through
// untouched.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetClientID == nil {
		config.GetClientID = metering.ClientIPFromRequest
	}
	if config.HasCustomKey == nil {
		config.HasCustomKey = HeaderCustomKey("X-Has-Custom-Key")
	}
	if !config.Window.Valid() {
		config.Window = metering.WindowDay
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.HasCustomKey(r) {
				next.ServeHTTP(w, r)
				return
			}

			clientID := config.GetClientID(r)
			result := config.Meter.CheckAndConsume(r.Context(), clientID, config.Window)

			setRateLimitHeaders(w, result)
			if !result.Allowed {
				if config.OnRateLimitExceeded != nil {
					config.OnRateLimitExceeded(w, r, result)
				} else {
					defaultRateLimitExceeded(w, result)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that meters requests (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result metering.RateLimitResult) {
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
	if !result.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
	}
}

func defaultRateLimitExceeded(w http.ResponseWriter, result metering.RateLimitResult) {
	if !result.ResetTime.IsZero() {
		retryAfter := time.Until(result.ResetTime)
		if retryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   result.Message,
	})
}

// Common extractors for convenience

// ContextKey is a type for context keys
type ContextKey string

const (
	// ClientIDKey is the context key for the client ID
	ClientIDKey ContextKey = "metering:clientID"
)

// FromContext returns a ClientIDExtractor that gets the client ID from request context
func FromContext(key ContextKey) ClientIDExtractor {
	return func(r *http.Request) string {
		if clientID, ok := r.Context().Value(key).(string); ok {
			return clientID
		}
		return ""
	}
}

// FromHeader returns a ClientIDExtractor that gets the client ID from a header
func FromHeader(headerName string) ClientIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// HeaderCustomKey returns a CustomKeyDetector that checks a header for "true"
func HeaderCustomKey(headerName string) CustomKeyDetector {
	return func(r *http.Request) bool {
		return r.Header.Get(headerName) == "true"
	}
}

// WithClientID adds the client ID to the request context
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ClientIDKey, clientID)
}
