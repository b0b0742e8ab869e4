package api

import (
	"fmt"
	"net/http"

	"github.com/mockpress/mockpress/pkg/metering"
)

// Config holds configuration for the metering API handler
type Config struct {
	// Meter is the usage meter instance (required)
	Meter *metering.Meter

	// GetClientID extracts the client identifier from an HTTP request.
	// Defaults to metering.ClientIPFromRequest.
	GetClientID func(*http.Request) string

	// OnError handles internal errors. If nil, a JSON error envelope
	// with status 500 is written.
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional. Defaults to a no-op logger.
	Logger metering.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Meter == nil {
		return fmt.Errorf("meter is required")
	}
	return nil
}

// NewHandler creates a new metering API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetClientID == nil {
		config.GetClientID = metering.ClientIPFromRequest
	}
	if config.Logger == nil {
		config.Logger = &metering.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common client ID extraction patterns

// FromHeader returns a GetClientID function that reads a header value
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetClientID function that reads the request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if clientID, ok := r.Context().Value(key).(string); ok {
			return clientID
		}
		return ""
	}
}
