package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mockpress/mockpress/pkg/metering"
)

const (
	defaultModel       = "gemini-2.0-flash-exp"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
	defaultTopP        = 0.9
	defaultHTTPTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20

	// DefaultPromptTemplate frames the topic as a deadpan wire-service
	// dispatch. {TOPIC} is replaced with the sanitized topic.
	DefaultPromptTemplate = `You are a senior wire-service correspondent filing an urgent dispatch. Write a complete, formal, scrupulously neutral news article that treats the following premise as confirmed fact, in inverted-pyramid form with a sober headline, at least two quotes from plausible fictional experts with institutional affiliations, and concrete verifiable-sounding details. The central premise: {TOPIC}. Write roughly 175-350 words.`
)

// Config configures a generation Client.
type Config struct {
	// Endpoint is the upstream completion endpoint. Required.
	Endpoint string

	// Model names the upstream model. Defaults to gemini-2.0-flash-exp.
	Model string

	// SystemCredential is used when the caller supplies no credential of
	// their own. Optional.
	SystemCredential string

	// PromptTemplate must contain a {TOPIC} placeholder. Defaults to
	// DefaultPromptTemplate.
	PromptTemplate string

	Temperature float64
	MaxTokens   int
	TopP        float64

	// HTTPClient defaults to one with a 30 second timeout.
	HTTPClient *http.Client

	Logger metering.Logger
}

// Client calls an upstream text-generation API. It implements
// metering.Generator.
type Client struct {
	endpoint         string
	model            string
	systemCredential string
	promptTemplate   string
	temperature      float64
	maxTokens        int
	topP             float64
	httpClient       *http.Client
	logger           metering.Logger
}

// NewClient creates a generation client for the configured endpoint.
func NewClient(config Config) (*Client, error) {
	if strings.TrimSpace(config.Endpoint) == "" {
		return nil, fmt.Errorf("generate: endpoint is required")
	}

	model := config.Model
	if model == "" {
		model = defaultModel
	}
	template := config.PromptTemplate
	if template == "" {
		template = DefaultPromptTemplate
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	topP := config.TopP
	if topP == 0 {
		topP = defaultTopP
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = &metering.NoopLogger{}
	}

	return &Client{
		endpoint:         config.Endpoint,
		model:            model,
		systemCredential: strings.TrimSpace(config.SystemCredential),
		promptTemplate:   template,
		temperature:      temperature,
		maxTokens:        maxTokens,
		topP:             topP,
		httpClient:       httpClient,
		logger:           logger,
	}, nil
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

type generateResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Generate validates the topic, calls the upstream endpoint and returns the
// sanitized article. Upstream failures come back inside the result rather
// than as transport errors so callers can surface the message verbatim.
func (c *Client) Generate(ctx context.Context, topic, credential string) (*metering.GenerateResult, error) {
	sanitized, err := ValidateTopic(topic)
	if err != nil {
		return &metering.GenerateResult{Error: err.Error()}, nil
	}

	cred := strings.TrimSpace(credential)
	if cred == "" {
		cred = c.systemCredential
	}
	if cred == "" {
		return nil, ErrNoCredential
	}

	payload, err := json.Marshal(generateRequest{
		Model:       c.model,
		Prompt:      strings.ReplaceAll(c.promptTemplate, "{TOPIC}", sanitized),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		TopP:        c.topP,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("generate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate: call upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("generate: read response: %w", err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("unparseable upstream response",
			metering.Field{Key: "status", Value: resp.StatusCode})
		return &metering.GenerateResult{
			Error: fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		}, nil
	}

	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		msg := parsed.Error
		if msg == "" {
			msg = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
		}
		c.logger.Warn("generation failed upstream",
			metering.Field{Key: "status", Value: resp.StatusCode},
			metering.Field{Key: "error", Value: msg})
		return &metering.GenerateResult{Error: msg}, nil
	}

	content := SanitizeResponse(parsed.Content)
	if content == "" {
		return &metering.GenerateResult{Error: "upstream returned empty content"}, nil
	}

	return &metering.GenerateResult{Success: true, Content: content}, nil
}
