// Package grading sends assembled prompts to an external text-generation
// endpoint and returns the raw completion text.
//
// The client carries no retry, parsing or business logic. Any failure is
// surfaced to the caller once.
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseSize limits the completion body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

const (
	// DefaultTemperature favors repeatable scoring.
	DefaultTemperature = 0.2

	// DefaultMaxOutputTokens bounds the completion length.
	DefaultMaxOutputTokens = 2048
)

// Config holds endpoint settings for the client.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Request is one completion request.
type Request struct {
	SystemInstruction string
	UserContent       string
	Temperature       float64
	MaxOutputTokens   int
}

// Client calls a Gemini-style generateContent endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a client. Missing settings are reported by Generate as a
// ConfigError so that a server can start without grading configured.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has everything it needs to call out.
func (c *Client) Configured() bool {
	return c.checkConfig() == nil
}

func (c *Client) checkConfig() error {
	switch {
	case strings.TrimSpace(c.cfg.Endpoint) == "":
		return &ConfigError{Field: "GRADING_ENDPOINT"}
	case strings.TrimSpace(c.cfg.APIKey) == "":
		return &ConfigError{Field: "GRADING_API_KEY"}
	case strings.TrimSpace(c.cfg.Model) == "":
		return &ConfigError{Field: "GRADING_MODEL"}
	}
	return nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

// Generate sends the request and returns the concatenated candidate text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.checkConfig(); err != nil {
		return "", err
	}

	temperature := req.Temperature
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.UserContent}}}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Generation request failed", "model", c.cfg.Model, "error", err)
		return "", newTransportError(0, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close generation response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", newTransportError(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Generation endpoint returned non-success",
			"model", c.cfg.Model,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return "", newTransportError(resp.StatusCode, errors.New(truncate(string(data), 200)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", newTransportError(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	var text strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", newTransportError(resp.StatusCode, errors.New("empty completion"))
	}

	c.logger.Debug("Generation completed",
		"model", c.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_len", text.Len(),
	)
	return text.String(), nil
}

func (c *Client) buildURL() string {
	base := strings.TrimSuffix(c.cfg.Endpoint, "/")
	return base + "/models/" + url.PathEscape(c.cfg.Model) + ":generateContent"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
