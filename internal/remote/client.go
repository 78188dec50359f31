// Package remote is the HTTP client for the pm-journey API. It implements
// the session manager's remote store.
package remote

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

	"github.com/ts3486/pm-journey-sub000/internal/domain"
	"github.com/ts3486/pm-journey-sub000/internal/identity"
)

const maxResponseSize = 5 * 1024 * 1024

// ErrUnavailable matches every failure to reach the server.
var ErrUnavailable = errors.New("server unavailable")

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
	notFound   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the domain sentinels.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == domain.ErrValidation
	case http.StatusNotFound:
		return target == e.notFound
	case http.StatusConflict:
		return target == domain.ErrSessionClosed
	}
	return false
}

// Client talks to the API as one learner.
type Client struct {
	baseURL    string
	learnerID  string
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

// New creates a client for the server at baseURL acting as learnerID.
func New(baseURL, learnerID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		learnerID:  learnerID,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LearnerID returns the identity the client sends.
func (c *Client) LearnerID() string {
	return c.learnerID
}

// Ping checks that the server is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, domain.ErrSessionNotFound)
}

// Create starts a session.
func (c *Client) Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.CreateSessionResult, error) {
	var out domain.CreateSessionResult
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &out, domain.ErrScenarioNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a session snapshot.
func (c *Client) Get(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	var out domain.SessionSnapshot
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID), nil, &out, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches a session's messages.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sessionID)+"/messages", nil, &out, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// PostMessage posts one turn.
func (c *Client) PostMessage(ctx context.Context, sessionID string, req domain.PostMessageRequest) (*domain.PostMessageResult, error) {
	var out domain.PostMessageResult
	if err := c.do(ctx, http.MethodPost, sessionPath(sessionID)+"/messages", req, &out, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveEvaluation stores the session's evaluation.
func (c *Client) SaveEvaluation(ctx context.Context, sessionID string, eval *domain.Evaluation) (*domain.SessionSnapshot, error) {
	var out domain.SessionSnapshot
	if err := c.do(ctx, http.MethodPut, sessionPath(sessionID)+"/evaluation", eval, &out, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns the learner's sessions, most recently active first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var out struct {
		Sessions []domain.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// ListScenarios returns the server's scenario catalog.
func (c *Client) ListScenarios(ctx context.Context) ([]domain.Scenario, error) {
	var out struct {
		Scenarios []domain.Scenario `json:"scenarios"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/scenarios", nil, &out, domain.ErrScenarioNotFound); err != nil {
		return nil, err
	}
	return out.Scenarios, nil
}

func sessionPath(sessionID string) string {
	return "/api/sessions/" + url.PathEscape(sessionID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, notFound error) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.learnerID != "" {
		req.Header.Set(identity.HeaderName, c.learnerID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("API request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrUnavailable, method, path, err)
	}

	c.logger.Debug("API request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", ErrUnavailable, &APIError{StatusCode: resp.StatusCode, Message: msg, notFound: notFound})
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg, notFound: notFound}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
