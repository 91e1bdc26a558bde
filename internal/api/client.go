// Package api implements the HTTP client for the upstream InternTrack REST
// API. Every response is classified into one of four outcome kinds; the
// reconciler bases its per-operation decisions entirely on that
// classification.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kimhsiao/interntrack/internal/entity"
	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/models"
)

// OutcomeKind classifies the result of one API call.
type OutcomeKind string

const (
	// OutcomeSuccess means the server accepted the operation (2xx).
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeValidation means the server rejected the payload with field
	// errors (4xx with a parseable error body). Never retried.
	OutcomeValidation OutcomeKind = "validation"

	// OutcomeAuth means the session is expired or forbidden (401/403).
	OutcomeAuth OutcomeKind = "auth"

	// OutcomeNetwork means the call did not conclusively reach the server
	// or the server failed (transport error, timeout, 5xx, unclassifiable).
	OutcomeNetwork OutcomeKind = "network"
)

// Outcome is the classified result of executing one operation.
type Outcome struct {
	Kind   OutcomeKind
	Status int

	// Record holds the response body on success; for creates it carries the
	// server-assigned record, used to resolve temp ids.
	Record json.RawMessage

	// Message and Fields carry the server's validation error body.
	Message string
	Fields  map[string]string

	// Err holds the transport error for network outcomes.
	Err error
}

// errorBody is the upstream API's error response shape.
type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors"`
}

// TokenSource supplies the current bearer token. An empty token with a nil
// error means the agent is unauthenticated; requests are sent without the
// Authorization header and the server answers 401.
type TokenSource interface {
	Token() (string, error)
}

// ClientConfig holds client settings.
type ClientConfig struct {
	BaseURL   string
	CompanyID string
	Timeout   time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout: 15 * time.Second,
	}
}

// Client executes queued operations against the upstream API.
type Client struct {
	config ClientConfig
	http   *http.Client
	tokens TokenSource
	logger *logging.Logger
}

// NewClient creates an API client.
func NewClient(config ClientConfig, tokens TokenSource) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultClientConfig().Timeout
	}
	return &Client{
		config: config,
		http:   &http.Client{},
		tokens: tokens,
		logger: logging.Get(),
	}
}

// Execute performs the HTTP call for one queued operation and classifies
// the result. It never returns an error: every failure mode maps to an
// outcome kind.
func (c *Client) Execute(ctx context.Context, op *models.QueuedOperation) Outcome {
	schema, err := entity.Lookup(op.Entity)
	if err != nil {
		// An unknown entity in the queue is a corrupt row; surfacing it as
		// validation removes it from the queue instead of blocking the pass.
		return Outcome{
			Kind:    OutcomeValidation,
			Message: fmt.Sprintf("unknown entity type %q", op.Entity),
			Fields:  map[string]string{"entity": "unknown entity type"},
		}
	}

	method, url := c.route(schema, op)

	var body io.Reader
	if len(op.Payload) > 0 && op.Action != string(entity.ActionDelete) {
		body = bytes.NewReader(op.Payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Outcome{Kind: OutcomeNetwork, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("API request failed", map[string]interface{}{
			"method": method,
			"url":    url,
			"error":  err.Error(),
		})
		return Outcome{Kind: OutcomeNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Kind: OutcomeNetwork, Status: resp.StatusCode, Err: err}
	}

	return classify(resp.StatusCode, data)
}

// route maps an operation to its HTTP method and URL.
func (c *Client) route(schema entity.Schema, op *models.QueuedOperation) (string, string) {
	base := strings.TrimRight(c.config.BaseURL, "/") + schema.Path
	switch op.Action {
	case string(entity.ActionUpdate):
		return http.MethodPut, base + "/" + string(op.RecordID)
	case string(entity.ActionDelete):
		return http.MethodDelete, base + "/" + string(op.RecordID)
	default:
		return http.MethodPost, base
	}
}

// setHeaders attaches auth and tenant headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.CompanyID != "" {
		req.Header.Set("X-Company-Id", c.config.CompanyID)
	}
	if c.tokens != nil {
		if token, err := c.tokens.Token(); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// classify maps a status code and response body to an outcome kind.
func classify(status int, body []byte) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Outcome{Kind: OutcomeSuccess, Status: status, Record: body}

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Outcome{Kind: OutcomeAuth, Status: status}

	case status >= 400 && status < 500:
		var parsed errorBody
		if err := json.Unmarshal(body, &parsed); err != nil || (parsed.Message == "" && len(parsed.Errors) == 0) {
			// A 4xx without a recognizable error body cannot be blamed on
			// the payload; treat it as retryable.
			return Outcome{Kind: OutcomeNetwork, Status: status}
		}
		return Outcome{
			Kind:    OutcomeValidation,
			Status:  status,
			Message: parsed.Message,
			Fields:  parsed.Errors,
		}

	default:
		return Outcome{Kind: OutcomeNetwork, Status: status}
	}
}
