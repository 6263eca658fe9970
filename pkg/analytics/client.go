// Package analytics queries the hosted product-analytics service with HogQL.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/logging"
	"github.com/ekaya-inc/ekaya-insights/pkg/metrics"
	"github.com/ekaya-inc/ekaya-insights/pkg/retry"
)

const (
	// QueryKind is the query node kind sent to the query API.
	QueryKind = "HogQLQuery"
	// DefaultMaxAttempts is the number of attempts per logical query.
	DefaultMaxAttempts = 2
	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 2 * time.Second
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 60 * time.Second
)

// Config holds the analytics service endpoint, credentials and tunables.
// Zero tunables fall back to the Default* constants.
type Config struct {
	Host          string
	ProjectID     string
	APIKey        string
	MaxConcurrent int
	MaxAttempts   int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// IsConfigured reports whether host, project and key are all set.
func (c Config) IsConfigured() bool {
	return c.Host != "" && c.ProjectID != "" && c.APIKey != ""
}

// QueryResult is the successful response of the query API.
type QueryResult struct {
	Columns      []string          `json:"columns,omitempty"`
	Results      [][]any           `json:"results"`
	Warnings     []json.RawMessage `json:"warnings,omitempty"`
	LimitReached bool              `json:"limit_reached,omitempty"`
}

// queryRequest is the POST body of the query API.
type queryRequest struct {
	Query queryNode `json:"query"`
}

type queryNode struct {
	Kind  string `json:"kind"`
	Query string `json:"query"`
}

// Client executes HogQL queries against the analytics service. Concurrent
// queries are bounded by a Limiter; throttled and server errors are retried
// with a fixed delay.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *Limiter
	retry      *retry.Config
	logger     *zap.Logger
}

// NewClient creates an analytics client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    NewLimiter(cfg.MaxConcurrent),
		logger:     logger.Named("analytics"),
	}

	c.retry = retry.Fixed(cfg.MaxAttempts, cfg.RetryDelay)
	c.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.AnalyticsRetries.Inc()
		c.logger.Warn("Analytics query failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("error", logging.SanitizeError(err)))
	}
	return c
}

// IsConfigured reports whether the client will call the service.
func (c *Client) IsConfigured() bool {
	return c.config.IsConfigured()
}

// Limiter returns the limiter bounding this client's concurrent queries.
func (c *Client) Limiter() *Limiter {
	return c.limiter
}

// ExecuteQuery runs query and returns its rows. A limiter slot is held for
// the whole call, retries included. An unconfigured client returns an empty
// result without calling the service.
//
// Failures are *Error values matching ErrThrottled, ErrServer or ErrGeneric.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	if !c.IsConfigured() {
		c.logger.Debug("Analytics not configured, returning empty result")
		return &QueryResult{Results: [][]any{}}, nil
	}

	body, err := json.Marshal(queryRequest{Query: queryNode{Kind: QueryKind, Query: query}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	endpoint := c.endpoint()

	var result *QueryResult
	err = c.limiter.Do(ctx, func(ctx context.Context) error {
		metrics.AnalyticsInFlight.Inc()
		defer metrics.AnalyticsInFlight.Dec()

		start := time.Now()
		r, err := retry.DoIfRetryableWithResult(ctx, c.retry, func() (*QueryResult, error) {
			r, err := c.doQuery(ctx, endpoint, body)
			metrics.AnalyticsRequests.WithLabelValues(attemptResult(err)).Inc()
			return r, err
		})
		if err != nil {
			return err
		}
		c.logger.Debug("Analytics query completed",
			zap.Int("rows", len(r.Results)),
			zap.Duration("elapsed", time.Since(start)))
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attemptResult is the metrics label for one attempt.
func attemptResult(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return string(apiErr.Kind)
	}
	return string(KindGeneric)
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.config.Host, "/") + "/api/projects/" + url.PathEscape(c.config.ProjectID) + "/query/"
}

// doQuery performs one attempt.
func (c *Client) doQuery(ctx context.Context, endpoint string, body []byte) (*QueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindGeneric, Message: "failed to call analytics API", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindGeneric, StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classifyResponse(resp.StatusCode, respBody)
		if apiErr.Kind == KindGeneric {
			c.logger.Error("Analytics API returned error",
				zap.Int("status", resp.StatusCode),
				zap.String("body", logging.SanitizeBody(string(respBody))))
		}
		return nil, apiErr
	}

	var result QueryResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Kind: KindGeneric, StatusCode: resp.StatusCode, Message: "failed to parse response", Cause: err}
	}
	if result.Results == nil {
		result.Results = [][]any{}
	}
	return &result, nil
}
