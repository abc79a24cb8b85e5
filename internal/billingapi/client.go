// Package billingapi is a client of the billing REST API. It backs the
// remote data backend and the operator CLI.
package billingapi

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
	"sync"
	"time"

	"github.com/finopsmind/billing/internal/config"
	"github.com/finopsmind/billing/internal/correlation"
	"github.com/finopsmind/billing/internal/model"
	"github.com/finopsmind/billing/internal/repository"
)

// ErrCircuitOpen is returned while the upstream is considered down.
var ErrCircuitOpen = fmt.Errorf("circuit breaker is open: %w", repository.ErrUnavailable)

// Client talks to the /api/v1 surface of a billing API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         *CircuitBreaker
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewClient creates a client for cfg.URL. The URL may or may not carry the
// /api/v1 suffix.
func NewClient(cfg config.UpstreamConfig, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(base, "/api/v1") {
		base += "/api/v1"
	}
	maxFailures := cfg.CircuitBreaker.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &correlation.Transport{},
		},
		cb: &CircuitBreaker{
			maxFailures:   maxFailures,
			resetTimeout:  cfg.CircuitBreaker.ResetTimeout,
			halfOpenLimit: 1,
			state:         stateClosed,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    200 * time.Millisecond,
		logger:     logger,
	}
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() string {
	return c.cb.State()
}

// HTTPError is a non-2xx response the client could not map to a
// repository error.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// statusError maps an error response to the error the local services
// would have produced.
func statusError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if eb.Message == "" {
		eb.Message = strings.TrimSpace(string(body))
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", eb.Message, repository.ErrNotFound)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", eb.Message, repository.ErrConflict)
	case status == http.StatusUnprocessableEntity:
		verr := &model.ValidationError{}
		var fields map[string]string
		if json.Unmarshal(eb.Details, &fields) == nil {
			for k, v := range fields {
				verr.Add(k, v)
			}
		}
		if len(verr.Fields) == 0 {
			verr.Add("request", eb.Message)
		}
		return verr
	}
	return &HTTPError{StatusCode: status, Code: eb.Code, Message: eb.Message}
}

func retryable(method string, err error) bool {
	if method != http.MethodGet {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500 || he.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, repository.ErrNotFound) && !errors.Is(err, repository.ErrConflict) &&
		!errors.Is(err, ErrCircuitOpen) && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// do sends one request and decodes the JSON answer into out. GETs are
// retried on network and 5xx errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			c.logger.DebugContext(ctx, "retrying upstream request", "path", path, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		err = c.once(ctx, method, path, query, body, out)
		if err == nil || !retryable(method, err) {
			return err
		}
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	if err := c.cb.Allow(); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.cb.RecordFailure()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.cb.RecordFailure()
	} else {
		c.cb.RecordSuccess()
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return statusError(resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Circuit breaker states.
const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half-open"
)

// CircuitBreaker stops calling an upstream that keeps failing and lets a
// probe through after resetTimeout.
type CircuitBreaker struct {
	mu            sync.RWMutex
	failures      int
	maxFailures   int
	state         string
	lastFailure   time.Time
	resetTimeout  time.Duration
	halfOpenLimit int
	halfOpenCount int
}

func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateOpen:
		if time.Since(cb.lastFailure) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = stateHalfOpen
		cb.halfOpenCount = 1
	case stateHalfOpen:
		if cb.halfOpenCount >= cb.halfOpenLimit {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}
	return nil
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = stateClosed
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == stateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = stateOpen
	}
}

func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
