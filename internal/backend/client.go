package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-translator/internal/observability"
	"github.com/lexiqai/live-translator/internal/resilience"
)

// maxResponseBytes caps how much of a collaborator response is read.
const maxResponseBytes = 32 << 20

// ServiceError is a failed collaborator call: a transport failure
// (StatusCode 0), a non-2xx response or an open circuit.
type ServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service returned status %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s service failed: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Config configures a Client
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxFailures  int           // Consecutive failures before a service's circuit opens
	ResetTimeout time.Duration // Time before an open circuit lets a probe through
	HTTPClient   *http.Client
}

// Response is a successful collaborator response
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// DecodeJSON unmarshals the response body into v
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Client posts requests to the backend collaborators. Every service name
// gets its own circuit breaker. Calls are never retried.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	maxFailures  int
	resetTimeout time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewClient creates a backend client
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		logger:       observability.WithComponent("backend"),
		breakers:     make(map[string]*resilience.CircuitBreaker),
	}
}

// BaseURL returns the backend root URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Breaker returns the circuit breaker guarding service, creating it on first use
func (c *Client) Breaker(service string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.breakers[service]
	if !ok {
		cb = resilience.NewCircuitBreaker(service, c.maxFailures, c.resetTimeout)
		cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			c.logger.Warn().
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		})
		c.breakers[service] = cb
	}
	return cb
}

// PostForm sends form fields as application/x-www-form-urlencoded
func (c *Client) PostForm(ctx context.Context, service, path string, form url.Values) (*Response, error) {
	return c.do(ctx, service, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// File is one multipart file part
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// PostMultipart sends form fields plus one file as multipart/form-data
func (c *Client) PostMultipart(ctx context.Context, service, path string, fields map[string]string, file File) (*Response, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
	if file.ContentType != "" {
		header.Set("Content-Type", file.ContentType)
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	payload := body.Bytes()
	return c.do(ctx, service, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
}

// Ping reports whether the backend answers HTTP at all
func (c *Client) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return false, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return true, nil
}

func (c *Client) do(ctx context.Context, service string, build func() (*http.Request, error)) (*Response, error) {
	req, err := build()
	if err != nil {
		return nil, &ServiceError{Service: service, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	var (
		result    *Response
		clientErr *ServiceError
	)
	start := time.Now()

	err = c.Breaker(service).Call(func() error {
		resp, err := c.httpClient.Do(req)
		if errors.Is(err, context.Canceled) {
			// The caller gave up; the backend did nothing wrong
			clientErr = &ServiceError{Service: service, Err: err}
			return nil
		}
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = &Response{
				StatusCode:  resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        body,
			}
			return nil
		case resp.StatusCode >= 500:
			return &ServiceError{Service: service, StatusCode: resp.StatusCode, Err: errors.New(errorDetail(body))}
		default:
			// The backend is up; a rejected request does not trip the breaker
			clientErr = &ServiceError{Service: service, StatusCode: resp.StatusCode, Err: errors.New(errorDetail(body))}
			return nil
		}
	})

	latency := time.Since(start)
	success := err == nil && clientErr == nil
	observability.RecordServiceRequest(service, latency, success)

	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(service)
		}
		var se *ServiceError
		if !errors.As(err, &se) {
			se = &ServiceError{Service: service, Err: err}
		}
		c.logger.Error().Err(se).Str("service", service).Dur("latency", latency).Msg("Collaborator call failed")
		return nil, se
	}
	if clientErr != nil {
		if errors.Is(clientErr, context.Canceled) {
			c.logger.Debug().Str("service", service).Msg("Collaborator call canceled")
			return nil, clientErr
		}
		c.logger.Warn().Err(clientErr).Str("service", service).Msg("Collaborator rejected request")
		return nil, clientErr
	}

	c.logger.Debug().Str("service", service).Dur("latency", latency).Msg("Collaborator call succeeded")
	return result, nil
}

// errorDetail extracts a readable message from an error response body.
// FastAPI-style {"detail": ...} and {"error": ...} bodies are unwrapped.
func errorDetail(body []byte) string {
	var payload struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
		if payload.Detail != nil {
			if b, err := json.Marshal(payload.Detail); err == nil {
				return string(b)
			}
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}
