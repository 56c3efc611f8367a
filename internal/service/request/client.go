package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultUploadTimeout = 60 * time.Second
	DefaultRetryCount    = 2
	DefaultRetryDelay    = time.Second
)

// Doer is the network transport; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy controls how many extra attempts are made and how long to wait between them.
type RetryPolicy struct {
	Count int
	Delay time.Duration
}

// Options bound a single Post call.
type Options struct {
	Timeout time.Duration
	Retries RetryPolicy
}

// DefaultOptions returns the stock timeout and retry policy.
func DefaultOptions() Options {
	return Options{
		Timeout: DefaultTimeout,
		Retries: RetryPolicy{Count: DefaultRetryCount, Delay: DefaultRetryDelay},
	}
}

// Option overrides the client defaults for one call.
type Option func(*Options)

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithRetries sets the number of additional attempts and the fixed delay between them.
func WithRetries(count int, delay time.Duration) Option {
	return func(o *Options) {
		if count < 0 {
			count = 0
		}
		if delay < 0 {
			delay = 0
		}
		o.Retries = RetryPolicy{Count: count, Delay: delay}
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client posts JSON payloads with a per-attempt timeout and a fixed-delay retry loop.
type Client struct {
	doer     Doer
	defaults Options
}

// New creates a Client. A nil doer uses a fresh *http.Client.
func New(doer Doer, defaults Options) *Client {
	if doer == nil {
		doer = &http.Client{}
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	if defaults.Retries.Count < 0 {
		defaults.Retries.Count = 0
	}
	if defaults.Retries.Delay < 0 {
		defaults.Retries.Delay = 0
	}
	return &Client{doer: doer, defaults: defaults}
}

// Post sends payload as JSON to endpoint. Every failure kind is retried alike; after
// 1+Retries.Count attempts the last error is returned.
func (c *Client) Post(ctx context.Context, endpoint string, payload any, opts ...Option) (*Response, error) {
	options := c.defaults
	for _, opt := range opts {
		opt(&options)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}

	attempts := options.Retries.Count + 1
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(options.Retries.Delay):
			}
		}

		resp, err := c.attempt(ctx, endpoint, body, options.Timeout)
		if err == nil {
			return resp, nil
		}

		// 调用方主动取消时不再重试
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		log.Printf("[request] attempt %d/%d to %s failed: %v", i+1, attempts, endpoint, err)
	}

	return nil, fmt.Errorf("post %s failed after %d attempts: %w", endpoint, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, endpoint string, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, classify(attemptCtx, ctx, endpoint, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPStatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(attemptCtx, ctx, endpoint, timeout, err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func classify(attemptCtx, parent context.Context, endpoint string, timeout time.Duration, err error) error {
	if parent.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Endpoint: endpoint, Timeout: timeout}
	}
	return &NetworkError{Endpoint: endpoint, Err: err}
}
