// Package httpx provides the process-wide HTTP client pool and the shared
// request helper used by every REST client: JSON encoding, bearer auth,
// bounded retry with exponential backoff and jitter, and slow-call logging.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// SlowThreshold triggers a structured warning for outbound calls.
	SlowThreshold = 5 * time.Second
	// MaxRetries bounds transient-error retries per request.
	MaxRetries = 3
)

// Pool is the shared connection-pooled HTTP client. One Pool is created per
// process and handed to every REST client so keep-alive connections are
// reused per host.
type Pool struct {
	client  *http.Client
	log     *slog.Logger
	delay   time.Duration
	observe func(url string, elapsed time.Duration)
}

// NewPool creates a pool with the given per-request timeout.
func NewPool(timeout time.Duration, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Pool{
		client: &http.Client{Timeout: timeout, Transport: transport},
		log:    log,
	}
}

// Client exposes the underlying http.Client for callers that need raw
// streaming access (SSE).
func (p *Pool) Client() *http.Client { return p.client }

// SetDelay installs a minimum pause before every outbound request, for
// rate-limited upstreams. Zero disables it. Set during wiring, before the
// pool is shared.
func (p *Pool) SetDelay(d time.Duration) { p.delay = d }

// SetObserver installs a latency callback invoked once per completed HTTP
// round trip, including retried attempts. Set during wiring, before the
// pool is shared.
func (p *Pool) SetObserver(fn func(url string, elapsed time.Duration)) { p.observe = fn }

// throttle waits out the configured delay, aborting on cancellation.
func (p *Pool) throttle(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Request describes one JSON request.
type Request struct {
	Method string
	URL    string
	Body   any // marshaled as JSON when non-nil
	Header http.Header
}

// StatusError is returned for non-2xx responses. 429 and 5xx are retried;
// other 4xx are contract errors and returned immediately.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Retriable reports whether the status is a transient class.
func (e *StatusError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetriable classifies an error per the transient/contract taxonomy:
// network and timeout errors retry, 429/5xx retry, other HTTP statuses do not.
func IsRetriable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// Do executes the request with bounded retry and returns the response body.
// Context cancellation aborts pending retries immediately.
func (p *Pool) Do(ctx context.Context, req Request) ([]byte, error) {
	var respBody []byte

	op := func() error {
		if err := p.throttle(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var bodyReader io.Reader
		if req.Body != nil {
			jsonBody, err := json.Marshal(req.Body)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("marshal request body: %w", err))
			}
			bodyReader = bytes.NewReader(jsonBody)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		for k, vs := range req.Header {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}
		if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if httpReq.Header.Get("Accept") == "" {
			httpReq.Header.Set("Accept", "application/json")
		}

		start := time.Now()
		resp, err := p.client.Do(httpReq)
		elapsed := time.Since(start)
		if p.observe != nil && err == nil {
			p.observe(req.URL, elapsed)
		}
		if elapsed > SlowThreshold {
			p.log.Warn("slow http call",
				"method", req.Method, "url", req.URL,
				"elapsed", elapsed.Round(time.Millisecond), "slow", true)
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			serr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			if serr.Retriable() {
				return serr
			}
			return backoff.Permanent(serr)
		}

		respBody = body
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), MaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return respBody, nil
}

// DoJSON executes the request and unmarshals the response into out.
// A nil out discards the body. An empty body with non-nil out is an error
// only when the caller expects JSON; callers pass nil for fire-and-forget.
func (p *Pool) DoJSON(ctx context.Context, req Request, out any) error {
	body, err := p.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.RandomizationFactor = 0.3
	return bo
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
