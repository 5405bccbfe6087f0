package resilience

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient wraps a standard http.Client with circuit breaking and bounded
// exponential-backoff retries. Requests with a body are buffered so retries
// can replay them.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      zerolog.Logger
}

// NewHTTPClient builds an HTTPClient with sane defaults around the provided
// breaker.
func NewHTTPClient(breaker *Breaker, timeout time.Duration, maxAttempts int, baseBackoff time.Duration, jitter float64) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}
	return &HTTPClient{
		Client:      &http.Client{Timeout: timeout},
		Breaker:     breaker,
		MaxAttempts: maxAttempts,
		BaseBackoff: baseBackoff,
		Jitter:      jitter,
		Timeout:     timeout,
		Logger:      zerolog.Nop(),
	}
}

// Do executes the request with retries. Server errors (5xx) and transport
// errors count as failures and are retried; any other response is returned to
// the caller as-is.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.Breaker != nil && !c.Breaker.Allow(ctx) {
		return nil, ErrOpenCircuit
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	var lastErr error
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := Backoff(c.BaseBackoff, attempt-1, c.Jitter)
			select {
			case <-ctx.Done():
				c.report(ctx, false)
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		resp, lastErr = c.Client.Do(cloneRequest(req, body))
		if lastErr != nil {
			c.Logger.Warn().Err(lastErr).Str("target", c.Target).Int("attempt", attempt).Msg("http_request_failed")
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			c.Logger.Warn().Int("status", resp.StatusCode).Str("target", c.Target).Int("attempt", attempt).Msg("http_request_server_error")
			drainAndClose(resp)
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			resp = nil
			continue
		}
		c.report(ctx, true)
		return resp, nil
	}

	c.report(ctx, false)
	return nil, lastErr
}

func (c *HTTPClient) report(ctx context.Context, success bool) {
	if c.Breaker != nil {
		c.Breaker.Report(ctx, success)
	}
}

// StatusError marks an HTTP response treated as a transport-level failure.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "resilience: server error status " + http.StatusText(e.StatusCode)
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body == nil {
		clone.Body = nil
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
