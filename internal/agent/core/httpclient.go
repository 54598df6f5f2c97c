package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	userAgent     = "podcaster/1.0"
	maxRetryAfter = 10 * time.Second
	maxErrorBody  = 4096
)

// HTTPClient is the JSON client shared by the search adapters and the
// OpenAI-compatible provider. Transient failures are retried with exponential
// backoff; a 429 carrying Retry-After waits that long instead, up to 10s.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if backoff <= 0 {
		backoff = 300 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: max(retries, 0), backoff: backoff}
}

// DoJSON encodes body (when non-nil) and decodes a 2xx response into out
// (when non-nil).
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	hdr := map[string]string{}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
		hdr["Content-Type"] = "application/json"
	}
	for k, v := range headers {
		hdr[k] = v
	}
	raw, err := c.Do(ctx, method, url, hdr, payload)
	if err != nil || out == nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Do returns the body of a 2xx response. Non-2xx responses come back as
// *StatusError.
func (c *HTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		raw, err := c.once(ctx, method, url, headers, payload)
		if err == nil {
			return raw, nil
		}
		if attempt >= c.retries || !IsTransient(err) {
			return nil, err
		}
		select {
		case <-time.After(c.delay(attempt, err)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *HTTPClient) delay(attempt int, err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return min(se.RetryAfter, maxRetryAfter)
	}
	return c.backoff << attempt
}

func (c *HTTPClient) once(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return io.ReadAll(resp.Body)
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &StatusError{
		Status:     resp.StatusCode,
		Body:       string(snippet),
		RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
}

// retryAfter understands the delay-seconds form only.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
