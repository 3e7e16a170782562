package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// httpClient is a paced, retrying JSON client shared by HTTP providers.
// Requests are spaced by a token bucket; timeouts, 5xx and 429 responses are
// retried with exponential backoff until the attempt budget runs out.
type httpClient struct {
	provider   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
}

type httpClientConfig struct {
	Provider          string
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration
}

func newHTTPClient(cfg httpClientConfig) *httpClient {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpClient{
		provider:   cfg.Provider,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		timeout:    cfg.Timeout,
	}
}

// errNotFound is internal to the client; callers translate it into the
// resource-specific not-found error.
var errNotFound = errors.New("resource not found")

// getJSON fetches the URL and decodes the body into out. A 404 returns
// errNotFound without consuming a retry.
func (c *httpClient) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &TransportError{Provider: c.provider, Err: err}
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, status, retryAfter, err := c.do(ctx, u.String())
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = &TimeoutError{Provider: c.provider, Timeout: c.timeout}
			if !isTimeout(err) {
				lastErr = &TransportError{Provider: c.provider, Err: err}
			}
		case status == http.StatusNotFound:
			return errNotFound
		case status == http.StatusTooManyRequests:
			lastErr = &RateLimitedError{Provider: c.provider, RetryAfter: retryAfter}
			if retryAfter > 0 && attempt < c.maxRetries-1 {
				if err := sleepCtx(ctx, retryAfter); err != nil {
					return err
				}
				continue
			}
		case status >= 500:
			lastErr = &TransportError{
				Provider: c.provider,
				Err:      fmt.Errorf("upstream status %d", status),
			}
		case status >= 400:
			return &TransportError{
				Provider: c.provider,
				Err:      fmt.Errorf("unexpected status %d", status),
			}
		default:
			if err := json.Unmarshal(body, out); err != nil {
				return &TransportError{Provider: c.provider, Err: fmt.Errorf("decode response: %w", err)}
			}
			return nil
		}

		if attempt < c.maxRetries-1 {
			backoff := c.retryDelay * (1 << attempt)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func (c *httpClient) do(ctx context.Context, url string) (body []byte, status int, retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "kyt-engine/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, perr := strconv.ParseFloat(v, 64); perr == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, retryAfter, err
	}
	return body, resp.StatusCode, retryAfter, nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
