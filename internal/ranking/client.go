package ranking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentboard/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRetries   = 0 // leaderboard failures resolve through the fallback chain
	DefaultRetryDelay   = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultBackoffMult  = 2.0
	DefaultMaxBodyBytes = 8 << 20
)

// HTTPClient implements Source over plain HTTP GET endpoints.
type HTTPClient struct {
	leaderboardURL string
	detailBaseURL  string
	client         *http.Client
	maxRetries     int
	retryDelay     time.Duration
	maxDelay       time.Duration
	backoffMult    float64
	userAgent      string
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithDetailBaseURL sets the detail endpoint; requests go to {base}/{username}.
func WithDetailBaseURL(base string) ClientOption {
	return func(c *HTTPClient) {
		c.detailBaseURL = strings.TrimRight(base, "/")
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// NewHTTPClient creates a new ranking source client.
func NewHTTPClient(leaderboardURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		leaderboardURL: leaderboardURL,
		client:         &http.Client{Timeout: DefaultTimeout},
		maxRetries:     DefaultMaxRetries,
		retryDelay:     DefaultRetryDelay,
		maxDelay:       DefaultMaxDelay,
		backoffMult:    DefaultBackoffMult,
		userAgent:      "agentboard/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Source = (*HTTPClient)(nil)

// statusError is an HTTP status that is not 200.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// get performs a GET with retries and exponential backoff.
// 404 is returned immediately without retry.
func (c *HTTPClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxBodyBytes))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, &statusError{Code: resp.StatusCode}
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = &statusError{Code: resp.StatusCode, Body: truncate(string(body), 200)}
			continue
		}

		return body, nil
	}

	if c.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// FetchLeaderboard retrieves and normalizes the current leaderboard.
func (c *HTTPClient) FetchLeaderboard(ctx context.Context) ([]*domain.AgentRecord, error) {
	body, err := c.get(ctx, c.leaderboardURL)
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	agents, err := DecodeLeaderboard(body)
	if err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return agents, nil
}

// FetchAgent retrieves enrichment details for one agent.
// Returns ErrAgentNotFound on 404.
func (c *HTTPClient) FetchAgent(ctx context.Context, username string) (*domain.AgentDetail, error) {
	if c.detailBaseURL == "" {
		return nil, fmt.Errorf("fetch agent: detail source not configured")
	}
	key := domain.NormalizeUsername(username)
	if key == "" {
		return nil, fmt.Errorf("fetch agent: empty username")
	}

	body, err := c.get(ctx, c.detailBaseURL+"/"+url.PathEscape(key))
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("fetch agent %s: %w", key, err)
	}

	d, err := DecodeAgentDetail(body)
	if err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", key, err)
	}
	if d.Username == "" {
		d.Username = key
	}
	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
