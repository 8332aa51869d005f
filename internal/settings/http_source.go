package settings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/valyala/fastjson"
)

type HTTPSource struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type HTTPSourceOption func(*HTTPSource)

func WithMaxRetries(n int) HTTPSourceOption {
	return func(s *HTTPSource) { s.maxRetries = n }
}

func WithBaseDelay(d time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) { s.baseDelay = d }
}

func WithMaxDelay(d time.Duration) HTTPSourceOption {
	return func(s *HTTPSource) { s.maxDelay = d }
}

func WithHTTPClient(c *http.Client) HTTPSourceOption {
	return func(s *HTTPSource) { s.client = c }
}

func NewHTTPSource(baseURL string, opts ...HTTPSourceOption) *HTTPSource {
	s := &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: commons.ExternalClientMaxRetries,
		baseDelay:  commons.ExternalClientBaseDelay,
		maxDelay:   commons.ExternalClientMaxDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch asks the settings service for several keys in one request. Values
// may come back as JSON strings holding JSON text or as inline JSON; both
// are returned as raw JSON text.
func (s *HTTPSource) Fetch(ctx context.Context, keys ...string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/secret/many?keys=%s", s.baseURL, url.QueryEscape(strings.Join(keys, ",")))

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.calculateBackoff(attempt - 1)
			logger.Warnf("settings request failed, retrying in %v: %v", delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, resp, err := s.do(ctx, endpoint)
		if err == nil {
			return decodeSecrets(body)
		}
		lastErr = err
		if !s.shouldRetry(err, resp) {
			break
		}
	}
	return nil, fmt.Errorf("failed to fetch settings: %w", lastErr)
}

func (s *HTTPSource) do(ctx context.Context, endpoint string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp, fmt.Errorf("settings request failed with status code: %d", resp.StatusCode)
	}
	return body, resp, nil
}

func (s *HTTPSource) shouldRetry(err error, resp *http.Response) bool {
	if err == nil {
		return false
	}
	if resp != nil {
		return resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "failed to send request")
}

// calculateBackoff doubles the base delay per attempt, caps it at maxDelay
// and adds up to 50% jitter.
func (s *HTTPSource) calculateBackoff(attempt int) time.Duration {
	backoff := s.baseDelay * time.Duration(1<<uint(attempt))
	if backoff > s.maxDelay || backoff <= 0 {
		backoff = s.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}

func decodeSecrets(body []byte) (map[string]string, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, value *fastjson.Value) {
		switch value.Type() {
		case fastjson.TypeNull:
			return
		case fastjson.TypeString:
			out[string(key)] = string(value.GetStringBytes())
		default:
			out[string(key)] = value.String()
		}
	})
	return out, nil
}
