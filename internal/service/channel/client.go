package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"SigRelay/internal/domain/repository"
	"SigRelay/pkg/logger"
)

// Messenger rejection phrases that mean the recipient is gone for good.
var permanentPhrases = []string{
	"chat not found",
	"bot was blocked",
	"user is deactivated",
	"invalid address",
}

// Client pushes signal text to recipients over the messenger HTTP API.
// Outbound calls share one token-bucket limiter so parallel delivery
// workers stay under the platform rate; a circuit breaker sheds load
// when the endpoint degrades.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit sets the outbound token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithBreaker toggles the circuit breaker.
func WithBreaker(enabled bool) Option {
	return func(c *Client) {
		if !enabled {
			c.breaker = nil
		}
	}
}

func NewClient(baseURL, token string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    rate.NewLimiter(rate.Limit(25), 5),
		log:        log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "channel",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			log.Warn("channel breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send pushes text to one address. Errors come back classified: rate
// limits as RateLimitedError, network faults and 5xx as TransientError,
// dead recipients as PermanentError.
func (c *Client) Send(ctx context.Context, address, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if c.breaker == nil {
		return c.send(ctx, address, text)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.send(ctx, address, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &repository.TransientError{Err: err}
	}
	return err
}

func (c *Client) send(ctx context.Context, address, text string) error {
	body, err := json.Marshal(sendRequest{ChatID: address, Text: text, ParseMode: "HTML"})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &repository.TransientError{Err: fmt.Errorf("read response: %w", err)}
	}
	return c.classifyResponse(resp, raw)
}

func (c *Client) classifyResponse(resp *http.Response, raw []byte) error {
	var body sendResponse
	// tolerate non-JSON error pages from proxies
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusOK && body.OK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &repository.RateLimitedError{RetryAfter: retryAfter(resp, body)}
	case resp.StatusCode >= 500:
		return &repository.TransientError{Err: fmt.Errorf("channel returned %d", resp.StatusCode)}
	}

	desc := strings.ToLower(body.Description)
	for _, phrase := range permanentPhrases {
		if strings.Contains(desc, phrase) {
			return &repository.PermanentError{Reason: body.Description}
		}
	}
	return fmt.Errorf("channel rejected message: status %d: %s", resp.StatusCode, body.Description)
}

func retryAfter(resp *http.Response, body sendResponse) time.Duration {
	if body.Parameters.RetryAfter > 0 {
		return time.Duration(body.Parameters.RetryAfter) * time.Second
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}

func classifyNetworkError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &repository.TransientError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &repository.TransientError{Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &repository.TransientError{Err: err}
}

// Health probes the messenger API with a cheap identity call.
func (c *Client) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getMe", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("channel health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("channel health: status %d", resp.StatusCode)
	}
	return nil
}

var _ repository.Channel = (*Client)(nil)
