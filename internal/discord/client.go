// Package discord implements the chat delivery capability against the
// Discord REST API: resolving a channel and sending a message to it. All
// outbound calls run through a shared circuit breaker and bounded retries
// with exponential backoff, honoring Retry-After on rate limits.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"guildpost/internal/config"
	"guildpost/internal/types"
)

// MaxContentLength is Discord's hard cap on message content. The report
// formatter truncates well below this; the client enforces it as a final
// guard so an oversized payload fails locally instead of with a 400.
const MaxContentLength = 2000

// ChannelResolver resolves a channel ID to channel metadata.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, channelID int64) (*types.Channel, error)
}

// MessageSender delivers one text message to a channel.
type MessageSender interface {
	Send(ctx context.Context, channelID int64, content string) error
}

// RetryPolicy configures retry behavior for Discord API calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the standard policy for Discord calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// Client is a minimal Discord REST client implementing ChannelResolver and
// MessageSender.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	retry      RetryPolicy
	baseURL    string
	token      types.SecretString
	userAgent  string
	logger     *slog.Logger
	sleepFn    func(time.Duration)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithSleepFunc overrides the sleep used between retries, for tests.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleepFn = fn }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// NewClient creates a Discord REST client from configuration.
func NewClient(cfg config.DiscordConfig, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "discord",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		retry:      DefaultRetryPolicy(),
		baseURL:    cfg.APIBaseURL,
		token:      cfg.BotToken,
		userAgent:  cfg.UserAgent,
		logger:     logger,
		sleepFn:    time.Sleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ResolveChannel fetches channel metadata. A 404 maps to a typed not-found
// error so pollers can distinguish a vanished channel from transport trouble.
func (c *Client) ResolveChannel(ctx context.Context, channelID int64) (*types.Channel, error) {
	url := fmt.Sprintf("%s/channels/%d", c.baseURL, channelID)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewAppError(types.ErrCodeNotFoundChannel,
			fmt.Sprintf("channel %d does not exist or the bot cannot see it", channelID), nil)
	case resp.StatusCode >= 400:
		return nil, types.NewAppError(types.ErrCodeUpstreamDiscord,
			fmt.Sprintf("resolving channel %d returned status %d", channelID, resp.StatusCode), nil)
	}

	var ch types.Channel
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamDiscord, "decoding channel response", err)
	}
	return &ch, nil
}

// Send posts one text message to the channel. Content longer than
// MaxContentLength is rejected without a network call.
func (c *Client) Send(ctx context.Context, channelID int64, content string) error {
	if n := len([]rune(content)); n > MaxContentLength {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("message content is %d runes, above the %d cap", n, MaxContentLength), nil)
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "encoding message payload", err)
	}

	url := fmt.Sprintf("%s/channels/%d/messages", c.baseURL, channelID)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundChannel,
			fmt.Sprintf("channel %d does not exist or the bot cannot see it", channelID), nil)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.NewAppError(types.ErrCodeUpstreamDiscord,
			fmt.Sprintf("sending to channel %d returned status %d: %s", channelID, resp.StatusCode, detail), nil)
	}

	return nil
}

// do executes one request through the circuit breaker with bounded retries
// on 429 and 5xx. The returned response body is open; the caller closes it.
func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "building discord request", err)
		}
		req.Header.Set("Authorization", "Bot "+c.token.Unmask())
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			// 5xx and 429 count against the breaker.
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("discord returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if ctx.Err() != nil {
			break
		}

		if attempt < maxAttempts-1 {
			c.sleepFn(c.computeBackoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}

	return nil, c.mapError(lastErr)
}

// computeBackoff picks the wait before the next attempt: the Retry-After
// header when Discord supplies one, else exponential backoff with full
// jitter clamped to [MinWait, MaxWait].
func (c *Client) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.ParseFloat(ra, 64); err == nil && seconds > 0 {
				wait := time.Duration(seconds * float64(time.Second))
				if wait > c.retry.MaxWait {
					wait = c.retry.MaxWait
				}
				return wait
			}
		}
	}

	base := float64(c.retry.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(c.retry.MaxWait); base > maxWait {
		base = maxWait
	}
	minWait := float64(c.retry.MinWait)
	if base <= minWait {
		return c.retry.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// mapError translates transport failures into typed AppErrors.
func (c *Client) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimit,
			"discord circuit breaker is open", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamDiscord, "discord request failed", err)
}
