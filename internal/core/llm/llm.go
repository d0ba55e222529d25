// Package llm is the AI provider client for article analysis, digest
// compression and extraction helpers. It speaks the OpenAI chat-completion
// wire (optionally against a compatible gateway via AI_BASE_URL) behind a
// shared rate limiter and a circuit breaker, so a misbehaving provider
// degrades the pipeline to heuristic fallbacks instead of stalling it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lueurxax/news-aggregator/internal/platform/config"
	"github.com/lueurxax/news-aggregator/internal/platform/filecache"
	"github.com/lueurxax/news-aggregator/internal/platform/observability"
)

var (
	// ErrDisabled is returned when AI is turned off or no API key is set.
	ErrDisabled = errors.New("ai provider disabled")
	// ErrRateLimited marks provider 429 responses so callers can back off
	// instead of burning the remaining attempts.
	ErrRateLimited = errors.New("ai provider rate limited")
	// ErrEmptyResponse is returned when the provider answers with no choices
	// or an empty message.
	ErrEmptyResponse = errors.New("empty ai response")
)

type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the provider API with rate limiting, circuit breaking,
// metrics and the disk cache for analysis results.
type Client struct {
	cfg     *config.Config
	api     completionClient
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   *filecache.Cache
	logger  zerolog.Logger
}

// accessKeyTransport adds the gateway access-key header to every request.
// The gateway in front of the provider authenticates on X-KM-AccessKey
// rather than the Authorization bearer token alone.
type accessKeyTransport struct {
	key  string
	next http.RoundTripper
}

func (t *accessKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.key != "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-KM-AccessKey", t.key)
	}

	return t.next.RoundTrip(req)
}

// New builds the AI client from config. The client is usable even when AI is
// disabled: every method then short-circuits to its fallback path.
func New(cfg *config.Config, cache *filecache.Cache, logger zerolog.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.AIAPIKey)
	if cfg.AIBaseURL != "" {
		clientConfig.BaseURL = cfg.AIBaseURL
	}

	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.AIRequestTimeout,
		Transport: &accessKeyTransport{
			key:  cfg.AIAPIKey,
			next: http.DefaultTransport,
		},
	}

	log := logger.With().Str("component", "llm").Logger()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ai-provider",
		Timeout: breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("ai circuit breaker state change")
		},
	})

	return &Client{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(clientConfig),
		limiter: rate.NewLimiter(rate.Limit(cfg.AIRateLimitRPS), rateLimiterBurst),
		breaker: breaker,
		cache:   cache,
		logger:  log,
	}
}

// Enabled reports whether AI calls can be made at all.
func (c *Client) Enabled() bool {
	return c.cfg.AIEnabled && c.cfg.AIAPIKey != ""
}

// Available reports whether AI calls are currently allowed: enabled and the
// circuit breaker is not open.
func (c *Client) Available() bool {
	return c.Enabled() && c.breaker.State() != gobreaker.StateOpen
}

// chatRequest is one completion call spec. JSONMode asks the provider for a
// strict JSON object response.
type chatRequest struct {
	Task             string
	Model            string
	System           string
	User             string
	MaxTokens        int
	Temperature      float32
	TopP             float32
	FrequencyPenalty float32
	JSONMode         bool
}

// chat performs one rate-limited, breaker-guarded completion call and returns
// the message content.
func (c *Client) chat(ctx context.Context, req chatRequest) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ai rate limiter: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:            model,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
	}
	if req.JSONMode {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	started := time.Now()

	result, err := c.breaker.Execute(func() (any, error) {
		resp, callErr := c.api.CreateChatCompletion(ctx, apiReq)
		if callErr != nil {
			return nil, classifyProviderError(callErr)
		}

		return resp, nil
	})

	observability.AIRequestDuration.WithLabelValues(model, req.Task).Observe(time.Since(started).Seconds())

	if err != nil {
		observability.AIRequests.WithLabelValues(model, req.Task, "error").Inc()

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("ai circuit open: %w", err)
		}

		return "", fmt.Errorf("ai completion (%s): %w", req.Task, err)
	}

	resp, ok := result.(openai.ChatCompletionResponse)
	if !ok {
		return "", ErrEmptyResponse
	}

	observability.AIRequests.WithLabelValues(model, req.Task, "ok").Inc()
	observability.AITokensPrompt.WithLabelValues(model, req.Task).Add(float64(resp.Usage.PromptTokens))
	observability.AITokensCompletion.WithLabelValues(model, req.Task).Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug().
		Str("task", req.Task).
		Str("model", model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("ai response received")

	return content, nil
}

// classifyProviderError maps provider HTTP failures onto package sentinels.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	return err
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	return string(runes[:max])
}
