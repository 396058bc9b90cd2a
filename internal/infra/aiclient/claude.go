package aiclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"clinic-backend/internal/config"
	"clinic-backend/internal/observability/logging"
	"clinic-backend/internal/resilience"
	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
)

// Claude calls Anthropic's Messages API.
type Claude struct {
	client  anthropic.Client
	cfg     config.ProviderConfig
	ex      *resilience.Executor
	limiter *RateLimiter
	opts    []resilience.Option
}

// NewClaude creates a Claude client that runs every call through ex
// (resilience.Default() if nil). The SDK's built-in retries are disabled;
// retrying is the executor's job.
func NewClaude(cfg config.ProviderConfig, ex *resilience.Executor) *Claude {
	if ex == nil {
		ex = resilience.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Info("initialized claude client",
		slog.String("model", cfg.Model),
		slog.Float64("rps", cfg.RequestsPerSecond))

	return &Claude{
		client:  anthropic.NewClient(reqOpts...),
		cfg:     cfg,
		ex:      ex,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		opts: ex.Presets(config.OperationAnthropicChat,
			retry.ChatCompletionPolicy(), circuitbreaker.ChatCompletionConfig()),
	}
}

// Chat sends a system prompt and a user message and returns the text of the reply.
func (c *Claude) Chat(ctx context.Context, system, user string) (string, error) {
	reply, err := resilience.Execute(ctx, c.ex, config.OperationAnthropicChat, func(ctx context.Context) (string, error) {
		return c.doChat(ctx, system, user)
	}, c.opts...)
	if err != nil {
		return "", fmt.Errorf("claude chat: %w", err)
	}
	return reply, nil
}

// doChat performs a single attempt without retry or circuit breaker.
func (c *Claude) doChat(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(c.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", normalizeError(err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}

	logging.FromContext(ctx).DebugContext(ctx, "claude chat completed",
		slog.String("model", string(message.Model)),
		slog.Int64("output_tokens", message.Usage.OutputTokens),
		slog.Duration("duration", time.Since(start)))

	return sb.String(), nil
}
