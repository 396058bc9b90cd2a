// Package aiclient adapts the chat completion and transcription SDKs used by
// the clinic backend to the resilience layer. Every provider call runs through
// a resilience.Executor under a fixed operation name, with SDK errors
// normalized so the retry classifier can read their HTTP status.
package aiclient

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"clinic-backend/internal/config"
	"clinic-backend/internal/observability/logging"
	"clinic-backend/internal/resilience"
	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
)

// OpenAI calls the OpenAI chat completion and Whisper transcription APIs.
type OpenAI struct {
	client  *openai.Client
	cfg     config.ProviderConfig
	ex      *resilience.Executor
	limiter *RateLimiter

	chatOpts       []resilience.Option
	transcribeOpts []resilience.Option
}

// NewOpenAI creates an OpenAI client that runs every call through ex
// (resilience.Default() if nil).
func NewOpenAI(cfg config.ProviderConfig, ex *resilience.Executor) *OpenAI {
	if ex == nil {
		ex = resilience.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("initialized openai client",
		slog.String("model", cfg.Model),
		slog.String("transcription_model", cfg.TranscriptionModel),
		slog.Float64("rps", cfg.RequestsPerSecond))

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		cfg:     cfg,
		ex:      ex,
		limiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		chatOpts: ex.Presets(config.OperationOpenAIChat,
			retry.ChatCompletionPolicy(), circuitbreaker.ChatCompletionConfig()),
		transcribeOpts: ex.Presets(config.OperationOpenAITranscribe,
			retry.TranscriptionPolicy(), circuitbreaker.TranscriptionConfig()),
	}
}

// Chat sends a system and user message and returns the assistant's reply.
func (o *OpenAI) Chat(ctx context.Context, system, user string) (string, error) {
	reply, err := resilience.Execute(ctx, o.ex, config.OperationOpenAIChat, func(ctx context.Context) (string, error) {
		return o.doChat(ctx, system, user)
	}, o.chatOpts...)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	return reply, nil
}

// Transcribe converts recorded audio (e.g. a consultation note) to text.
// filename is sent as the upload name; its extension tells the API the format.
func (o *OpenAI) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	text, err := resilience.Execute(ctx, o.ex, config.OperationOpenAITranscribe, func(ctx context.Context) (string, error) {
		return o.doTranscribe(ctx, filename, audio)
	}, o.transcribeOpts...)
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	return text, nil
}

// doChat performs a single attempt without retry or circuit breaker.
func (o *OpenAI) doChat(ctx context.Context, system, user string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.cfg.Model,
		MaxTokens: o.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", normalizeError(err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	logging.FromContext(ctx).DebugContext(ctx, "openai chat completed",
		slog.String("model", resp.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("duration", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// doTranscribe performs a single upload. A fresh reader is built per attempt
// so a retried upload sends the whole file again.
func (o *OpenAI) doTranscribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.cfg.TranscriptionModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", normalizeError(err)
	}
	return resp.Text, nil
}
