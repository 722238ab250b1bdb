package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ChainThink/internal/session"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Temperature is used for every request
const Temperature float32 = 0.2

const (
	defaultMaxAttempts = 3
	defaultRetryWait   = time.Second
)

// Mode selects between a structured step and the free-form final answer
type Mode int

const (
	ModeStep Mode = iota
	ModeFinal
)

func (m Mode) String() string {
	if m == ModeFinal {
		return "final answer"
	}
	return "step"
}

// ChatClient is the subset of the go-openai client used by the caller
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CallerConfig holds per-request settings
type CallerConfig struct {
	Provider    string
	Model       string
	MaxAttempts int           // total attempts, not retries
	RetryWait   time.Duration // pause between attempts
}

// Caller issues completion requests with bounded retry.
// It keeps no conversation state between calls.
type Caller struct {
	config CallerConfig
	client ChatClient
	logger *slog.Logger
	tracer trace.Tracer

	duration metric.Float64Histogram
	retries  metric.Int64Counter
	usage    map[string]metric.Int64Counter
}

// NewCaller creates a Caller around a chat client
func NewCaller(cfg CallerConfig, client ChatClient, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Caller, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("backend")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("backend")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	retries, err := meter.Int64Counter(
		"llm.call.retries",
		metric.WithDescription("Failed completion attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	usage := make(map[string]metric.Int64Counter)
	for _, key := range []string{"prompt_tokens", "completion_tokens", "total_tokens"} {
		counter, err := meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", key, err)
		}
		usage[key] = counter
	}

	return &Caller{
		config:   cfg,
		client:   client,
		logger:   logger,
		tracer:   tracer,
		duration: duration,
		retries:  retries,
		usage:    usage,
	}, nil
}

// CompleteStep asks for one structured reasoning step.
// When every attempt fails it returns a synthetic "Error" step that forces the final answer.
func (c *Caller) CompleteStep(ctx context.Context, messages []session.Message, maxTokens int) session.StepResult {
	var step session.StepResult

	attempts, err := c.withRetry(ctx, ModeStep, func(ctx context.Context) error {
		text, err := c.call(ctx, messages, maxTokens, ModeStep)
		if err != nil {
			return err
		}
		step, err = ParseStep(text)
		return err
	})
	if err != nil {
		return session.StepResult{
			Title:      "Error",
			Content:    failureMessage(ModeStep, attempts, err),
			NextAction: session.ActionFinalAnswer,
			Err:        err,
		}
	}

	return step
}

// CompleteFinal asks for the unstructured final answer.
// When every attempt fails the failure description is returned as the answer text.
func (c *Caller) CompleteFinal(ctx context.Context, messages []session.Message, maxTokens int) string {
	var answer string

	attempts, err := c.withRetry(ctx, ModeFinal, func(ctx context.Context) error {
		text, err := c.call(ctx, messages, maxTokens, ModeFinal)
		if err != nil {
			return err
		}
		answer = text
		return nil
	})
	if err != nil {
		return failureMessage(ModeFinal, attempts, err)
	}

	return answer
}

// withRetry runs fn until it succeeds or MaxAttempts is reached, waiting RetryWait in between
func (c *Caller) withRetry(ctx context.Context, mode Mode, fn func(ctx context.Context) error) (int, error) {
	backoff := retry.WithMaxRetries(uint64(c.config.MaxAttempts-1), retry.NewConstant(c.config.RetryWait))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := fn(ctx); err != nil {
			c.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
			c.logger.Warn("completion attempt failed",
				"mode", mode.String(),
				"attempt", attempts,
				"max_attempts", c.config.MaxAttempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("completion failed", "mode", mode.String(), "attempts", attempts, "error", err)
	}

	return attempts, err
}

// call performs a single request against the completion service
func (c *Caller) call(ctx context.Context, messages []session.Message, maxTokens int, mode Mode) (string, error) {
	ctx, span := c.tracer.Start(ctx, "chat_completion", trace.WithAttributes(
		attribute.String("llm.provider", c.config.Provider),
		attribute.String("llm.model", c.config.Model),
		attribute.String("llm.mode", mode.String()),
		attribute.Int("llm.max_tokens", maxTokens),
		attribute.Int("llm.messages", len(messages)),
	))
	defer span.End()

	start := time.Now()

	reqMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		reqMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    reqMessages,
		MaxTokens:   maxTokens,
		Temperature: Temperature,
	}
	if mode == ModeStep {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	c.recordUsage(ctx, resp.Usage)

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", ErrEmptyResponse
	}

	c.logger.Debug("completion received",
		"mode", mode.String(),
		"finish_reason", resp.Choices[0].FinishReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return resp.Choices[0].Message.Content, nil
}

// recordUsage records token accounting from the response
func (c *Caller) recordUsage(ctx context.Context, usage openai.Usage) {
	values := map[string]int{
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
	}
	for key, value := range values {
		if value > 0 {
			c.usage[key].Add(ctx, int64(value))
		}
	}
}

func failureMessage(mode Mode, attempts int, err error) string {
	return fmt.Sprintf("Failed to generate %s after %d attempts. Error: %v", mode, attempts, err)
}
