package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ChainThink/internal/session"
	"ChainThink/internal/transcript"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultMaxSteps    = 25
	DefaultStepTokens  = 300
	DefaultFinalTokens = 1200
)

// Completer produces model replies. Failures are reported inside the
// returned values, never as errors.
type Completer interface {
	CompleteStep(ctx context.Context, messages []session.Message, maxTokens int) session.StepResult
	CompleteFinal(ctx context.Context, messages []session.Message, maxTokens int) string
}

// Config holds the loop limits
type Config struct {
	Provider    string
	Model       string
	MaxSteps    int // structured steps before the final answer is forced
	StepTokens  int
	FinalTokens int
}

// Reasoner drives one chain-of-thought session per Generate call
type Reasoner struct {
	config    Config
	completer Completer
	writer    *transcript.Writer
	logger    *slog.Logger
	tracer    trace.Tracer
	steps     metric.Int64Counter
}

// NewReasoner creates a Reasoner
func NewReasoner(cfg Config, completer Completer, writer *transcript.Writer, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Reasoner, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	if writer == nil {
		return nil, fmt.Errorf("transcript writer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("chain")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("chain")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.StepTokens <= 0 {
		cfg.StepTokens = DefaultStepTokens
	}
	if cfg.FinalTokens <= 0 {
		cfg.FinalTokens = DefaultFinalTokens
	}

	steps, err := meter.Int64Counter(
		"chain.steps",
		metric.WithDescription("Reasoning steps produced"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step counter: %w", err)
	}

	return &Reasoner{
		config:    cfg,
		completer: completer,
		writer:    writer,
		logger:    logger,
		tracer:    tracer,
		steps:     steps,
	}, nil
}

// Generate reasons about prompt step by step, then asks for a final answer and
// saves the transcript. emit, when not nil, receives a snapshot after every
// structured step and one last snapshot, with Done and Total set, after the
// final answer. The only error returned is a failure to save the transcript.
func (r *Reasoner) Generate(ctx context.Context, prompt string, emit func(session.Snapshot)) (*session.Session, error) {
	ctx, span := r.tracer.Start(ctx, "reasoning_session")
	defer span.End()

	if emit == nil {
		emit = func(session.Snapshot) {}
	}

	sess := r.newSession(prompt)
	r.logger.Info("reasoning session started", "session_id", sess.ID, "provider", sess.Provider, "model", sess.Model)

	for index := 1; ; index++ {
		result := r.runStep(ctx, sess, index)
		emit(sess.Snapshot(false))

		if result.Final() {
			r.logger.Info("model requested final answer", "session_id", sess.ID, "steps", index)
			break
		}
		if index >= r.config.MaxSteps {
			r.logger.Warn("step limit reached", "session_id", sess.ID, "max_steps", r.config.MaxSteps)
			break
		}
	}

	r.finalAnswer(ctx, sess)

	final := sess.Snapshot(true)
	span.SetAttributes(
		attribute.Int("chain.steps", len(final.Steps)),
		attribute.Float64("chain.total_seconds", final.Total.Seconds()),
	)
	emit(final)

	path, err := r.writer.Write(prompt, sess.Steps)
	if err != nil {
		span.RecordError(err)
		return sess, fmt.Errorf("failed to save transcript: %w", err)
	}

	r.logger.Info("reasoning session finished",
		"session_id", sess.ID,
		"steps", len(sess.Steps),
		"total_seconds", final.Total.Seconds(),
		"transcript", path,
	)
	return sess, nil
}

// newSession seeds the conversation with the instructions and the prompt
func (r *Reasoner) newSession(prompt string) *session.Session {
	sess := &session.Session{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		StartTime: time.Now(),
		Provider:  r.config.Provider,
		Model:     r.config.Model,
		Messages:  []session.Message{},
	}
	sess.AddMessage(session.RoleSystem, systemPrompt)
	sess.AddMessage(session.RoleUser, prompt)
	sess.AddMessage(session.RoleAssistant, primingReply)
	return sess
}

// runStep asks for one structured step and records it in the session
func (r *Reasoner) runStep(ctx context.Context, sess *session.Session, index int) session.StepResult {
	ctx, span := r.tracer.Start(ctx, "reasoning_step", trace.WithAttributes(attribute.Int("chain.step", index)))
	defer span.End()

	start := time.Now()
	result := r.completer.CompleteStep(ctx, sess.History(), r.config.StepTokens)
	elapsed := time.Since(start)

	sess.Steps = append(sess.Steps, session.Step{
		Index:   index,
		Title:   result.Title,
		Content: result.Content,
		Elapsed: elapsed,
	})

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(result.Content)
	}
	sess.AddMessage(session.RoleAssistant, string(payload))

	r.steps.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", result.Err != nil)))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	span.SetAttributes(attribute.String("chain.next_action", result.NextAction))

	r.logger.Debug("step completed",
		"session_id", sess.ID,
		"step", index,
		"title", result.Title,
		"next_action", result.NextAction,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return result
}

// finalAnswer requests the unstructured answer and appends it as the last step
func (r *Reasoner) finalAnswer(ctx context.Context, sess *session.Session) {
	ctx, span := r.tracer.Start(ctx, "final_answer")
	defer span.End()

	sess.AddMessage(session.RoleUser, finalAnswerRequest)

	start := time.Now()
	content := r.completer.CompleteFinal(ctx, sess.History(), r.config.FinalTokens)
	elapsed := time.Since(start)

	sess.Answer = &session.FinalAnswer{Content: content, Elapsed: elapsed}
	sess.Steps = append(sess.Steps, session.Step{
		Title:   session.FinalAnswerTitle,
		Content: content,
		Elapsed: elapsed,
		Final:   true,
	})
}
