package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ChainThink/internal/session"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays canned replies in order and records every request
type scriptedClient struct {
	replies  []string
	errs     []error
	requests []openai.ChatCompletionRequest
}

func (s *scriptedClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)

	if i < len(s.errs) && s.errs[i] != nil {
		return openai.ChatCompletionResponse{}, s.errs[i]
	}
	if i >= len(s.replies) {
		return openai.ChatCompletionResponse{}, errors.New("no scripted reply available")
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: s.replies[i]}},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCaller(t *testing.T, client ChatClient) *Caller {
	t.Helper()
	caller, err := NewCaller(CallerConfig{
		Provider:    "groq",
		Model:       "test-model",
		MaxAttempts: 3,
		RetryWait:   time.Millisecond,
	}, client, testLogger(), nil, nil)
	require.NoError(t, err)
	return caller
}

var history = []session.Message{
	{Role: session.RoleSystem, Content: "reason step by step"},
	{Role: session.RoleUser, Content: "What is 2+2?"},
}

func TestCompleteStepParsesStructuredReply(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"title": "Add", "content": "2+2 is 4", "next_action": "continue"}`,
	}}
	caller := newTestCaller(t, client)

	step := caller.CompleteStep(context.Background(), history, 300)

	assert.NoError(t, step.Err)
	assert.Equal(t, "Add", step.Title)
	assert.Equal(t, "2+2 is 4", step.Content)
	assert.Equal(t, session.ActionContinue, step.NextAction)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 300, req.MaxTokens)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, session.RoleUser, req.Messages[1].Role)
}

func TestCompleteStepRetriesSchemaFailure(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`not json at all`,
		`{"title": "Add", "content": "4", "next_action": "maybe"}`,
		`{"title": "Add", "content": "4", "next_action": "final_answer"}`,
	}}
	caller := newTestCaller(t, client)

	step := caller.CompleteStep(context.Background(), history, 300)

	assert.NoError(t, step.Err)
	assert.True(t, step.Final())
	assert.Len(t, client.requests, 3)
}

func TestCompleteStepExhaustsAttempts(t *testing.T) {
	boom := errors.New("connection reset")
	client := &scriptedClient{errs: []error{boom, boom, boom, boom}}
	caller := newTestCaller(t, client)

	step := caller.CompleteStep(context.Background(), history, 300)

	require.Error(t, step.Err)
	assert.ErrorIs(t, step.Err, boom)
	assert.Equal(t, "Error", step.Title)
	assert.Contains(t, step.Content, "after 3 attempts")
	assert.Contains(t, step.Content, "connection reset")
	assert.Equal(t, session.ActionFinalAnswer, step.NextAction)
	assert.Len(t, client.requests, 3)
}

func TestCompleteStepEmptyChoicesIsFailure(t *testing.T) {
	client := &scriptedClient{replies: []string{"", "  ", `{"title":"t","content":"c","next_action":"continue"}`}}
	caller := newTestCaller(t, client)

	step := caller.CompleteStep(context.Background(), history, 300)

	assert.NoError(t, step.Err)
	assert.Equal(t, "t", step.Title)
	assert.Len(t, client.requests, 3)
}

func TestCompleteFinalIsUnstructured(t *testing.T) {
	client := &scriptedClient{replies: []string{"The focus is (4, 0)."}}
	caller := newTestCaller(t, client)

	answer := caller.CompleteFinal(context.Background(), history, 1200)

	assert.Equal(t, "The focus is (4, 0).", answer)
	require.Len(t, client.requests, 1)
	assert.Nil(t, client.requests[0].ResponseFormat)
	assert.Equal(t, 1200, client.requests[0].MaxTokens)
}

func TestCompleteFinalExhaustsAttempts(t *testing.T) {
	boom := errors.New("503 service unavailable")
	client := &scriptedClient{errs: []error{boom, boom, boom}}
	caller := newTestCaller(t, client)

	answer := caller.CompleteFinal(context.Background(), history, 1200)

	assert.Contains(t, answer, "Failed to generate final answer after 3 attempts")
	assert.Contains(t, answer, "503 service unavailable")
}

func TestNewCallerRequiresClient(t *testing.T) {
	_, err := NewCaller(CallerConfig{}, nil, testLogger(), nil, nil)
	assert.Error(t, err)
}

func TestCallerAgainstOpenAICompatibleServer(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"title\":\"Start\",\"content\":\"Look at the equation\",\"next_action\":\"continue\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`)
	}))
	defer server.Close()

	provider, err := LookupProvider("groq", server.URL, "test-model")
	require.NoError(t, err)

	client, err := NewClient(provider, "gsk-test", 5*time.Second)
	require.NoError(t, err)

	caller, err := NewCaller(CallerConfig{Provider: provider.Name, Model: provider.DefaultModel, RetryWait: time.Millisecond}, client, testLogger(), nil, nil)
	require.NoError(t, err)

	step := caller.CompleteStep(context.Background(), history, 300)

	require.NoError(t, step.Err)
	assert.Equal(t, "Start", step.Title)
	assert.Equal(t, "test-model", got["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	assert.InDelta(t, 0.2, got["temperature"], 1e-6)
}
