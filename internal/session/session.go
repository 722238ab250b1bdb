package session

import (
	"fmt"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ActionContinue    = "continue"
	ActionFinalAnswer = "final_answer"
)

// FinalAnswerTitle is the heading of the closing step
const FinalAnswerTitle = "Final Answer"

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StepResult is one structured reply from the model.
// Err is only set on the synthetic result produced after all attempts failed.
type StepResult struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	NextAction string `json:"next_action"`
	Err        error  `json:"-"`
}

// Final reports whether the model asked to stop reasoning
func (r StepResult) Final() bool {
	return r.NextAction == ActionFinalAnswer
}

// FinalAnswer is the unstructured closing response
type FinalAnswer struct {
	Content string
	Elapsed time.Duration
}

// Step is one entry of the reasoning transcript
type Step struct {
	Index   int // 1-based; 0 for the final answer
	Title   string
	Content string
	Elapsed time.Duration
	Final   bool
}

// Heading returns the title as it is printed and saved
func (s Step) Heading() string {
	if s.Final {
		return FinalAnswerTitle
	}
	return fmt.Sprintf("Step %d: %s", s.Index, s.Title)
}

// Snapshot is a progress emission. Only the last one of a session has Done set,
// and only that one carries Total.
type Snapshot struct {
	Steps []Step
	Total time.Duration
	Done  bool
}

// Session represents one reasoning run
type Session struct {
	ID        string       `json:"id"`
	Prompt    string       `json:"prompt"`
	StartTime time.Time    `json:"start_time"`
	Provider  string       `json:"provider"`
	Model     string       `json:"model"`
	Messages  []Message    `json:"messages"`
	Steps     []Step       `json:"-"`
	Answer    *FinalAnswer `json:"-"`
}

// AddMessage appends a message to the conversation
func (s *Session) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// History returns a copy of the conversation so callers cannot mutate it
func (s *Session) History() []Message {
	messages := make([]Message, len(s.Messages))
	copy(messages, s.Messages)
	return messages
}

// StructuredSteps counts the steps produced by structured calls
func (s *Session) StructuredSteps() int {
	n := 0
	for _, step := range s.Steps {
		if !step.Final {
			n++
		}
	}
	return n
}

// TotalElapsed sums the thinking time of every step, final answer included
func (s *Session) TotalElapsed() time.Duration {
	var total time.Duration
	for _, step := range s.Steps {
		total += step.Elapsed
	}
	return total
}

// Snapshot copies the current steps into a progress emission
func (s *Session) Snapshot(done bool) Snapshot {
	steps := make([]Step, len(s.Steps))
	copy(steps, s.Steps)
	snap := Snapshot{Steps: steps, Done: done}
	if done {
		snap.Total = s.TotalElapsed()
	}
	return snap
}
