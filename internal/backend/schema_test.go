package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStep(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		title   string
		action  string
		wantErr bool
	}{
		{
			name:   "bare object",
			input:  `{"title":"Decompose","content":"Split the problem","next_action":"continue"}`,
			title:  "Decompose",
			action: "continue",
		},
		{
			name:   "fenced object",
			input:  "```json\n{\"title\":\"Done\",\"content\":\"x\",\"next_action\":\"final_answer\"}\n```",
			title:  "Done",
			action: "final_answer",
		},
		{
			name:   "extra keys are tolerated",
			input:  `{"title":"T","content":"C","next_action":"continue","confidence":0.8}`,
			title:  "T",
			action: "continue",
		},
		{name: "no object", input: "I think the answer is 4", wantErr: true},
		{name: "missing next_action", input: `{"title":"T","content":"C"}`, wantErr: true},
		{name: "bad next_action", input: `{"title":"T","content":"C","next_action":"stop"}`, wantErr: true},
		{name: "content not a string", input: `{"title":"T","content":["a"],"next_action":"continue"}`, wantErr: true},
		{name: "truncated", input: `{"title":"T","content":"C","next_action":"contin`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := ParseStep(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidStep)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.title, step.Title)
			assert.Equal(t, tt.action, step.NextAction)
		})
	}
}
