package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ChainThink/internal/session"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrEmptyResponse is returned when the service replies without content
	ErrEmptyResponse = errors.New("empty response from completion service")
	// ErrInvalidStep is returned when a structured reply does not match the step schema
	ErrInvalidStep = errors.New("invalid step")
)

const stepSchemaJSON = `{
	"type": "object",
	"required": ["title", "content", "next_action"],
	"properties": {
		"title": {"type": "string"},
		"content": {"type": "string"},
		"next_action": {"type": "string", "enum": ["continue", "final_answer"]}
	}
}`

var (
	stepSchema = mustCompileSchema(stepSchemaJSON)
	jsonObject = regexp.MustCompile(`(?s)\{.*\}`)
)

func mustCompileSchema(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid step schema: %v", err))
	}
	return compiled
}

// ParseStep validates a structured reply and decodes it into a StepResult.
// Replies wrapped in prose or code fences are accepted as long as they hold one object.
func ParseStep(text string) (session.StepResult, error) {
	raw := jsonObject.FindString(strings.TrimSpace(text))
	if raw == "" {
		return session.StepResult{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidStep)
	}

	result, err := stepSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return session.StepResult{}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return session.StepResult{}, fmt.Errorf("%w: %s", ErrInvalidStep, strings.Join(problems, "; "))
	}

	var step session.StepResult
	if err := json.Unmarshal([]byte(raw), &step); err != nil {
		return session.StepResult{}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
	}
	return step, nil
}
