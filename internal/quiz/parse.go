package quiz

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const questionsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["question", "options", "correctAnswer", "explanation"],
    "properties": {
      "question": {"type": "string", "minLength": 1},
      "options": {
        "type": "array",
        "minItems": 4,
        "maxItems": 4,
        "items": {"type": "string"}
      },
      "correctAnswer": {"type": "integer", "minimum": 0, "maximum": 3},
      "explanation": {"type": "string", "minLength": 1}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionsSchema))
	})
	return schema, schemaErr
}

// StripFences removes a Markdown code fence wrapped around model output.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// Parse turns raw model output into a validated quiz of exactly
// QuestionCount questions.
func Parse(text string) ([]Question, error) {
	body := []byte(StripFences(text))

	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, &FormatError{Index: -1, Reason: fmt.Sprintf("failed to parse JSON: %v", err)}
	}
	items, ok := top.([]any)
	if !ok || len(items) == 0 {
		return nil, &FormatError{Index: -1, Reason: "expected array of questions"}
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile quiz schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(top))
	if err != nil {
		return nil, &FormatError{Index: -1, Reason: err.Error()}
	}
	if !result.Valid() {
		return nil, firstSchemaError(result.Errors())
	}

	if len(items) != QuestionCount {
		return nil, &FormatError{Index: -1, Reason: fmt.Sprintf("expected %d questions, got %d", QuestionCount, len(items))}
	}

	var questions []Question
	if err := json.Unmarshal(body, &questions); err != nil {
		return nil, &FormatError{Index: -1, Reason: fmt.Sprintf("failed to parse questions: %v", err)}
	}
	return questions, nil
}

// firstSchemaError converts the lowest-indexed schema violation into a
// FormatError. Fields look like "2" or "2.options".
func firstSchemaError(errs []gojsonschema.ResultError) error {
	best := &FormatError{Index: -1, Reason: "schema validation failed"}
	for _, e := range errs {
		field := e.Field()
		head, rest, _ := strings.Cut(field, ".")
		idx, err := strconv.Atoi(head)
		if err != nil {
			if best.Index < 0 {
				best.Reason = e.Description()
			}
			continue
		}
		if best.Index >= 0 && idx >= best.Index {
			continue
		}
		reason := e.Description()
		if rest != "" {
			reason = rest + ": " + reason
		}
		best = &FormatError{Index: idx, Reason: reason}
	}
	return best
}
