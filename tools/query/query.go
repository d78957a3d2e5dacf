package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/provider"
)

const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 200
)

// SystemPrompt instructs the model to turn a conversation into one search query.
const SystemPrompt = `You are an expert at analyzing conversations with homeless individuals to identify their needs and circumstances.

Your task is to analyze the conversation history and extract key information to create a focused search query for finding relevant resources.

Extract and consider:
- Location (city, state, county)
- Primary needs (shelter, food, healthcare, employment, legal aid, etc.)
- Special circumstances (veteran status, LGBTQ+, age, family status, disabilities, mental health, substance abuse)
- Urgency level (immediate emergency vs. long-term planning)

Generate a single, comprehensive search query that will help find the most relevant resources for this person's situation.

Format your search query to be specific and actionable. For example:
"Search for emergency shelter and food assistance for LGBTQ youth in San Francisco"
"Find veteran housing programs and job training services in Los Angeles County"
"Locate family shelters and childcare assistance in Seattle area"

Return ONLY the search query, nothing else.`

// ExtractionError wraps any failure while asking the model for a query
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "failed to extract search query: " + e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

// ErrEmptyQuery is wrapped in an ExtractionError when the model answers with blank text.
var ErrEmptyQuery = errors.New("model returned an empty query")

// Distiller turns a conversation into a single search query
type Distiller struct {
	llm         provider.Provider
	model       string
	temperature float64
	maxTokens   int
}

// NewDistiller uses the low-temperature, short-output defaults when
// temperature is negative or maxTokens is not positive. A zero temperature is
// kept.
func NewDistiller(llm provider.Provider, model string, temperature float64, maxTokens int) *Distiller {
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Distiller{llm: llm, model: model, temperature: temperature, maxTokens: maxTokens}
}

// Distill issues exactly one model call. An empty conversation fails before
// any network traffic.
func (d *Distiller) Distill(ctx context.Context, conversation models.Conversation) (string, error) {
	if len(conversation) == 0 {
		return "", fmt.Errorf("%w: conversation history cannot be empty", provider.ErrInvalidInput)
	}

	userPrompt, err := buildUserPrompt(conversation)
	if err != nil {
		return "", &ExtractionError{Err: err}
	}

	out, err := d.llm.Complete(ctx, provider.Request{
		Model: d.model,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: SystemPrompt},
			{Role: models.RoleUser, Content: userPrompt},
		},
		ToolChoice:  models.ToolChoiceNone,
		Temperature: provider.Temperature(d.temperature),
		MaxTokens:   d.maxTokens,
	})
	if err != nil {
		return "", &ExtractionError{Err: err}
	}

	if out == nil {
		return "", &ExtractionError{Err: ErrEmptyQuery}
	}
	q := strings.TrimSpace(out.Text)
	if q == "" {
		return "", &ExtractionError{Err: ErrEmptyQuery}
	}
	return q, nil
}

func buildUserPrompt(conversation models.Conversation) (string, error) {
	history := conversation.Transcript()
	if len(history) == 0 {
		// nothing but system/tool plumbing; hand the model what there is
		history = conversation.Clone()
	}
	b, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}
	return fmt.Sprintf("Conversation history:\n%s\n\nGenerate the search query:", b), nil
}
