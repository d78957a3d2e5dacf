package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/resourcefinder/models"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
)

// ErrInvalidInput is returned before any network call when a request cannot
// be sent as-is (for example an empty conversation).
var ErrInvalidInput = errors.New("invalid input")

// Request is a single completion call
type Request struct {
	Model       string
	Messages    []models.Message
	Tools       []models.Tool
	ToolChoice  models.ToolChoice
	// Temperature is sent as given, zero included. Nil leaves the provider default.
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// Validate enforces the gateway input contract.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidInput)
	}
	if !models.Conversation(r.Messages).HasPrompt() {
		return fmt.Errorf("%w: messages need a system or user entry", ErrInvalidInput)
	}
	if r.ToolChoice == models.ToolChoiceRequired && len(r.Tools) == 0 {
		return fmt.Errorf("%w: tool choice required without tools", ErrInvalidInput)
	}
	return nil
}

// Completion is the model's answer: either text, or one or more tool calls
type Completion struct {
	Text             string
	ToolCalls        []models.ToolCall
	PromptTokens     int64
	CompletionTokens int64
}

// WantsTools reports whether the model asked for tool execution.
func (c *Completion) WantsTools() bool { return c != nil && len(c.ToolCalls) > 0 }

// Provider is the interface that all LLM implementations must satisfy. It is
// stateless between calls and never retries.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// LLMError carries a provider or transport failure. StatusCode is zero when
// the request never got an HTTP response.
type LLMError struct {
	Provider   Client
	StatusCode int
	Message    string
	Err        error
}

func (e *LLMError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Err }
