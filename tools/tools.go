package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mohammad-safakhou/resourcefinder/internal/helpers"
	"github.com/mohammad-safakhou/resourcefinder/models"
)

// ToolID names a tool the model may call. The set is closed.
type ToolID string

const (
	ListEligibleResources ToolID = "list_eligible_resources"
)

// ErrUnknownTool is wrapped by every UnknownToolError.
var ErrUnknownTool = errors.New("unknown tool")

// UnknownToolError is returned when the model asks for a tool outside the registry
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }
func (e *UnknownToolError) Unwrap() error { return ErrUnknownTool }

// NoResourcesMessage is the tool content used when research returns an empty report.
const NoResourcesMessage = "The resource search finished but found no matching resources for: %s. Tell the person nothing specific was found and suggest calling 211 for local help."

// Distiller reduces a conversation to one search query
type Distiller interface {
	Distill(ctx context.Context, conversation models.Conversation) (string, error)
}

// Researcher turns a search query into a markdown report
type Researcher interface {
	Research(ctx context.Context, query string, breadth, depth int) (string, error)
}

// Execution is the outcome of one dispatched call
type Execution struct {
	models.ToolResult
	Query    string
	Distill  time.Duration
	Research time.Duration
}

type handler func(ctx context.Context, d *Dispatcher, call models.ToolCall, conversation models.Conversation) (*Execution, error)

var registry = map[ToolID]struct {
	def models.Tool
	run handler
}{
	ListEligibleResources: {
		def: models.Tool{
			Name: string(ListEligibleResources),
			Description: "Find shelters, food, healthcare and other services the person is eligible for, " +
				"based on everything they have shared so far (location, needs, age, identity, veteran status, urgency). " +
				"Call this once you know at least their location and what they need.",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		run: listEligibleResources,
	},
}

// Definitions returns the catalog advertised to the model.
func Definitions() []models.Tool {
	return []models.Tool{registry[ListEligibleResources].def}
}

// Lookup reports whether name is a registered tool.
func Lookup(name string) (ToolID, bool) {
	id := ToolID(name)
	_, ok := registry[id]
	return id, ok
}

// Dispatcher executes tool calls. It keeps no per-call state and only reads
// the conversation it is handed.
type Dispatcher struct {
	distiller  Distiller
	researcher Researcher
	breadth    int
	depth      int
	logger     *log.Logger
}

func NewDispatcher(distiller Distiller, researcher Researcher, breadth, depth int, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		distiller:  distiller,
		researcher: researcher,
		breadth:    breadth,
		depth:      depth,
		logger:     logger,
	}
}

// Dispatch runs one tool call against a read-only copy of the conversation.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall, conversation models.Conversation) (*Execution, error) {
	id, ok := Lookup(call.Name)
	if !ok {
		return nil, &UnknownToolError{Name: call.Name}
	}
	exec, err := registry[id].run(ctx, d, call, conversation.Clone())
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", id, err)
	}
	return exec, nil
}

func listEligibleResources(ctx context.Context, d *Dispatcher, call models.ToolCall, conversation models.Conversation) (*Execution, error) {
	exec := &Execution{ToolResult: models.ToolResult{ToolCallID: call.ID, Name: call.Name}}

	started := time.Now()
	q, err := d.distiller.Distill(ctx, conversation)
	exec.Distill = time.Since(started)
	if err != nil {
		return nil, err
	}
	exec.Query = q
	d.logger.Printf("distilled query in %s: %q", exec.Distill.Round(time.Millisecond), q)

	started = time.Now()
	report, err := d.researcher.Research(ctx, q, d.breadth, d.depth)
	exec.Research = time.Since(started)
	if err != nil {
		return nil, err
	}
	d.logger.Printf("research returned %d bytes in %s", len(report), exec.Research.Round(time.Millisecond))

	exec.Content = helpers.SanitizeReport(report)
	if exec.Content == "" {
		exec.Content = fmt.Sprintf(NoResourcesMessage, q)
	}
	return exec, nil
}
