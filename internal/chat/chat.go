package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/provider"
	"github.com/mohammad-safakhou/resourcefinder/session"
	"github.com/mohammad-safakhou/resourcefinder/tools"
)

var (
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = fmt.Errorf("%w: user message is empty", provider.ErrInvalidInput)
	// ErrClosed is returned once the orchestrator has been shut down.
	ErrClosed = errors.New("orchestrator closed")
)

// Dispatcher runs one tool call against the conversation so far
type Dispatcher interface {
	Dispatch(ctx context.Context, call models.ToolCall, conversation models.Conversation) (*tools.Execution, error)
}

// Recorder receives every finished turn, successful or not.
type Recorder interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

// Turn summarises one user message and what happened to it
type Turn struct {
	SessionID    string
	UserMessage  string
	Reply        string
	Query        string
	ToolCalls    int
	GatewayCalls int
	Err          error
	StartedAt    time.Time
	Duration     time.Duration
}

// Reply is what a caller gets back from a successful turn
type Reply struct {
	SessionID    string
	Text         string
	Query        string
	ToolCalls    int
	GatewayCalls int
}

// Config holds the chat model settings
type Config struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	// WorkerIdle is how long a session worker may sit unused before EvictIdle
	// reclaims it.
	WorkerIdle time.Duration
}

type Option func(*Orchestrator)

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithDebug logs prompts and replies.
func WithDebug(debug bool) Option {
	return func(o *Orchestrator) { o.debug = debug }
}

// Orchestrator drives one conversation turn at a time per session.
type Orchestrator struct {
	llm        provider.Provider
	dispatcher Dispatcher
	store      session.Store
	recorder   Recorder
	cfg        Config
	logger     *log.Logger
	debug      bool
	now        func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

func New(llm provider.Provider, dispatcher Dispatcher, store session.Store, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:        llm,
		dispatcher: dispatcher,
		store:      store,
		cfg:        cfg,
		logger:     log.New(io.Discard, "", 0),
		now:        time.Now,
		workers:    make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chat runs one turn for sessionID. An empty or unknown sessionID starts a
// new session; the returned Reply carries the id to continue with.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, userMessage string) (*Reply, error) {
	userMessage = strings.TrimSpace(userMessage)
	if userMessage == "" {
		return nil, ErrEmptyMessage
	}
	id, err := o.store.Ensure(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return o.submit(ctx, id, func(ctx context.Context) (*Reply, error) {
		return o.turn(ctx, id, userMessage)
	})
}

// History returns the committed conversation of a session.
func (o *Orchestrator) History(ctx context.Context, sessionID string) (models.Conversation, error) {
	return o.store.Get(ctx, sessionID)
}

// EndSession deletes the session and retires its worker.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	if err := o.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	o.retire(sessionID)
	return nil
}

type turnState int

const (
	awaitingModelResponse turnState = iota
	awaitingToolExecution
	awaitingFinalResponse
	done
)

func (o *Orchestrator) turn(ctx context.Context, sessionID, userMessage string) (reply *Reply, err error) {
	started := o.now()
	ctx, span := chatTracer.Start(ctx, "chat.turn", trace.WithAttributes(attribute.String("session.id", sessionID)))
	record := Turn{SessionID: sessionID, UserMessage: userMessage, StartedAt: started}
	defer func() {
		record.Duration = o.now().Sub(started)
		record.Err = err
		if reply != nil {
			record.Reply = reply.Text
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.logger.Printf("session %s turn failed after %s: %v", sessionID, record.Duration.Round(time.Millisecond), err)
		}
		recordTurn(ctx, outcome, record.Duration)
		span.SetAttributes(
			attribute.Int("chat.tool_calls", record.ToolCalls),
			attribute.Int("chat.gateway_calls", record.GatewayCalls),
		)
		span.End()
		if o.recorder != nil {
			if rerr := o.recorder.RecordTurn(context.WithoutCancel(ctx), record); rerr != nil {
				o.logger.Printf("record turn for session %s: %v", sessionID, rerr)
			}
		}
	}()

	committed, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	// The turn works on a private copy; nothing reaches the store unless the
	// whole turn succeeds.
	var staged []models.Message
	if len(committed) == 0 {
		staged = append(staged, models.Message{Role: models.RoleSystem, Content: o.cfg.SystemPrompt})
	}
	staged = append(staged, models.Message{Role: models.RoleUser, Content: userMessage})
	working := append(committed.Clone(), staged...)
	if o.debug {
		o.logger.Printf("session %s user: %q", sessionID, userMessage)
	}

	var (
		state     = awaitingModelResponse
		toolRound bool
		pending   []models.ToolCall
		final     string
	)
	for state != done {
		switch state {
		case awaitingModelResponse:
			out, err := o.complete(ctx, "initial", &record, working, tools.Definitions())
			if err != nil {
				return nil, err
			}
			if !out.WantsTools() {
				final = out.Text
				state = done
				continue
			}
			assistant := models.Message{Role: models.RoleAssistant, Content: out.Text, ToolCalls: out.ToolCalls}
			staged = append(staged, assistant)
			working = append(working, assistant)
			pending = out.ToolCalls
			state = awaitingToolExecution

		case awaitingToolExecution:
			if toolRound {
				return nil, fmt.Errorf("tool round already executed for this turn")
			}
			toolRound = true
			for _, call := range pending {
				if _, ok := tools.Lookup(call.Name); !ok {
					return nil, &tools.UnknownToolError{Name: call.Name}
				}
			}
			results, err := o.runTools(ctx, &record, pending, working)
			if err != nil {
				return nil, err
			}
			staged = append(staged, results...)
			working = append(working, results...)
			state = awaitingFinalResponse

		case awaitingFinalResponse:
			out, err := o.complete(ctx, "final", &record, working, nil)
			if err != nil {
				return nil, err
			}
			if out.WantsTools() {
				// one tool round per turn; anything more is dropped
				recordIgnoredToolCalls(ctx, len(out.ToolCalls))
				o.logger.Printf("session %s: ignoring %d tool calls after the tool round", sessionID, len(out.ToolCalls))
			}
			final = out.Text
			state = done
		}
	}

	staged = append(staged, models.Message{Role: models.RoleAssistant, Content: final})
	if err := o.store.Append(ctx, sessionID, staged...); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	if o.debug {
		o.logger.Printf("session %s assistant: %q", sessionID, final)
	}

	return &Reply{
		SessionID:    sessionID,
		Text:         final,
		Query:        record.Query,
		ToolCalls:    record.ToolCalls,
		GatewayCalls: record.GatewayCalls,
	}, nil
}

func (o *Orchestrator) complete(ctx context.Context, phase string, record *Turn, conversation models.Conversation, catalog []models.Tool) (*provider.Completion, error) {
	req := provider.Request{
		Model:       o.cfg.Model,
		Messages:    conversation,
		Tools:       catalog,
		Temperature: provider.Temperature(o.cfg.Temperature),
		MaxTokens:   o.cfg.MaxTokens,
	}
	if len(catalog) > 0 {
		req.ToolChoice = models.ToolChoiceAuto
	}
	record.GatewayCalls++
	out, err := o.llm.Complete(ctx, req)
	recordLLMCall(ctx, phase, err)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &provider.Completion{}
	}
	return out, nil
}

func (o *Orchestrator) runTools(ctx context.Context, record *Turn, calls []models.ToolCall, conversation models.Conversation) ([]models.Message, error) {
	out := make([]models.Message, 0, len(calls))
	for _, call := range calls {
		ctx, span := chatTracer.Start(ctx, "chat.tool", trace.WithAttributes(attribute.String("tool.name", call.Name)))
		started := o.now()
		exec, err := o.dispatcher.Dispatch(ctx, call, conversation)
		elapsed := o.now().Sub(started)
		recordToolCall(ctx, call.Name, elapsed, err)
		record.ToolCalls++
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}
		span.SetAttributes(attribute.String("tool.query", exec.Query))
		span.End()
		if exec.Query != "" {
			record.Query = exec.Query
		}
		o.logger.Printf("session %s: %s finished in %s (distill %s, research %s)",
			record.SessionID, call.Name, elapsed.Round(time.Millisecond),
			exec.Distill.Round(time.Millisecond), exec.Research.Round(time.Millisecond))
		out = append(out, exec.Message())
	}
	return out, nil
}
