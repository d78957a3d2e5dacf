package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var chatTracer trace.Tracer = otel.Tracer("resourcefinder/internal/chat")

var (
	chatMetricsOnce  sync.Once
	turnsTotal       otelmetric.Int64Counter
	turnDuration     otelmetric.Float64Histogram
	llmCallsTotal    otelmetric.Int64Counter
	toolCallsTotal   otelmetric.Int64Counter
	toolDuration     otelmetric.Float64Histogram
	activeWorkers    otelmetric.Int64UpDownCounter
	ignoredToolCalls otelmetric.Int64Counter
)

func initChatMetrics() {
	meter := otel.Meter("resourcefinder/internal/chat")
	var err error
	turnsTotal, err = meter.Int64Counter(
		"chat_turns_total",
		otelmetric.WithDescription("Conversation turns by outcome"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_turns_total: %v", err)
	}
	turnDuration, err = meter.Float64Histogram(
		"chat_turn_duration_seconds",
		otelmetric.WithDescription("Wall time of one conversation turn"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_turn_duration_seconds: %v", err)
	}
	llmCallsTotal, err = meter.Int64Counter(
		"chat_llm_calls_total",
		otelmetric.WithDescription("Gateway calls made by the orchestrator by phase and outcome"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_llm_calls_total: %v", err)
	}
	toolCallsTotal, err = meter.Int64Counter(
		"chat_tool_calls_total",
		otelmetric.WithDescription("Tool calls dispatched by tool and outcome"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_tool_calls_total: %v", err)
	}
	toolDuration, err = meter.Float64Histogram(
		"chat_tool_duration_seconds",
		otelmetric.WithDescription("Time spent executing one tool call"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_tool_duration_seconds: %v", err)
	}
	activeWorkers, err = meter.Int64UpDownCounter(
		"chat_session_workers",
		otelmetric.WithDescription("Live per-session workers"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_session_workers: %v", err)
	}
	ignoredToolCalls, err = meter.Int64Counter(
		"chat_ignored_tool_calls_total",
		otelmetric.WithDescription("Tool calls requested after the turn's tool round was spent"),
	)
	if err != nil {
		log.Printf("chat metrics init: chat_ignored_tool_calls_total: %v", err)
	}
}

func recordTurn(ctx context.Context, outcome string, elapsed time.Duration) {
	chatMetricsOnce.Do(initChatMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if turnsTotal != nil {
		turnsTotal.Add(ctx, 1, attrs)
	}
	if turnDuration != nil {
		turnDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func recordLLMCall(ctx context.Context, phase string, err error) {
	chatMetricsOnce.Do(initChatMetrics)
	if llmCallsTotal == nil {
		return
	}
	llmCallsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcomeOf(err)),
	))
}

func recordToolCall(ctx context.Context, tool string, elapsed time.Duration, err error) {
	chatMetricsOnce.Do(initChatMetrics)
	attrs := otelmetric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcomeOf(err)),
	)
	if toolCallsTotal != nil {
		toolCallsTotal.Add(ctx, 1, attrs)
	}
	if toolDuration != nil {
		toolDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func recordIgnoredToolCalls(ctx context.Context, n int) {
	chatMetricsOnce.Do(initChatMetrics)
	if ignoredToolCalls != nil && n > 0 {
		ignoredToolCalls.Add(ctx, int64(n))
	}
}

func recordWorkers(delta int64) {
	chatMetricsOnce.Do(initChatMetrics)
	if activeWorkers != nil {
		activeWorkers.Add(context.Background(), delta)
	}
}

func outcomeOf(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if err != nil {
		return "error"
	}
	return "ok"
}
