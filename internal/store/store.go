package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/resourcefinder/internal/chat"
)

// Store archives finished conversation turns in Postgres.
type Store struct {
	DB *sql.DB
}

// TurnRecord is one archived row of chat_turns.
type TurnRecord struct {
	ID           string
	SessionID    string
	UserMessage  string
	Reply        string
	SearchQuery  string
	ToolCalls    int
	GatewayCalls int
	Error        *string
	StartedAt    time.Time
	Duration     time.Duration
}

var turnsArchived otelmetric.Int64Counter

func init() {
	meter := otel.Meter("store")
	turnsArchived, _ = meter.Int64Counter(
		"store_chat_turns_archived_total",
		otelmetric.WithDescription("Conversation turns written to the transcript archive"),
	)
}

// NewWithDSN opens the archive database and checks it is reachable.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RecordTurn satisfies chat.Recorder.
func (s *Store) RecordTurn(ctx context.Context, turn chat.Turn) error {
	rec := TurnRecord{
		ID:           uuid.NewString(),
		SessionID:    turn.SessionID,
		UserMessage:  turn.UserMessage,
		Reply:        turn.Reply,
		SearchQuery:  turn.Query,
		ToolCalls:    turn.ToolCalls,
		GatewayCalls: turn.GatewayCalls,
		StartedAt:    turn.StartedAt,
		Duration:     turn.Duration,
	}
	if turn.Err != nil {
		msg := turn.Err.Error()
		rec.Error = &msg
	}
	return s.InsertTurn(ctx, rec)
}

func (s *Store) InsertTurn(ctx context.Context, rec TurnRecord) error {
	if rec.SessionID == "" {
		return errors.New("session id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_turns (id, session_id, user_message, reply, search_query, tool_calls, gateway_calls, error, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.SessionID, rec.UserMessage, rec.Reply, rec.SearchQuery,
		rec.ToolCalls, rec.GatewayCalls, rec.Error, rec.StartedAt, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	if turnsArchived != nil {
		turnsArchived.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("failed", rec.Error != nil)))
	}
	return nil
}

// ListTurns returns the archived turns of a session, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, session_id, user_message, reply, search_query, tool_calls, gateway_calls, error, started_at, duration_ms
FROM chat_turns WHERE session_id = $1 ORDER BY started_at ASC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var (
			rec    TurnRecord
			errMsg sql.NullString
			ms     int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.UserMessage, &rec.Reply, &rec.SearchQuery,
			&rec.ToolCalls, &rec.GatewayCalls, &errMsg, &rec.StartedAt, &ms); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneTurnsBefore deletes archived turns that started before cutoff.
func (s *Store) PruneTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chat_turns WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune chat turns: %w", err)
	}
	return res.RowsAffected()
}
