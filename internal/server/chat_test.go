package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/resourcefinder/config"
	"github.com/mohammad-safakhou/resourcefinder/internal/chat"
	"github.com/mohammad-safakhou/resourcefinder/internal/runtime"
	"github.com/mohammad-safakhou/resourcefinder/internal/store"
	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/provider"
	"github.com/mohammad-safakhou/resourcefinder/tools/deep_research"
	"github.com/mohammad-safakhou/resourcefinder/tools/query"
)

const testSecret = "0123456789abcdef-test"

type fakeChat struct {
	mu       sync.Mutex
	err      error
	sessions map[string]models.Conversation
	calls    []string
	ended    []string
	next     int
}

func newFakeChat() *fakeChat {
	return &fakeChat{sessions: map[string]models.Conversation{}}
}

func (f *fakeChat) Chat(_ context.Context, sessionID, msg string) (*chat.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.sessions[sessionID]; !ok || sessionID == "" {
		f.next++
		sessionID = fmt.Sprintf("sess-%d", f.next)
	}
	f.sessions[sessionID] = append(f.sessions[sessionID],
		models.Message{Role: models.RoleUser, Content: msg},
		models.Message{Role: models.RoleAssistant, Content: "echo: " + msg},
	)
	return &chat.Reply{SessionID: sessionID, Text: "echo: " + msg, GatewayCalls: 1}, nil
}

func (f *fakeChat) History(_ context.Context, sessionID string) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return conv.Clone(), nil
}

func (f *fakeChat) EndSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
	delete(f.sessions, sessionID)
	return nil
}

func newTestServer(t *testing.T, svc ChatService, mutate func(*Options)) http.Handler {
	t.Helper()
	opts := Options{
		Server:  config.ServerConfig{}.Normalize(),
		Session: config.SessionConfig{}.Normalize(),
		Chat:    svc,
		Logger:  log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func doJSON(h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, newFakeChat(), nil)
	rec := doJSON(h, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected root response %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(h, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestChatNewAndContinuedSession(t *testing.T) {
	svc := newFakeChat()
	h := newTestServer(t, svc, nil)

	rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":"I need a bed tonight"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "sess-1" || resp.BotResponse != "echo: I need a bed tonight" || resp.SessionToken != "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = doJSON(h, http.MethodPost, "/chat", `{"user_message":"in Oakland","session_id":"sess-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.calls[1] != "sess-1" {
		t.Fatalf("second turn should continue sess-1, got %q", svc.calls[1])
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	svc := newFakeChat()
	h := newTestServer(t, svc, nil)

	if rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400 got %d", rec.Code)
	}
	rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":"   "}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank message: expected 400 got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "user_message required" {
		t.Fatalf("unexpected error %q", msg)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("orchestrator should not run for invalid input")
	}
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"llm", &provider.LLMError{Provider: "openai", StatusCode: 500, Message: "boom"}, http.StatusBadGateway},
		{"extraction", &query.ExtractionError{Err: query.ErrEmptyQuery}, http.StatusBadGateway},
		{"research timeout", &deep_research.Error{Kind: deep_research.ErrServiceTimeout}, http.StatusGatewayTimeout},
		{"research unreachable", &deep_research.Error{Kind: deep_research.ErrServiceUnreachable}, http.StatusBadGateway},
		{"research status", &deep_research.Error{Kind: deep_research.ErrServiceError, StatusCode: 500}, http.StatusBadGateway},
		{"closed", chat.ErrClosed, http.StatusServiceUnavailable},
		{"unknown session", models.ErrSessionNotFound, http.StatusNotFound},
		{"invalid", fmt.Errorf("%w: empty", provider.ErrInvalidInput), http.StatusBadRequest},
		{"other", fmt.Errorf("tool list_eligible_resources: %w", io.ErrUnexpectedEOF), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newFakeChat()
			svc.err = tc.err
			h := newTestServer(t, svc, nil)
			rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":"hi"}`, nil)
			if rec.Code != tc.code {
				t.Fatalf("expected %d got %d", tc.code, rec.Code)
			}
			msg := decodeError(t, rec)
			if tc.code >= http.StatusInternalServerError && msg != FriendlyError {
				t.Fatalf("5xx should hide the cause, got %q", msg)
			}
		})
	}
}

func TestChatExposeErrors(t *testing.T) {
	svc := newFakeChat()
	svc.err = &deep_research.Error{Kind: deep_research.ErrServiceError, StatusCode: 503}
	h := newTestServer(t, svc, func(o *Options) { o.Server.ExposeErrors = true })
	rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":"hi"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "status 503") {
		t.Fatalf("cause should be exposed, got %q", msg)
	}
}

func TestHistoryAndEndSession(t *testing.T) {
	svc := newFakeChat()
	svc.sessions["abc"] = models.Conversation{
		{Role: models.RoleSystem, Content: "be kind"},
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "list_eligible_resources"}}},
		{Role: models.RoleTool, Content: "report", ToolCallID: "c1"},
		{Role: models.RoleAssistant, Content: "here you go"},
	}
	h := newTestServer(t, svc, nil)

	rec := doJSON(h, http.MethodGet, "/sessions/abc", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var body struct {
		SessionID string           `json:"session_id"`
		Messages  []historyMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].Content != "hello" || body.Messages[1].Content != "here you go" {
		t.Fatalf("transcript should hold only user and assistant text: %+v", body.Messages)
	}

	if rec := doJSON(h, http.MethodGet, "/sessions/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}

	if rec := doJSON(h, http.MethodDelete, "/sessions/abc", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if len(svc.ended) != 1 || svc.ended[0] != "abc" {
		t.Fatalf("EndSession not called: %v", svc.ended)
	}
}

func TestSignedSessions(t *testing.T) {
	svc := newFakeChat()
	h := newTestServer(t, svc, func(o *Options) { o.Server.SessionSecret = testSecret })

	rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":"hi","session_id":"someone-else"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.calls[0] != "" {
		t.Fatalf("body session_id must be ignored when signing, got %q", svc.calls[0])
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionToken == "" || rec.Header().Get(SessionHeader) != resp.SessionToken {
		t.Fatalf("token missing from body or header")
	}
	if cookies := rec.Result().Cookies(); len(cookies) == 0 || cookies[0].Name != "rf_session" {
		t.Fatalf("session cookie not set: %v", cookies)
	}
	id, err := runtime.ParseSessionToken(resp.SessionToken, []byte(testSecret))
	if err != nil || id != resp.SessionID {
		t.Fatalf("token does not carry session: %q %v", id, err)
	}

	auth := map[string]string{"Authorization": "Bearer " + resp.SessionToken}
	if rec := doJSON(h, http.MethodPost, "/chat", `{"user_message":"again"}`, auth); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.calls[1] != resp.SessionID {
		t.Fatalf("token session not used: %q", svc.calls[1])
	}

	if rec := doJSON(h, http.MethodDelete, "/sessions/"+resp.SessionID, "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("delete without token: expected 403 got %d", rec.Code)
	}
	other, _ := runtime.SignSessionToken("other", []byte(testSecret), time.Hour)
	if rec := doJSON(h, http.MethodGet, "/sessions/"+resp.SessionID, "", map[string]string{"Authorization": "Bearer " + other}); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign token: expected 403 got %d", rec.Code)
	}
	if rec := doJSON(h, http.MethodDelete, "/sessions/"+resp.SessionID, "", auth); rec.Code != http.StatusNoContent {
		t.Fatalf("delete with token: expected 204 got %d", rec.Code)
	}
}

func TestTurnsEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM chat_turns WHERE session_id = \$1`).
		WithArgs("abc", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "user_message", "reply", "search_query", "tool_calls", "gateway_calls", "error", "started_at", "duration_ms"}).
			AddRow("t1", "abc", "hello", "hi there", "", 0, 1, nil, started, int64(1200)))

	h := newTestServer(t, newFakeChat(), func(o *Options) { o.Archive = &store.Store{DB: db} })

	if rec := doJSON(h, http.MethodGet, "/sessions/abc/turns?limit=zero", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400 got %d", rec.Code)
	}
	rec := doJSON(h, http.MethodGet, "/sessions/abc/turns?limit=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var turns []turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(turns) != 1 || turns[0].Reply != "hi there" || turns[0].DurationMS != 1200 || turns[0].StartedAt != "2025-03-01T12:00:00Z" {
		t.Fatalf("unexpected turns %+v", turns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTurnsEndpointNeedsArchive(t *testing.T) {
	h := newTestServer(t, newFakeChat(), nil)
	if rec := doJSON(h, http.MethodGet, "/sessions/abc/turns", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without archive, got %d", rec.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chat_turns_total 1\n"))
	})
	h := newTestServer(t, newFakeChat(), func(o *Options) {
		o.Metrics = metrics
		o.MetricsPath = "/metrics"
	})
	rec := doJSON(h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "chat_turns_total") {
		t.Fatalf("metrics not served: %d %s", rec.Code, rec.Body.String())
	}
}
