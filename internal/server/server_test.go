package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/replanner/config"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
	"github.com/mohammad-safakhou/replanner/internal/runtime"
	"github.com/mohammad-safakhou/replanner/internal/session"
	"github.com/mohammad-safakhou/replanner/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestAgent(t *testing.T, nodeRED string, replies ...string) *runtime.Agent {
	t.Helper()
	cfg := &config.Config{
		Tools: config.ToolsConfig{
			NodeRED:   config.NodeREDConfig{BaseURL: nodeRED, Timeout: time.Second},
			Jokes:     config.JokesConfig{BaseURL: "http://127.0.0.1:1"},
			Knowledge: config.KnowledgeConfig{Backend: "local"},
		},
		Session: config.SessionConfig{Backend: "memory", MaxMessages: 10},
	}
	i := 0
	model := core.LLMFunc(func(context.Context, string) (string, error) {
		r := replies[i%len(replies)]
		i++
		return r, nil
	})
	a, err := runtime.BuildAgent(context.Background(), cfg, runtime.AgentOptions{LLM: model, Registerer: prometheus.NewRegistry(), SkipStorage: true})
	if err != nil {
		t.Fatalf("BuildAgent: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestChatEndpoint(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"temperature": 12.5}`))
	}))
	defer node.Close()

	a := newTestAgent(t, node.URL, `USE_TOOL: temperature {"date":"2025-02-04"}`)
	e := New(Deps{Agent: a})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"Température du 4 février ?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp core.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(resp.Response, "Résultat de temperature: ") || !strings.Contains(resp.Response, "12.5") {
		t.Fatalf("unexpected response %q", resp.Response)
	}
	if len(resp.MessageHistory) != 2 || resp.MessageHistory[1].Role != core.RoleAssistant {
		t.Fatalf("unexpected history %+v", resp.MessageHistory)
	}
}

// downHistory fails every operation, like an unreachable Redis.
type downHistory struct{}

func (downHistory) Load(context.Context, string) ([]core.Message, error) {
	return nil, errors.New("redis: connection refused")
}

func (downHistory) Append(context.Context, string, ...core.Message) error {
	return errors.New("redis: connection refused")
}

func (downHistory) Clear(context.Context, string) error { return nil }

func TestChatEndpointAnswersWhenHistoryIsDown(t *testing.T) {
	a := newTestAgent(t, "http://127.0.0.1:1", "Répondre directement: Bonjour!")
	a.Conversation = session.NewConversation(downHistory{}, a.Orchestrator)
	e := New(Deps{Agent: a})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"Salut","session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp core.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Response != "Bonjour!" || len(resp.MessageHistory) != 2 {
		t.Fatalf("expected a real reply despite the history outage, got %+v", resp)
	}
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	e := New(Deps{Agent: newTestAgent(t, "http://127.0.0.1:1", "Répondre directement: ok")})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("expected 400 json error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAPIRequiresTokenWhenSecretSet(t *testing.T) {
	secret := []byte("s3cret")
	e := New(Deps{Agent: newTestAgent(t, "http://127.0.0.1:1", "Répondre directement: ok"), JWTSecret: secret})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	tok, err := runtime.SignJWT("cli", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	var tools []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tools); err != nil || len(tools) != 7 {
		t.Fatalf("expected 7 tools, got %d (%v)", len(tools), err)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", rec.Code)
	}
}

func TestToolsHealthRefresh(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer node.Close()
	a := newTestAgent(t, node.URL, "Répondre directement: ok")
	prober := NewProber(a.Catalogue, nil, "*/5 * * * *", time.Second)
	e := New(Deps{Agent: a, Prober: prober})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools/health?refresh=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var statuses []HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	byName := map[string]HealthStatus{}
	for _, s := range statuses {
		byName[s.Tool] = s
	}
	if !byName["temperature"].Healthy || !byName["node_red_status"].Healthy {
		t.Fatalf("node-red tools should be healthy: %+v", statuses)
	}
	if byName["jokes"].Healthy {
		t.Fatalf("jokes backend is unreachable and should be unhealthy")
	}
	if _, ok := byName["create_table"]; ok {
		t.Fatalf("tools without health checks must not be probed")
	}

	cached := prober.Status(context.Background())
	if len(cached) != len(statuses) {
		t.Fatalf("expected cached status for every probed tool")
	}
}

func TestSessionTurnsEndpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	a := newTestAgent(t, "http://127.0.0.1:1", "Répondre directement: ok")
	a.Store = store.New(db)
	e := New(Deps{Agent: a})

	rows := sqlmock.NewRows([]string{"id", "session_id", "input", "response", "needs_replan", "past_steps", "outcome", "error", "duration_ms", "created_at"}).
		AddRow("t1", "s1", "Salut", "Bonjour!", false, []byte(`[]`), "answered", "", int64(5), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`FROM turns WHERE session_id=$1`)).WithArgs("s1", 20).WillReturnRows(rows)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/turns?limit=20", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"response":"Bonjour!"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/turns?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSessionTurnsWithoutStore(t *testing.T) {
	e := New(Deps{Agent: newTestAgent(t, "http://127.0.0.1:1", "Répondre directement: ok")})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/turns", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestIsDue(t *testing.T) {
	if !isDue("*/5 * * * *", nil) {
		t.Fatalf("never-run probe must be due")
	}
	recent := time.Now().Add(-10 * time.Second)
	if isDue("@hourly", &recent) {
		t.Fatalf("hourly probe run 10s ago must not be due")
	}
	old := time.Now().Add(-10 * time.Minute)
	if !isDue("*/5 * * * *", &old) {
		t.Fatalf("five-minute probe last run 10m ago must be due")
	}
	if isDue("not a cron", &old) {
		t.Fatalf("invalid cron expression falls back to hourly, 10m ago must not be due")
	}
	stale := time.Now().Add(-2 * time.Hour)
	if !isDue("not a cron", &stale) {
		t.Fatalf("invalid cron expression falls back to hourly, 2h ago must be due")
	}
}
