package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mohammad-safakhou/replanner/internal/agent/core"
	"github.com/mohammad-safakhou/replanner/internal/capability"
)

func TestSaveTurn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := New(db)
	created := time.Date(2025, 2, 4, 10, 0, 0, 0, time.UTC)
	rec := core.TurnRecord{
		ID:        "5f0c1f8e-4a7b-4c43-9a43-6c8c2b7d1e01",
		SessionID: "s1",
		Input:     "Quelle température le 2025-02-04 ?",
		Response:  "Résultat de temperature: 21.5",
		PastSteps: []core.StepRecord{{Step: core.Directive{Kind: core.UseTool, Tool: "temperature"}, Response: "Résultat de temperature: 21.5"}},
		Outcome:   core.OutcomeAnswered,
		Duration:  1500 * time.Millisecond,
		CreatedAt: created,
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO turns (id, session_id, input, response, needs_replan, past_steps, outcome, error, duration_ms, created_at)`)).
		WithArgs(rec.ID, rec.SessionID, rec.Input, rec.Response, false, sqlmock.AnyArg(), rec.Outcome, nil, int64(1500), created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveTurn(context.Background(), rec); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveTurnRequiresID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	if err := New(db).SaveTurn(context.Background(), core.TurnRecord{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestListTurns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "session_id", "input", "response", "needs_replan", "past_steps", "outcome", "error", "duration_ms", "created_at"}).
		AddRow("t1", "s1", "Salut", "Bonjour!", false, []byte(`[{"step":{"kind":"respond_directly","text":"Bonjour!"},"response":"Bonjour!"}]`), "answered", "", int64(20), now).
		AddRow("t2", "s1", "Température ?", "Quelle date ?", true, []byte(`[]`), "needs_replan", "", int64(30), now.Add(time.Second))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, session_id, input, response, needs_replan, past_steps, outcome, COALESCE(error, ''), duration_ms, created_at`)).
		WithArgs("s1", 10).
		WillReturnRows(rows)

	turns, err := New(db).ListTurns(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].PastSteps[0].Step.Kind != core.RespondDirectly || turns[0].Duration != 20*time.Millisecond {
		t.Fatalf("unexpected first turn %+v", turns[0])
	}
	if !turns[1].NeedsReplan {
		t.Fatalf("expected second turn to need replan")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPublishCatalogue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	desc := capability.Descriptor{
		Name:         "temperature",
		Description:  "Température",
		Category:     "node_red",
		Enabled:      true,
		Dependencies: []string{"node_red_status"},
		RequiredParameters: []capability.Parameter{
			{Name: "date", Description: "Date", Required: true},
		},
	}
	cat, err := capability.NewCatalogue(stubTool{desc})
	if err != nil {
		t.Fatalf("NewCatalogue: %v", err)
	}
	sum, _ := capability.ComputeChecksum(desc)
	sig, _ := capability.SignDescriptor(desc, "secret")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tool_registry (name, description, category, enabled, parameters, dependencies, checksum, signature, updated_at)`)).
		WithArgs("temperature", "Température", "node_red", true, sqlmock.AnyArg(), pq.Array([]string{"node_red_status"}), sum, sig).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := New(db).PublishCatalogue(context.Background(), cat, "secret")
	if err != nil || n != 1 {
		t.Fatalf("PublishCatalogue = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
	if err := capability.VerifySignature(desc, sig, "secret"); err != nil {
		t.Fatalf("stored signature does not verify: %v", err)
	}
}

func TestGetToolDescriptorRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "description", "category", "enabled", "parameters", "dependencies", "checksum", "signature", "updated_at"}).
		AddRow("jokes", "Blagues", "fun", true, []byte(`[{"name":"category","description":"Catégorie","required":false}]`), "{}", "abc", "", time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tool_registry WHERE name=$1`)).WithArgs("jokes").WillReturnRows(rows)

	rec, ok, err := New(db).GetToolDescriptor(context.Background(), "jokes")
	if err != nil || !ok {
		t.Fatalf("GetToolDescriptor = %v, %v", ok, err)
	}
	d, err := rec.Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if len(d.RequiredParameters) != 1 || d.RequiredParameters[0].Required {
		t.Fatalf("unexpected parameters %+v", d.RequiredParameters)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tool_registry WHERE name=$1`)).WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	if _, ok, err := New(db).GetToolDescriptor(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("expected not found, got %v, %v", ok, err)
	}
}

type stubTool struct{ desc capability.Descriptor }

func (s stubTool) Descriptor() capability.Descriptor { return s.desc }

func (s stubTool) Execute(context.Context, map[string]any) (string, error) { return "", nil }
