package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/elfrid-labs/elfrid/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "elfrid.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStoreWithUser(t *testing.T, userID int64) *SQLiteStore {
	t.Helper()
	s := newTestStore(t)
	if err := s.CreateUser(context.Background(), &domain.User{UserID: userID, WorldModel: `{"mindset":"athlete"}`}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return s
}

func TestValidateUser(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	if err := s.ValidateUser(ctx, 1); err != nil {
		t.Errorf("expected user 1 to validate, got %v", err)
	}
	if err := s.ValidateUser(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for user 9999, got %v", err)
	}
}

func TestIdentityPromptSeeded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	prompt, err := s.GetIdentityPrompt(context.Background())
	if err != nil {
		t.Fatalf("GetIdentityPrompt failed: %v", err)
	}
	if prompt == "" {
		t.Fatal("expected seeded identity prompt, got empty string")
	}
}

func TestInvalidIdentifiersRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	bad := []string{"users; DROP TABLE users", "a-b", "name with space", "tbl'", "", "ta.ble"}
	for _, name := range bad {
		if err := s.CreateTable(ctx, name, "CREATE TABLE x (id INTEGER)"); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("CreateTable(%q): expected ErrInvalidIdentifier, got %v", name, err)
		}
		if _, err := s.InsertRow(ctx, name, map[string]any{"id": 1}); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("InsertRow(%q): expected ErrInvalidIdentifier, got %v", name, err)
		}
		if _, err := s.UpdateRows(ctx, name, map[string]any{"id": 1}, map[string]any{"id": 2}); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("UpdateRows(%q): expected ErrInvalidIdentifier, got %v", name, err)
		}
		if _, err := s.GetSchema(ctx, name); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("GetSchema(%q): expected ErrInvalidIdentifier, got %v", name, err)
		}
	}

	// Column names go through the same allow-list.
	if _, err := s.InsertRow(ctx, "logs", map[string]any{"bad col": 1}); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("expected ErrInvalidIdentifier for bad column name, got %v", err)
	}

	// Nothing should have been created along the way.
	tables, err := s.ListTables(ctx)
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	for _, name := range tables {
		if !ValidIdentifier(name) {
			t.Errorf("catalog contains invalid table name %q", name)
		}
	}
}

func TestCreateTableRejectsStackedStatements(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateTable(ctx, "notes", "CREATE TABLE notes (id INTEGER); DROP TABLE users")
	if !errors.Is(err, ErrUnsafeStatement) {
		t.Fatalf("expected ErrUnsafeStatement, got %v", err)
	}

	// A single trailing separator is fine.
	if err := s.CreateTable(ctx, "notes", "CREATE TABLE notes (id INTEGER, body TEXT);"); err != nil {
		t.Fatalf("expected trailing semicolon to be accepted, got %v", err)
	}

	schema, err := s.GetSchema(ctx, "notes")
	if err != nil {
		t.Fatalf("GetSchema failed: %v", err)
	}
	if schema == "" {
		t.Fatal("expected DDL text for created table")
	}
}

func TestRunReadOnlyQueryGate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rejected := []string{
		"DELETE FROM users",
		"update users set world_model = '{}'",
		"  DROP TABLE users",
		"INSERT INTO users (user_id, world_model, created_at) VALUES (2, '{}', 0)",
		"PRAGMA foreign_keys = OFF",
	}
	for _, q := range rejected {
		if _, err := s.RunReadOnlyQuery(ctx, q); !errors.Is(err, ErrRejectedQuery) {
			t.Errorf("RunReadOnlyQuery(%q): expected ErrRejectedQuery, got %v", q, err)
		}
	}

	// Case and leading whitespace do not matter.
	rows, err := s.RunReadOnlyQuery(ctx, "  SeLeCt name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		t.Fatalf("expected select to pass the gate, got %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected at least one catalog row")
	}
}

func TestUpsertMemoryIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	data := domain.Document(`{"meals":[]}`)
	if err := s.UpsertMemory(ctx, 1, "nutrition", data); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := s.UpsertMemory(ctx, 1, "nutrition", data); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	rows, err := s.RunReadOnlyQuery(ctx,
		"SELECT COUNT(*) AS n FROM memory WHERE user_id = ? AND table_name = ?", int64(1), "nutrition")
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if n, ok := rows[0]["n"].(int64); !ok || n != 1 {
		t.Fatalf("expected exactly one row, got %v", rows[0]["n"])
	}

	got, err := s.ReadMemory(ctx, 1, "nutrition")
	if err != nil {
		t.Fatalf("ReadMemory failed: %v", err)
	}
	if got != data.String() {
		t.Fatalf("expected %q, got %q", data, got)
	}
}

func TestUpsertRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	if err := s.UpsertMode(ctx, 1, "work", `{"tasks":`); !errors.Is(err, ErrInvalidData) {
		t.Errorf("UpsertMode: expected ErrInvalidData, got %v", err)
	}
	if err := s.UpsertMemory(ctx, 1, "notes", `not json`); !errors.Is(err, ErrInvalidData) {
		t.Errorf("UpsertMemory: expected ErrInvalidData, got %v", err)
	}
}

func TestModeRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	if err := s.UpsertMode(ctx, 1, "work", `{"tasks":[]}`); err != nil {
		t.Fatalf("UpsertMode failed: %v", err)
	}

	got, err := s.ReadMode(ctx, 1, "work")
	if err != nil {
		t.Fatalf("ReadMode failed: %v", err)
	}
	var decoded struct {
		Tasks []any `json:"tasks"`
	}
	if err := domain.Document(got).Decode(&decoded); err != nil {
		t.Fatalf("stored mode is not valid JSON: %v", err)
	}
	if decoded.Tasks == nil || len(decoded.Tasks) != 0 {
		t.Fatalf("expected empty tasks array, got %v", decoded.Tasks)
	}
}

func TestReadAbsentDocument(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	if _, err := s.ReadMode(ctx, 1, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadMode: expected ErrNotFound, got %v", err)
	}
	if _, err := s.ReadMemory(ctx, 1, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadMemory: expected ErrNotFound, got %v", err)
	}
}

func TestInsertAndUpdateDynamicTable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTable(ctx, "tasks", "CREATE TABLE tasks (id INTEGER PRIMARY KEY, title TEXT, done INTEGER)"); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	id, err := s.InsertRow(ctx, "tasks", map[string]any{"title": "water plants", "done": 0})
	if err != nil {
		t.Fatalf("InsertRow failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero inserted row id")
	}

	count, err := s.UpdateRows(ctx, "tasks", map[string]any{"id": id}, map[string]any{"done": 1})
	if err != nil {
		t.Fatalf("UpdateRows failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 affected row, got %d", count)
	}

	rows, err := s.RunReadOnlyQuery(ctx, "SELECT title, done FROM tasks WHERE id = ?", id)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["title"] != "water plants" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestEmptyMapsRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertRow(ctx, "logs", map[string]any{}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("InsertRow: expected ErrInvalidData, got %v", err)
	}
	if _, err := s.UpdateRows(ctx, "logs", map[string]any{}, map[string]any{"response": "x"}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("UpdateRows empty condition: expected ErrInvalidData, got %v", err)
	}
	if _, err := s.UpdateRows(ctx, "logs", map[string]any{"log_id": 1}, map[string]any{}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("UpdateRows empty values: expected ErrInvalidData, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	sess, err := s.CurrentSession(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected no session yet, got %+v", sess)
	}

	id, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	sess, err = s.CurrentSession(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if sess == nil || sess.SessionID != id {
		t.Fatalf("expected current session %d, got %+v", id, sess)
	}
	if sess.ChatState != "{}" {
		t.Fatalf("expected empty chat state, got %q", sess.ChatState)
	}

	// A second session becomes current.
	id2, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("second CreateSession failed: %v", err)
	}
	sess, err = s.CurrentSession(ctx, 1)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if sess.SessionID != id2 {
		t.Fatalf("expected session %d to be current, got %d", id2, sess.SessionID)
	}

	if _, err := s.CreateSession(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateSession for unknown user: expected ErrNotFound, got %v", err)
	}
}

func TestSessionHistoryOrderAndLimit(t *testing.T) {
	t.Parallel()
	s := newTestStoreWithUser(t, 1)
	ctx := context.Background()

	sessionID, err := s.CreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		entry := &domain.LogEntry{
			UserID:    1,
			SessionID: sessionID,
			Request:   string(rune('a' + i)),
			Response:  "r" + string(rune('a'+i)),
		}
		if err := s.AppendLog(ctx, entry); err != nil {
			t.Fatalf("AppendLog failed: %v", err)
		}
	}

	history, err := s.SessionHistory(ctx, sessionID, 3)
	if err != nil {
		t.Fatalf("SessionHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 exchanges, got %d", len(history))
	}
	// The 3 most recent, oldest first.
	if history[0].Request != "c" || history[2].Request != "e" {
		t.Fatalf("unexpected order: %+v", history)
	}
}
