package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/elfrid-labs/elfrid/internal/domain"
	_ "modernc.org/sqlite"
)

// defaultIdentityPrompt seeds the singleton config row on first init.
const defaultIdentityPrompt = "You are Elfrid, a formal and concise AI butler."

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS config (
		id INTEGER PRIMARY KEY,
		elfrid_prompt TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		world_model TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS modes (
		mode_id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		mode_name TEXT NOT NULL,
		mode_data TEXT,
		last_updated INTEGER NOT NULL,
		UNIQUE(user_id, mode_name),
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);

	CREATE TABLE IF NOT EXISTS memory (
		memory_id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		table_name TEXT NOT NULL,
		data TEXT,
		last_updated INTEGER NOT NULL,
		UNIQUE(user_id, table_name),
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		chat_state TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS logs (
		log_id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		session_id INTEGER NOT NULL,
		request TEXT NOT NULL,
		response TEXT,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(user_id),
		FOREIGN KEY (session_id) REFERENCES sessions(session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_logs_session ON logs(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Seed the singleton identity prompt. Mutated only by redeployment.
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM config`).Scan(&count); err != nil {
		return fmt.Errorf("count config rows: %w", err)
	}
	if count == 0 {
		_, err := s.db.Exec(
			`INSERT INTO config (elfrid_prompt, created_at) VALUES (?, ?)`,
			defaultIdentityPrompt, time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("seed config: %w", err)
		}
	}

	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ValidateUser fails with ErrNotFound if no user row exists.
func (s *SQLiteStore) ValidateUser(ctx context.Context, userID int64) error {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return fmt.Errorf("count user rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// GetIdentityPrompt returns the assistant's system identity prompt.
func (s *SQLiteStore) GetIdentityPrompt(ctx context.Context) (string, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx, `SELECT elfrid_prompt FROM config LIMIT 1`).Scan(&prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("config row: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read identity prompt: %w", err)
	}
	return prompt, nil
}

// GetWorldModel returns the user's world-model JSON blob.
func (s *SQLiteStore) GetWorldModel(ctx context.Context, userID int64) (string, error) {
	var worldModel string
	err := s.db.QueryRowContext(ctx, `SELECT world_model FROM users WHERE user_id = ?`, userID).Scan(&worldModel)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read world model: %w", err)
	}
	return worldModel, nil
}

// ListModes returns all modes for a user.
func (s *SQLiteStore) ListModes(ctx context.Context, userID int64) ([]domain.Mode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mode_name, mode_data, last_updated FROM modes WHERE user_id = ? ORDER BY mode_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query modes: %w", err)
	}
	defer closeRows(rows, "modes")

	var modes []domain.Mode
	for rows.Next() {
		m := domain.Mode{UserID: userID}
		var data sql.NullString
		var updated int64
		if err := rows.Scan(&m.Name, &data, &updated); err != nil {
			return nil, fmt.Errorf("scan mode row: %w", err)
		}
		m.Data = data.String
		m.LastUpdated = time.Unix(updated, 0)
		modes = append(modes, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modes: %w", err)
	}
	return modes, nil
}

// ReadMode returns the stored JSON for a named mode.
func (s *SQLiteStore) ReadMode(ctx context.Context, userID int64, modeName string) (string, error) {
	return s.readDocument(ctx, `SELECT mode_data FROM modes WHERE user_id = ? AND mode_name = ?`,
		userID, modeName)
}

// UpsertMode inserts or updates a mode keyed on (userID, modeName).
func (s *SQLiteStore) UpsertMode(ctx context.Context, userID int64, modeName string, data domain.Document) error {
	if err := s.ValidateUser(ctx, userID); err != nil {
		return err
	}
	if !data.Valid() {
		return fmt.Errorf("mode %q payload is not valid JSON: %w", modeName, ErrInvalidData)
	}
	query := `
	INSERT INTO modes (user_id, mode_name, mode_data, last_updated)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, mode_name) DO UPDATE SET
		mode_data = excluded.mode_data,
		last_updated = excluded.last_updated`
	_, err := s.db.ExecContext(ctx, query, userID, modeName, data.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert mode: %w", err)
	}
	return nil
}

// ReadMemory returns the stored JSON for a named memory table.
func (s *SQLiteStore) ReadMemory(ctx context.Context, userID int64, tableName string) (string, error) {
	return s.readDocument(ctx, `SELECT data FROM memory WHERE user_id = ? AND table_name = ?`,
		userID, tableName)
}

// UpsertMemory inserts or updates a memory record keyed on (userID, tableName).
func (s *SQLiteStore) UpsertMemory(ctx context.Context, userID int64, tableName string, data domain.Document) error {
	if err := s.ValidateUser(ctx, userID); err != nil {
		return err
	}
	if !data.Valid() {
		return fmt.Errorf("memory %q payload is not valid JSON: %w", tableName, ErrInvalidData)
	}
	query := `
	INSERT INTO memory (user_id, table_name, data, last_updated)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, table_name) DO UPDATE SET
		data = excluded.data,
		last_updated = excluded.last_updated`
	_, err := s.db.ExecContext(ctx, query, userID, tableName, data.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func (s *SQLiteStore) readDocument(ctx context.Context, query string, userID int64, name string) (string, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%q for user %d: %w", name, userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return data.String, nil
}

// ListMemoryTables returns the distinct memory table names for a user.
func (s *SQLiteStore) ListMemoryTables(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT table_name FROM memory WHERE user_id = ? ORDER BY table_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memory tables: %w", err)
	}
	defer closeRows(rows, "memory tables")

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan memory table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory tables: %w", err)
	}
	return names, nil
}

// CurrentSession returns the most recently created session for a user,
// or nil when the user has none.
func (s *SQLiteStore) CurrentSession(ctx context.Context, userID int64) (*domain.Session, error) {
	query := `
		SELECT session_id, chat_state, created_at FROM sessions
		WHERE user_id = ? ORDER BY created_at DESC, session_id DESC LIMIT 1`

	var sess domain.Session
	var chatState sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&sess.SessionID, &chatState, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.UserID = userID
	sess.ChatState = chatState.String
	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}

// CreateSession creates a session with empty chat state.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID int64) (int64, error) {
	if err := s.ValidateUser(ctx, userID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, chat_state, created_at) VALUES (?, ?, ?)`,
		userID, "{}", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session last insert id: %w", err)
	}
	return id, nil
}

// SessionHistory returns up to limit exchanges, ordered oldest to newest.
func (s *SQLiteStore) SessionHistory(ctx context.Context, sessionID int64, limit int) ([]domain.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT request, response FROM logs WHERE session_id = ? ORDER BY log_id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}
	defer closeRows(rows, "session history")

	var history []domain.Exchange
	for rows.Next() {
		var ex domain.Exchange
		var response sql.NullString
		if err := rows.Scan(&ex.Request, &response); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		ex.Response = response.String
		history = append(history, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session history: %w", err)
	}

	// Query is newest-first to apply the limit; callers want oldest-first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// AppendLog appends one immutable request/response record.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *domain.LogEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (user_id, session_id, request, response, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.UserID, entry.SessionID, entry.Request, entry.Response, ts.Unix())
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// CreateTable executes model-authored DDL after safety checks. The DDL
// may end with a single semicolon; a separator anywhere else smells
// like statement stacking and is rejected.
func (s *SQLiteStore) CreateTable(ctx context.Context, tableName, ddl string) error {
	if !ValidIdentifier(tableName) {
		return fmt.Errorf("table name %q: %w", tableName, ErrInvalidIdentifier)
	}
	trimmed := strings.TrimSpace(ddl)
	if i := strings.Index(trimmed, ";"); i >= 0 && i != len(trimmed)-1 {
		return fmt.Errorf("statement separator inside DDL for %q: %w", tableName, ErrUnsafeStatement)
	}
	if _, err := s.db.ExecContext(ctx, trimmed); err != nil {
		return fmt.Errorf("create table %q: %w", tableName, err)
	}
	return nil
}

// RunReadOnlyQuery executes a SELECT and returns ordered rows. The gate
// is a prefix check only: it does not catch SELECTs that reach mutating
// constructs through engine extensions, nor mutation hidden behind
// comments. Known limitation, kept deliberately simple.
func (s *SQLiteStore) RunReadOnlyQuery(ctx context.Context, query string, params ...any) ([]Row, error) {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(query)), "select") {
		return nil, fmt.Errorf("only SELECT statements are allowed: %w", ErrRejectedQuery)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer closeRows(rows, "read-only query")

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan query row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query rows: %w", err)
	}
	return result, nil
}

// InsertRow inserts one row of bound values into tableName.
func (s *SQLiteStore) InsertRow(ctx context.Context, tableName string, values map[string]any) (int64, error) {
	if !ValidIdentifier(tableName) {
		return 0, fmt.Errorf("table name %q: %w", tableName, ErrInvalidIdentifier)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("insert into %q with no values: %w", tableName, ErrInvalidData)
	}

	cols, args, err := bindColumns(values)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", tableName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert last insert id: %w", err)
	}
	return id, nil
}

// UpdateRows updates rows matching cond with the given values.
func (s *SQLiteStore) UpdateRows(ctx context.Context, tableName string, cond, values map[string]any) (int64, error) {
	if !ValidIdentifier(tableName) {
		return 0, fmt.Errorf("table name %q: %w", tableName, ErrInvalidIdentifier)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("update %q with no values: %w", tableName, ErrInvalidData)
	}
	if len(cond) == 0 {
		return 0, fmt.Errorf("update %q with no condition: %w", tableName, ErrInvalidData)
	}

	setCols, setArgs, err := bindColumns(values)
	if err != nil {
		return 0, err
	}
	condCols, condArgs, err := bindColumns(cond)
	if err != nil {
		return 0, err
	}

	assignments := make([]string, len(setCols))
	for i, col := range setCols {
		assignments[i] = col + " = ?"
	}
	predicates := make([]string, len(condCols))
	for i, col := range condCols {
		predicates[i] = col + " = ?"
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		tableName, strings.Join(assignments, ", "), strings.Join(predicates, " AND "))
	res, err := s.db.ExecContext(ctx, query, append(setArgs, condArgs...)...)
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", tableName, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update rows affected: %w", err)
	}
	return count, nil
}

// ListTables returns the table names known to the catalog, excluding
// sqlite internals.
func (s *SQLiteStore) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer closeRows(rows, "catalog")

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return names, nil
}

// GetSchema returns the DDL text for one table.
func (s *SQLiteStore) GetSchema(ctx context.Context, tableName string) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("table name %q: %w", tableName, ErrInvalidIdentifier)
	}
	var ddl sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, tableName).Scan(&ddl)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("table %q: %w", tableName, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	return ddl.String, nil
}

// GetAllSchemas returns a mapping of every table name to its DDL.
func (s *SQLiteStore) GetAllSchemas(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer closeRows(rows, "schemas")

	schemas := make(map[string]string)
	for rows.Next() {
		var name string
		var ddl sql.NullString
		if err := rows.Scan(&name, &ddl); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		schemas[name] = ddl.String
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}
	return schemas, nil
}

// CreateUser inserts a user row. Users are normally provisioned out of
// band; this exists for demo seeding and tests. Existing rows are left
// untouched.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	if !domain.Document(user.WorldModel).Valid() {
		return fmt.Errorf("world model is not valid JSON: %w", ErrInvalidData)
	}
	ts := user.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id, world_model, created_at) VALUES (?, ?, ?)`,
		user.UserID, user.WorldModel, ts.Unix())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// bindColumns splits a column map into allow-listed names and bind
// arguments with a stable order.
func bindColumns(m map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(m))
	for col := range m {
		if !ValidIdentifier(col) {
			return nil, nil, fmt.Errorf("column name %q: %w", col, ErrInvalidIdentifier)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = m[col]
	}
	return cols, args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
