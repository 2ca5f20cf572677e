// Package store provides data persistence interfaces and implementations.
//
// It is the only component permitted to form SQL text from
// partially-untrusted input: every dynamic identifier is allow-listed
// and every value is bound as a parameter.
package store

import (
	"context"

	"github.com/elfrid-labs/elfrid/internal/domain"
)

// Row is one result row of a read-only query, column name to value.
type Row map[string]any

// Repository defines the constrained interface over the relational store.
type Repository interface {
	// ValidateUser fails with ErrNotFound if no user row exists.
	// Called as a precondition by every user-scoped operation.
	ValidateUser(ctx context.Context, userID int64) error

	// GetIdentityPrompt returns the assistant's system identity prompt
	// from the singleton config row.
	GetIdentityPrompt(ctx context.Context) (string, error)

	// GetWorldModel returns the user's world-model JSON blob.
	GetWorldModel(ctx context.Context, userID int64) (string, error)

	// ListModes returns all modes for a user.
	ListModes(ctx context.Context, userID int64) ([]domain.Mode, error)

	// ReadMode returns the stored JSON for a named mode, or sql.ErrNoRows
	// mapped to ErrNotFound when absent.
	ReadMode(ctx context.Context, userID int64, modeName string) (string, error)

	// UpsertMode validates data as JSON and inserts or updates the row
	// keyed on (userID, modeName).
	UpsertMode(ctx context.Context, userID int64, modeName string, data domain.Document) error

	// ReadMemory and UpsertMemory mirror the mode operations in the
	// memory namespace, keyed on (userID, tableName).
	ReadMemory(ctx context.Context, userID int64, tableName string) (string, error)
	UpsertMemory(ctx context.Context, userID int64, tableName string, data domain.Document) error

	// ListMemoryTables returns the distinct memory table names for a user.
	ListMemoryTables(ctx context.Context, userID int64) ([]string, error)

	// CurrentSession returns the most recently created session for a
	// user, or nil when the user has none.
	CurrentSession(ctx context.Context, userID int64) (*domain.Session, error)

	// CreateSession creates a session with empty chat state and returns
	// its ID.
	CreateSession(ctx context.Context, userID int64) (int64, error)

	// SessionHistory returns up to limit request/response exchanges for
	// a session, ordered oldest to newest.
	SessionHistory(ctx context.Context, sessionID int64, limit int) ([]domain.Exchange, error)

	// AppendLog appends one immutable request/response record.
	AppendLog(ctx context.Context, entry *domain.LogEntry) error

	// CreateTable executes model-authored DDL after identifier and
	// statement-stacking checks.
	CreateTable(ctx context.Context, tableName, ddl string) error

	// RunReadOnlyQuery executes a SELECT and returns ordered rows.
	// Fails with ErrRejectedQuery for anything that does not start with
	// "select" after trimming and case-folding.
	RunReadOnlyQuery(ctx context.Context, query string, params ...any) ([]Row, error)

	// InsertRow inserts one row of bound values and returns the new
	// row ID.
	InsertRow(ctx context.Context, tableName string, values map[string]any) (int64, error)

	// UpdateRows updates rows matching cond with the given values and
	// returns the affected-row count.
	UpdateRows(ctx context.Context, tableName string, cond, values map[string]any) (int64, error)

	// ListTables returns the table names known to the store's catalog.
	ListTables(ctx context.Context) ([]string, error)

	// GetSchema returns the DDL text for one table.
	GetSchema(ctx context.Context, tableName string) (string, error)

	// GetAllSchemas returns a mapping of every table name to its DDL.
	GetAllSchemas(ctx context.Context) (map[string]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
