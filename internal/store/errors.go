package store

import (
	"errors"
	"regexp"
	"strings"
)

// Sentinel errors returned by Repository operations. Callers classify
// failures with errors.Is; anything that does not match one of these
// wraps an underlying engine error.
var (
	// ErrNotFound means a referenced entity (user, table) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidData means a payload failed validation: malformed JSON
	// or an empty required column map.
	ErrInvalidData = errors.New("invalid data")

	// ErrInvalidIdentifier means a table or column name failed the
	// identifier allow-list.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnsafeStatement means DDL text looks like statement stacking.
	ErrUnsafeStatement = errors.New("unsafe statement")

	// ErrRejectedQuery means non-SELECT text was submitted to the
	// read-only query path.
	ErrRejectedQuery = errors.New("rejected query")
)

// identifierPattern is the sole defense against injection through
// model-authored identifiers. Values are always bound as parameters;
// identifiers cannot be, so they must pass this allow-list.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidIdentifier reports whether name is safe to splice into SQL text
// as a table or column name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// IsSQLiteBusy checks if the error is a SQLITE_BUSY or
// "database is locked" concurrency error.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
