// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteCode returns the primary result code carried by a driver error, or 0
// when err did not come from SQLite. Extended codes such as
// SQLITE_BUSY_SNAPSHOT fold into their primary code.
func sqliteCode(err error) int {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0
	}
	return se.Code() & 0xff
}

// IsSQLiteBusyError reports whether another connection holds the database lock.
func IsSQLiteBusyError(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_BUSY
}

// IsSQLiteLockedError reports a table-level lock conflict within a shared cache.
func IsSQLiteLockedError(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_LOCKED
}

// IsSQLiteConflictError reports whether err is a transient lock conflict
// worth retrying.
func IsSQLiteConflictError(err error) bool {
	switch sqliteCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}
