//go:build cgo

package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// isSQLiteUniqueViolation reports whether err is a SQLite unique constraint
// violation.
func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
