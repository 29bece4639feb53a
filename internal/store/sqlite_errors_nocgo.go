//go:build !cgo

package store

// isSQLiteUniqueViolation reports whether err is a SQLite unique constraint
// violation. Without cgo the go-sqlite3 stub driver cannot produce sqlite3
// error values, so there is never a violation to detect.
func isSQLiteUniqueViolation(err error) bool {
	return false
}
