package sqlitestore

import (
	"database/sql"
	"errors"

	"github.com/joshjon/kit/errtag"
	"github.com/joshjon/kit/tx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// tagNotFound maps sql.ErrNoRows to the caller-supplied not-found tag and
// passes every other error through TagSQLiteTimeoutErr, matching the
// convention every repository in this package follows.
func tagNotFound[T any](err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errtag.Tag[T](err)
	}
	return tx.TagSQLiteTimeoutErr(err)
}

func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
