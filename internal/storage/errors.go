package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. The sync core treats ErrBusy as a retriable signal; every
// other failure is surfaced as-is.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusy indicates the database was locked by another writer.
	ErrBusy = errors.New("database busy")

	// ErrSchema indicates the on-disk schema does not match expectations.
	// Fatal at startup.
	ErrSchema = errors.New("schema mismatch")
)

// wrapDBError wraps a database error with operation context. sql.ErrNoRows
// becomes ErrNotFound; SQLITE_BUSY becomes ErrBusy.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isBusyErr(err) {
		return fmt.Errorf("%s: %w", op, ErrBusy)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusyErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBusy reports whether err is or wraps ErrBusy.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
