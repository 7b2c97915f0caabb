package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SchemaError means the table could not be ensured. It is never retryable:
// the environment needs fixing first.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func (e *SchemaError) Retryable() bool {
	return false
}

type ErrorKind string

const (
	// KindConnectionLost is a transient failure talking to the database.
	KindConnectionLost ErrorKind = "connection_lost"
	// KindConstraintViolation is the upsert itself being rejected.
	KindConstraintViolation ErrorKind = "constraint_violation"
)

// LoadError is the failure of an upsert.
type LoadError struct {
	Kind ErrorKind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Retryable() bool {
	return e.Kind == KindConnectionLost
}

func classifyLoadErr(err error) *LoadError {
	if connectionLost(err) {
		return &LoadError{Kind: KindConnectionLost, Err: err}
	}

	return &LoadError{Kind: KindConstraintViolation, Err: err}
}

// Reports whether err looks like the database went away or was too busy to
// answer, as opposed to rejecting the statement.
func connectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended codes carry the primary code in the low byte
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
			sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_PROTOCOL:
			return true
		}
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"40", // transaction rollback, e.g. serialization failure
			"53", // insufficient resources
			"57": // operator intervention, e.g. admin shutdown
			return true
		}
		return false
	}

	return false
}
