package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// StoreErrorKind distinguishes the two store failure classes. Both abort a run.
type StoreErrorKind int

const (
	StoreIO StoreErrorKind = iota
	StoreConstraint
)

func (k StoreErrorKind) String() string {
	if k == StoreConstraint {
		return "constraint"
	}
	return "io"
}

// StoreError wraps a database failure with its kind and the operation that failed
type StoreError struct {
	Kind StoreErrorKind
	Op   string // e.g. "upsert", "has_seen"
	Key  string // ad_id or run_id, when known
	Err  error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s (%s): %v", e.Kind, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes the matching sentinel so utils.IsFatal and errors.Is work
func (e *StoreError) Unwrap() []error {
	if e.Kind == StoreConstraint {
		return []error{utils.ErrStoreConstraint, e.Err}
	}
	return []error{utils.ErrStoreIO, e.Err}
}

// Category implements the interface checked by utils.CategorizeError
func (e *StoreError) Category() string {
	if e.Kind == StoreConstraint {
		return "Store_Constraint"
	}
	return "Store_IO"
}

// sqliteConstraint is the primary result code SQLITE_CONSTRAINT
const sqliteConstraint = 19

// wrapDBError classifies a driver error. nil stays nil; context errors pass through unchanged.
func wrapDBError(op, key string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind := StoreIO
	var sqliteErr *sqlite.Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteConstraint:
		kind = StoreConstraint
	case errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
		kind = StoreConstraint
	}
	return &StoreError{Kind: kind, Op: op, Key: key, Err: err}
}

func constraintError(op, key, msg string) error {
	return &StoreError{Kind: StoreConstraint, Op: op, Key: key, Err: errors.New(msg)}
}
