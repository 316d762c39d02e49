package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"
	"github.com/tutorlane/backend/internal/ledger"
)

// maxTxRetries bounds the optimistic-concurrency retry for conflict-class
// failures. Validation and not-found errors are never retried.
const maxTxRetries = 3

// WithTransaction runs fn inside a database transaction. The transaction
// commits only if fn returns nil; any error or panic rolls back, so partial
// writes are never observable. Serialization and deadlock failures are
// retried up to maxTxRetries times; once exhausted the error is surfaced as
// a ledger.ErrTxConflict.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxRetries; attempt++ {
		err = runInTx(ctx, db, fn)
		if err == nil || !isConflict(err) {
			return err
		}
		log.Printf("[TX] Conflict on attempt %d/%d: %v", attempt, maxTxRetries, err)
	}
	return fmt.Errorf("%w: %v", ledger.ErrTxConflict, err)
}

func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// isConflict reports whether err is a Postgres serialization failure (40001)
// or deadlock (40P01), the only classes worth retrying.
func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
