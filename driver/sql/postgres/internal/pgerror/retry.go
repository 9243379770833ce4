package pgerror

import (
	"context"
	"database/sql"
	"fmt"
)

// Retry executes fn within a transaction, retrying it if the error is one of
// the given codes.
//
// Each attempt uses a new transaction started with opts. It stops retrying
// when ctx is canceled.
func Retry(
	ctx context.Context,
	db *sql.DB,
	opts *sql.TxOptions,
	fn func(*sql.Tx) error,
	codes ...string,
) error {
	for attempt := 1; ; attempt++ {
		err := try(ctx, db, opts, fn)
		if err == nil {
			return nil
		}

		if !Is(err, codes...) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("transaction abandoned after %d attempt(s): %w", attempt, err)
		}
	}
}

func try(
	ctx context.Context,
	db *sql.DB,
	opts *sql.TxOptions,
	fn func(*sql.Tx) error,
) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("cannot start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}

	return nil
}
