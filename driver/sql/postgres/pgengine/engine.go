package pgengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dogmatiq/storekit/driver/sql/postgres/internal/bigint"
	"github.com/dogmatiq/storekit/driver/sql/postgres/internal/pgerror"
	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
)

// Engine is an implementation of [engine.Engine] that stores databases in a
// PostgreSQL database.
//
// Upgrade transactions lock the database's row, so concurrent upgrades of the
// same database are serialized, but unlike the embedded engines an upgrade
// does not wait for other connections to be closed.
type Engine struct {
	DB *sql.DB
}

// Open opens (creating if necessary) the database with the given name.
func (e *Engine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade engine.UpgradeFunc,
) (engine.Conn, error) {
	stored, err := e.storedVersion(ctx, e.DB, name, false)
	if err != nil {
		return nil, err
	}

	v, needsUpgrade, err := enginex.Plan(name, version, stored)
	if err != nil {
		return nil, err
	}

	if needsUpgrade {
		v, err = e.upgrade(ctx, name, version, upgrade)
		if err != nil {
			return nil, err
		}
	}

	collections, err := e.collections(ctx, e.DB, name)
	if err != nil {
		return nil, err
	}

	return &conn{
		db:          e.DB,
		name:        name,
		version:     v,
		collections: collections,
	}, nil
}

// upgrade runs an upgrade transaction.
func (e *Engine) upgrade(
	ctx context.Context,
	name string,
	requested uint64,
	fn engine.UpgradeFunc,
) (version uint64, err error) {
	err = pgerror.Retry(
		ctx,
		e.DB,
		nil,
		func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO storekit.database (
					name,
					version
				) VALUES (
					$1, $2
				) ON CONFLICT (name) DO NOTHING`,
				name,
				bigint.Unsigned(new(uint64)),
			); err != nil {
				return fmt.Errorf("cannot insert database: %w", err)
			}

			stored, err := e.storedVersion(ctx, tx, name, true)
			if err != nil {
				return err
			}

			// Another caller may have upgraded the database since the version
			// was first read.
			v, needsUpgrade, err := enginex.Plan(name, requested, stored)
			if err != nil || !needsUpgrade {
				version = v
				return err
			}

			if _, err := tx.ExecContext(
				ctx,
				`UPDATE storekit.database
				SET version = $2
				WHERE name = $1`,
				name,
				bigint.Unsigned(&v),
			); err != nil {
				return fmt.Errorf("cannot update database version: %w", err)
			}

			collections, err := e.collections(ctx, tx, name)
			if err != nil {
				return err
			}

			if fn != nil {
				s := &schema{
					ctx:         ctx,
					tx:          tx,
					name:        name,
					oldVersion:  stored,
					newVersion:  v,
					collections: collections,
				}

				if err := fn(ctx, s); err != nil {
					return err
				}
			}

			version = v
			return nil
		},
		pgerror.CodeUniqueViolation,
		pgerror.CodeSerializationFailure,
		pgerror.CodeDeadlockDetected,
	)

	return version, err
}

// querier is the subset of [sql.DB] and [sql.Tx] used to read database state.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// storedVersion returns the version of the named database, or zero if it does
// not exist.
func (e *Engine) storedVersion(
	ctx context.Context,
	q querier,
	name string,
	forUpdate bool,
) (uint64, error) {
	query := `SELECT version
		FROM storekit.database
		WHERE name = $1`

	if forUpdate {
		query += ` FOR UPDATE`
	}

	var version uint64
	if err := q.QueryRowContext(ctx, query, name).Scan(
		bigint.Unsigned(&version),
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("cannot read database version: %w", err)
	}

	return version, nil
}

// collections returns the set of collections in the named database.
func (e *Engine) collections(
	ctx context.Context,
	q querier,
	name string,
) (map[string]struct{}, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT name
		FROM storekit.collection
		WHERE database = $1`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("cannot query collections: %w", err)
	}
	defer rows.Close()

	collections := map[string]struct{}{}

	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("cannot scan collection: %w", err)
		}
		collections[c] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot query collections: %w", err)
	}

	return collections, nil
}
