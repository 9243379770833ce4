package pgengine

import (
	"context"
	"database/sql"
	_ "embed"

	"github.com/dogmatiq/storekit/driver/sql/postgres/internal/pgerror"
)

//go:embed ddl.sql
var ddl string

// CreateSchema creates the PostgreSQL schema elements required by [Engine].
//
// It is safe to call concurrently and on a database that already contains the
// schema.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	return pgerror.Retry(
		ctx,
		db,
		nil,
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, ddl)
			return err
		},
		// Even though we use IF NOT EXISTS in the DDL, we still need to handle
		// conflicts due to a data race bug in PostgreSQL.
		pgerror.CodeUniqueViolation,
	)
}
