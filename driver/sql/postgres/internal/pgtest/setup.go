package pgtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/dogmatiq/sqltest"
	_ "github.com/jackc/pgx/v4/stdlib" // pgx driver for database/sql
)

// DSNEnvVar is the environment variable that specifies the DSN of an existing
// PostgreSQL server to use for testing.
const DSNEnvVar = "STOREKIT_TEST_POSTGRES_DSN"

// Setup creates and returns a new PostgreSQL database connection for use in a
// test. The database is automatically cleaned up when the test ends.
//
// If DSNEnvVar is set the server it refers to is used directly. Otherwise a
// temporary database is created by sqltest. The test is skipped if no server
// is available.
func Setup(t testing.TB) *sql.DB {
	if dsn := os.Getenv(DSNEnvVar); dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			t.Fatalf("cannot open test database: %s", err)
		}

		t.Cleanup(func() {
			if err := db.Close(); err != nil {
				t.Error(err)
			}
		})

		return db
	}

	database, err := sqltest.NewDatabase(
		context.Background(),
		sqltest.PGXDriver,
		sqltest.PostgreSQL,
	)
	if err != nil {
		t.Skipf("PostgreSQL is not available: %s", err)
	}

	db, err := database.Open()
	if err != nil {
		t.Fatalf("cannot open test database: %s", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error(err)
		}

		if err := database.Close(); err != nil {
			t.Error(err)
		}
	})

	return db
}
