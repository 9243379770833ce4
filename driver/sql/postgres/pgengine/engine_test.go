package pgengine_test

import (
	"testing"

	"github.com/dogmatiq/storekit/driver/sql/postgres/internal/pgtest"
	. "github.com/dogmatiq/storekit/driver/sql/postgres/pgengine"
	"github.com/dogmatiq/storekit/engine"
)

func TestEngine(t *testing.T) {
	db := pgtest.Setup(t)

	if err := CreateSchema(t.Context(), db); err != nil {
		t.Fatal(err)
	}

	engine.RunTests(
		t,
		&Engine{
			DB: db,
		},
	)
}

func BenchmarkEngine(b *testing.B) {
	db := pgtest.Setup(b)

	if err := CreateSchema(b.Context(), db); err != nil {
		b.Fatal(err)
	}

	engine.RunBenchmarks(
		b,
		&Engine{
			DB: db,
		},
	)
}
