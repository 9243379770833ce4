package engine_test

import (
	"context"
	"testing"

	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	. "github.com/dogmatiq/storekit/engine"
)

func TestWithNamePrefix(t *testing.T) {
	t.Parallel()

	RunTests(
		t,
		WithNamePrefix(&memoryengine.Engine{}, "<prefix>"),
	)

	t.Run("it adds the prefix to the database name", func(t *testing.T) {
		t.Parallel()

		underlying := &memoryengine.Engine{}
		e := WithNamePrefix(underlying, "<prefix>")

		c, err := e.Open(
			t.Context(),
			"<database>",
			1,
			func(_ context.Context, s Schema) error {
				if s.Database() != "<database>" {
					t.Errorf("unexpected database name: got %q, want %q", s.Database(), "<database>")
				}
				return s.CreateCollection("<collection>")
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if c.Database() != "<database>" {
			t.Fatalf("unexpected database name: got %q, want %q", c.Database(), "<database>")
		}

		u, err := underlying.Open(t.Context(), "<prefix><database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer u.Close()

		if !u.HasCollection("<collection>") {
			t.Fatal("expected collection to exist in the prefixed database")
		}
	})
}
