package engine_test

import (
	"fmt"
	"testing"

	. "github.com/dogmatiq/storekit/engine"
)

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		Name      string
		Err       error
		Predicate func(error) bool
	}{
		{"VersionError", VersionError{"<db>", 1, 2}, IsVersionError},
		{"CollectionNotFoundError", CollectionNotFoundError{"<db>", "<c>"}, IsCollectionNotFound},
		{"CollectionExistsError", CollectionExistsError{"<db>", "<c>"}, IsCollectionExists},
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			t.Parallel()

			if !c.Predicate(c.Err) {
				t.Fatal("expected predicate to match the error")
			}

			if !c.Predicate(fmt.Errorf("<context>: %w", c.Err)) {
				t.Fatal("expected predicate to match the wrapped error")
			}

			if c.Predicate(fmt.Errorf("<context>: %s", c.Err)) {
				t.Fatal("did not expect predicate to match an unrelated error")
			}
		})
	}
}
