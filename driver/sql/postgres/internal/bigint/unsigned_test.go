package bigint_test

import (
	"math"
	"testing"

	. "github.com/dogmatiq/storekit/driver/sql/postgres/internal/bigint"
	"pgregory.net/rapid"
)

func TestUnsigned(t *testing.T) {
	t.Run("it round-trips values within the BIGINT range", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			want := rapid.Uint64Max(math.MaxInt64).Draw(t, "value")

			encoded, err := Unsigned(&want).Value()
			if err != nil {
				t.Fatal(err)
			}

			if encoded != int64(want) {
				t.Fatalf("unexpected encoded value: got %v, want %d", encoded, want)
			}

			var got uint64
			if err := Unsigned(&got).Scan(encoded); err != nil {
				t.Fatal(err)
			}

			if got != want {
				t.Fatalf("unexpected decoded value: got %d, want %d", got, want)
			}
		})
	})

	t.Run("it rejects values that do not fit in a BIGINT", func(t *testing.T) {
		v := uint64(math.MaxInt64) + 1

		if _, err := Unsigned(&v).Value(); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("it rejects invalid source values when scanning", func(t *testing.T) {
		cases := []struct {
			Name string
			Src  any
		}{
			{"negative", int64(-1)},
			{"NULL", nil},
			{"string", "1"},
		}

		for _, c := range cases {
			t.Run(c.Name, func(t *testing.T) {
				var v uint64
				if err := Unsigned(&v).Scan(c.Src); err == nil {
					t.Fatal("expected an error")
				}
			})
		}
	})
}
