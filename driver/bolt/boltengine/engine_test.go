package boltengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/dogmatiq/storekit/driver/bolt/boltengine"
	"github.com/dogmatiq/storekit/engine"
)

func TestEngine(t *testing.T) {
	e := &Engine{
		Dir: t.TempDir(),
	}

	engine.RunTests(t, e)

	t.Run("it persists databases across engine instances", func(t *testing.T) {
		dir := t.TempDir()

		c, err := (&Engine{Dir: dir}).Open(
			t.Context(),
			"<database>",
			3,
			func(_ context.Context, s engine.Schema) error {
				return s.CreateCollection("<collection>")
			},
		)
		if err != nil {
			t.Fatal(err)
		}

		if err := c.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		if err := c.Close(); err != nil {
			t.Fatal(err)
		}

		c, err = (&Engine{Dir: dir}).Open(t.Context(), "<database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if c.Version() != 3 {
			t.Fatalf("unexpected version: got %d, want 3", c.Version())
		}

		v, ok, err := c.Get(t.Context(), "<collection>", []byte("<key>"))
		if err != nil {
			t.Fatal(err)
		}

		if !ok || string(v) != "<value>" {
			t.Fatalf("unexpected value: got %q, want %q", v, "<value>")
		}
	})

	t.Run("it blocks an upgrade until stale connections are closed", func(t *testing.T) {
		e := &Engine{Dir: t.TempDir()}

		stale, err := e.Open(t.Context(), "<database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		if _, err := e.Open(ctx, "<database>", 2, nil); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("unexpected error: got %v, want %v", err, context.DeadlineExceeded)
		}

		if err := stale.Close(); err != nil {
			t.Fatal(err)
		}

		c, err := e.Open(t.Context(), "<database>", 2, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if c.Version() != 2 {
			t.Fatalf("unexpected version: got %d, want 2", c.Version())
		}
	})

	t.Run("it returns an error when a connection is closed twice", func(t *testing.T) {
		e := &Engine{Dir: t.TempDir()}

		c, err := e.Open(t.Context(), "<database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}

		if err := c.Close(); err != nil {
			t.Fatal(err)
		}

		if err := c.Close(); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func BenchmarkEngine(b *testing.B) {
	engine.RunBenchmarks(
		b,
		&Engine{
			Dir: b.TempDir(),
		},
	)
}
