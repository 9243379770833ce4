package memoryengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/dogmatiq/storekit/driver/memory/memoryengine"
	"github.com/dogmatiq/storekit/engine"
)

func TestEngine(t *testing.T) {
	engine.RunTests(t, &Engine{})

	t.Run("it blocks upgrades while other connections are open", func(t *testing.T) {
		t.Parallel()

		e := &Engine{}

		stale, err := e.Open(t.Context(), "<database>", 1, nil)
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

	t.Run("it does not block opens at the stored version", func(t *testing.T) {
		t.Parallel()

		e := &Engine{}

		c1, err := e.Open(t.Context(), "<database>", 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c1.Close()

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()

		c2, err := e.Open(ctx, "<database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c2.Close()
	})

	t.Run("it returns an error when a connection is closed twice", func(t *testing.T) {
		t.Parallel()

		e := &Engine{}

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
	engine.RunBenchmarks(b, &Engine{})
}
