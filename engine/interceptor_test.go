package engine_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	. "github.com/dogmatiq/storekit/engine"
)

func TestWithInterceptor(t *testing.T) {
	t.Parallel()

	setup := func() (Engine, *Interceptor) {
		var in Interceptor
		return WithInterceptor(&memoryengine.Engine{}, &in), &in
	}

	createCollection := func(_ context.Context, s Schema) error {
		return s.CreateCollection("<collection>")
	}

	RunTests(
		t,
		WithInterceptor(
			&memoryengine.Engine{},
			&Interceptor{},
		),
	)

	t.Run("it returns the given engine if no interceptor is provided", func(t *testing.T) {
		t.Parallel()

		underlying := &memoryengine.Engine{}
		e := WithInterceptor(underlying, nil)

		if e != underlying {
			t.Fatalf("unexpected engine: got %T, want %T", e, underlying)
		}
	})

	t.Run("it invokes the BeforeOpen function", func(t *testing.T) {
		t.Parallel()

		e, in := setup()

		want := errors.New("<error>")
		in.BeforeOpen(func(db string, version uint64) error {
			if db != "<database>" {
				t.Errorf("unexpected database: got %q, want %q", db, "<database>")
			}
			if version != 3 {
				t.Errorf("unexpected version: got %d, want 3", version)
			}
			return want
		})

		_, got := e.Open(t.Context(), "<database>", 3, nil)
		if got != want {
			t.Fatalf("unexpected error: got %v, want %v", got, want)
		}
	})

	t.Run("it invokes the BeforeUpgrade function", func(t *testing.T) {
		t.Parallel()

		e, in := setup()

		var calls [][2]uint64
		in.BeforeUpgrade(func(db string, oldVersion, newVersion uint64) error {
			calls = append(calls, [2]uint64{oldVersion, newVersion})
			return nil
		})

		c, err := e.Open(t.Context(), "<database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		c.Close()

		c, err = e.Open(t.Context(), "<database>", 1, nil)
		if err != nil {
			t.Fatal(err)
		}
		c.Close()

		c, err = e.Open(t.Context(), "<database>", 4, createCollection)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if len(calls) != 2 || calls[0] != [2]uint64{0, 1} || calls[1] != [2]uint64{1, 4} {
			t.Fatalf("unexpected upgrades: %v", calls)
		}

		if !c.HasCollection("<collection>") {
			t.Fatal("expected the caller's upgrade function to be invoked")
		}
	})

	t.Run("it aborts the upgrade if the BeforeUpgrade function fails", func(t *testing.T) {
		t.Parallel()

		e, in := setup()

		want := errors.New("<error>")
		in.BeforeUpgrade(func(string, uint64, uint64) error {
			return want
		})

		if _, err := e.Open(t.Context(), "<database>", 1, createCollection); err != want {
			t.Fatalf("unexpected error: got %v, want %v", err, want)
		}

		in.BeforeUpgrade(nil)

		c, err := e.Open(t.Context(), "<database>", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if c.HasCollection("<collection>") {
			t.Fatal("did not expect collection to exist")
		}
	})

	t.Run("it invokes the BeforePut function", func(t *testing.T) {
		t.Parallel()

		e, in := setup()

		want := errors.New("<error>")
		in.BeforePut(func(string, string, []byte, []byte) error {
			return want
		})

		c, err := e.Open(t.Context(), "<database>", 1, createCollection)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		err = c.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>"))
		if err != want {
			t.Fatalf("unexpected error: got %v, want %v", err, want)
		}

		ok, err := c.Has(t.Context(), "<collection>", []byte("<key>"))
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("did not expect key to be set")
		}
	})

	t.Run("it invokes the AfterPut function", func(t *testing.T) {
		t.Parallel()

		e, in := setup()

		want := errors.New("<error>")
		in.AfterPut(func(db, coll string, k, v []byte) error {
			if db != "<database>" {
				t.Errorf("unexpected database: got %q, want %q", db, "<database>")
			}
			if coll != "<collection>" {
				t.Errorf("unexpected collection: got %q, want %q", coll, "<collection>")
			}
			return want
		})

		c, err := e.Open(t.Context(), "<database>", 1, createCollection)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		err = c.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>"))
		if err != want {
			t.Fatalf("unexpected error: got %v, want %v", err, want)
		}

		v, ok, err := c.Get(t.Context(), "<collection>", []byte("<key>"))
		if err != nil {
			t.Fatal(err)
		}

		if !ok || !bytes.Equal(v, []byte("<value>")) {
			t.Fatalf("unexpected value: got %q, want %q", string(v), "<value>")
		}
	})

	t.Run("it allows functions to be cleared", func(t *testing.T) {
		t.Parallel()

		e, in := setup()

		in.BeforeOpen(func(string, uint64) error {
			t.Fatal("unexpected call")
			return nil
		})

		in.BeforeUpgrade(func(string, uint64, uint64) error {
			t.Fatal("unexpected call")
			return nil
		})

		in.BeforePut(func(string, string, []byte, []byte) error {
			t.Fatal("unexpected call")
			return nil
		})

		in.AfterPut(func(string, string, []byte, []byte) error {
			t.Fatal("unexpected call")
			return nil
		})

		in.BeforeOpen(nil)
		in.BeforeUpgrade(nil)
		in.BeforePut(nil)
		in.AfterPut(nil)

		c, err := e.Open(t.Context(), "<database>", 1, createCollection)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if err := c.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}
	})
}
