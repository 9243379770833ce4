package store_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	"github.com/dogmatiq/storekit/engine"
	. "github.com/dogmatiq/storekit/store"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestHandle(t *testing.T) {
	t.Parallel()

	setup := func() *Handle {
		return NewTracker(&memoryengine.Engine{}).Handle("<database>", "<collection>")
	}

	t.Run("it exposes the database and collection names", func(t *testing.T) {
		t.Parallel()

		h := setup()

		if h.Database() != "<database>" {
			t.Fatalf("unexpected database: got %q, want %q", h.Database(), "<database>")
		}

		if h.Collection() != "<collection>" {
			t.Fatalf("unexpected collection: got %q, want %q", h.Collection(), "<collection>")
		}
	})

	t.Run("func Save()", func(t *testing.T) {
		t.Parallel()

		t.Run("it returns the key that was written", func(t *testing.T) {
			t.Parallel()

			got, err := setup().Save(t.Context(), []byte("<key>"), []byte("<value>"))
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff([]byte("<key>"), got); diff != "" {
				t.Fatalf("unexpected key (-want +got):\n%s", diff)
			}
		})

		t.Run("it replaces an existing value", func(t *testing.T) {
			t.Parallel()

			h := setup()

			if _, err := h.Save(t.Context(), []byte("<key>"), []byte("<value-1>")); err != nil {
				t.Fatal(err)
			}

			if _, err := h.Save(t.Context(), []byte("<key>"), []byte("<value-2>")); err != nil {
				t.Fatal(err)
			}

			v, ok, err := h.Get(t.Context(), []byte("<key>"))
			if err != nil {
				t.Fatal(err)
			}

			if !ok || string(v) != "<value-2>" {
				t.Fatalf("unexpected value: got %q, want %q", v, "<value-2>")
			}
		})
	})

	t.Run("func Get()", func(t *testing.T) {
		t.Parallel()

		t.Run("it reports a missing key as absent", func(t *testing.T) {
			t.Parallel()

			v, ok, err := setup().Get(t.Context(), []byte("<key>"))
			if err != nil {
				t.Fatal(err)
			}

			if ok {
				t.Fatalf("expected key to be absent, got %q", v)
			}
		})

		t.Run("it round-trips values", func(t *testing.T) {
			t.Parallel()

			h := setup()

			rapid.Check(t, func(t *rapid.T) {
				k := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "key")
				v := rapid.SliceOf(rapid.Byte()).Draw(t, "value")

				if _, err := h.Save(context.Background(), k, v); err != nil {
					t.Fatal(err)
				}

				got, ok, err := h.Get(context.Background(), k)
				if err != nil {
					t.Fatal(err)
				}

				if !ok {
					t.Fatal("expected key to be present")
				}

				if !bytes.Equal(got, v) {
					t.Fatalf("unexpected value: got %x, want %x", got, v)
				}

				if err := h.Delete(context.Background(), k); err != nil {
					t.Fatal(err)
				}

				_, ok, err = h.Get(context.Background(), k)
				if err != nil {
					t.Fatal(err)
				}

				if ok {
					t.Fatal("expected key to be absent after deletion")
				}
			})
		})
	})

	t.Run("func Delete()", func(t *testing.T) {
		t.Parallel()

		t.Run("it does not return an error if the key is not present", func(t *testing.T) {
			t.Parallel()

			if err := setup().Delete(t.Context(), []byte("<key>")); err != nil {
				t.Fatal(err)
			}
		})
	})

	t.Run("func Clear()", func(t *testing.T) {
		t.Parallel()

		t.Run("it removes all keys and values", func(t *testing.T) {
			t.Parallel()

			h := setup()

			rapid.Check(t, func(t *rapid.T) {
				keys := rapid.SliceOfNDistinct(
					rapid.SliceOfN(rapid.Byte(), 1, 8),
					0, 10,
					func(k []byte) string { return string(k) },
				).Draw(t, "keys")

				for _, k := range keys {
					if _, err := h.Save(context.Background(), k, []byte("<value>")); err != nil {
						t.Fatal(err)
					}
				}

				if err := h.Clear(context.Background()); err != nil {
					t.Fatal(err)
				}

				got, err := h.Keys(context.Background())
				if err != nil {
					t.Fatal(err)
				}

				if len(got) != 0 {
					t.Fatalf("unexpected keys after clear: %q", got)
				}

				values, err := h.Values(context.Background())
				if err != nil {
					t.Fatal(err)
				}

				if len(values) != 0 {
					t.Fatalf("unexpected values after clear: %q", values)
				}
			})
		})
	})

	t.Run("func Keys() and func Values()", func(t *testing.T) {
		t.Parallel()

		t.Run("it returns entries in key order", func(t *testing.T) {
			t.Parallel()

			h := setup()

			for _, k := range []string{"c", "a", "b"} {
				if _, err := h.Save(t.Context(), []byte(k), []byte("<"+k+">")); err != nil {
					t.Fatal(err)
				}
			}

			keys, err := h.Keys(t.Context())
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff([][]byte{[]byte("a"), []byte("b"), []byte("c")}, keys); diff != "" {
				t.Fatalf("unexpected keys (-want +got):\n%s", diff)
			}

			values, err := h.Values(t.Context())
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff([][]byte{[]byte("<a>"), []byte("<b>"), []byte("<c>")}, values); diff != "" {
				t.Fatalf("unexpected values (-want +got):\n%s", diff)
			}
		})
	})

	t.Run("func Exists()", func(t *testing.T) {
		t.Parallel()

		t.Run("it is consistent with the keys in the collection", func(t *testing.T) {
			t.Parallel()

			h := setup()

			rapid.Check(t, func(t *rapid.T) {
				k := rapid.SliceOfN(rapid.Byte(), 1, 2).Draw(t, "key")

				switch rapid.IntRange(0, 2).Draw(t, "action") {
				case 0:
					if _, err := h.Save(context.Background(), k, nil); err != nil {
						t.Fatal(err)
					}
				case 1:
					if err := h.Delete(context.Background(), k); err != nil {
						t.Fatal(err)
					}
				}

				probe := rapid.SliceOfN(rapid.Byte(), 1, 2).Draw(t, "probe")

				exists, err := h.Exists(context.Background(), probe)
				if err != nil {
					t.Fatal(err)
				}

				keys, err := h.Keys(context.Background())
				if err != nil {
					t.Fatal(err)
				}

				listed := slices.ContainsFunc(keys, func(x []byte) bool {
					return bytes.Equal(x, probe)
				})

				if exists != listed {
					t.Fatalf("Exists() returned %t, but the key listing says %t", exists, listed)
				}
			})
		})
	})

	t.Run("it returns the error from closing the connection", func(t *testing.T) {
		t.Parallel()

		want := errors.New("<error>")
		h := NewTracker(
			&closeErrorEngine{&memoryengine.Engine{}, want},
		).Handle("<database>", "<collection>")

		if _, err := h.Save(t.Context(), []byte("<key>"), []byte("<value>")); !errors.Is(err, want) {
			t.Fatalf("unexpected error: got %v, want %v", err, want)
		}
	})
}

// closeErrorEngine is an [engine.Engine] whose connections return an error
// when they are closed after a key/value pair has been put.
type closeErrorEngine struct {
	engine.Engine
	err error
}

func (e *closeErrorEngine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade engine.UpgradeFunc,
) (engine.Conn, error) {
	c, err := e.Engine.Open(ctx, name, version, upgrade)
	if err != nil {
		return nil, err
	}
	return &closeErrorConn{Conn: c, err: e.err}, nil
}

type closeErrorConn struct {
	engine.Conn
	err error
	put bool
}

func (c *closeErrorConn) Put(ctx context.Context, coll string, k, v []byte) error {
	c.put = true
	return c.Conn.Put(ctx, coll, k, v)
}

func (c *closeErrorConn) Close() error {
	if err := c.Conn.Close(); err != nil {
		return err
	}
	if c.put {
		return c.err
	}
	return nil
}
