package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/dogmatiq/storekit/internal/x/xtesting"
	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

// RunTests runs tests that confirm an [Engine] implementation behaves
// correctly.
func RunTests(
	t *testing.T,
	e Engine,
) {
	// open opens db at the given version, failing the test on error.
	open := func(t *testing.T, db string, version uint64, upgrade UpgradeFunc) Conn {
		t.Helper()

		c, err := e.Open(t.Context(), db, version, upgrade)
		if err != nil {
			t.Fatal(err)
		}

		return c
	}

	// closeConn closes c, failing the test on error.
	closeConn := func(t *testing.T, c Conn) {
		t.Helper()

		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}

	// setup returns a new database containing the given collections, and an
	// open connection to it. The connection is closed when the test ends.
	setup := func(t *testing.T, collections ...string) Conn {
		t.Helper()

		db := xtesting.UniqueName("database")

		c := open(
			t,
			db,
			1,
			func(_ context.Context, s Schema) error {
				for _, name := range collections {
					if err := s.CreateCollection(name); err != nil {
						return err
					}
				}
				return nil
			},
		)

		t.Cleanup(func() {
			if err := c.Close(); err != nil {
				t.Error(err)
			}
		})

		if c.Database() != db {
			t.Fatalf("unexpected database name: got %q, want %q", c.Database(), db)
		}

		return c
	}

	t.Run("Engine", func(t *testing.T) {
		t.Parallel()

		t.Run("Open", func(t *testing.T) {
			t.Parallel()

			t.Run("it creates a new database at version 1 if no version is specified", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				called := false

				c := open(
					t,
					db,
					0,
					func(_ context.Context, s Schema) error {
						called = true

						if s.OldVersion() != 0 {
							t.Errorf("unexpected old version: got %d, want 0", s.OldVersion())
						}

						if s.NewVersion() != 1 {
							t.Errorf("unexpected new version: got %d, want 1", s.NewVersion())
						}

						if s.Database() != db {
							t.Errorf("unexpected database name: got %q, want %q", s.Database(), db)
						}

						return nil
					},
				)
				defer closeConn(t, c)

				if !called {
					t.Fatal("expected upgrade function to be called")
				}

				if c.Version() != 1 {
					t.Fatalf("unexpected version: got %d, want 1", c.Version())
				}

				if got := c.Collections(); len(got) != 0 {
					t.Fatalf("unexpected collections: %q", got)
				}
			})

			t.Run("it opens an existing database at its stored version if no version is specified", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				closeConn(t, open(t, db, 3, nil))

				c := open(
					t,
					db,
					0,
					func(context.Context, Schema) error {
						t.Error("unexpected call to upgrade function")
						return nil
					},
				)
				defer closeConn(t, c)

				if c.Version() != 3 {
					t.Fatalf("unexpected version: got %d, want 3", c.Version())
				}
			})

			t.Run("it does not upgrade the database if the version is unchanged", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				closeConn(t, open(t, db, 2, nil))

				c := open(
					t,
					db,
					2,
					func(context.Context, Schema) error {
						t.Error("unexpected call to upgrade function")
						return nil
					},
				)
				defer closeConn(t, c)

				if c.Version() != 2 {
					t.Fatalf("unexpected version: got %d, want 2", c.Version())
				}
			})

			t.Run("it upgrades the database if the version is greater than the stored version", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				closeConn(t, open(t, db, 1, nil))

				c := open(
					t,
					db,
					2,
					func(_ context.Context, s Schema) error {
						if s.OldVersion() != 1 {
							t.Errorf("unexpected old version: got %d, want 1", s.OldVersion())
						}

						if s.NewVersion() != 2 {
							t.Errorf("unexpected new version: got %d, want 2", s.NewVersion())
						}

						if s.HasCollection("<collection>") {
							t.Error("did not expect collection to exist yet")
						}

						if err := s.CreateCollection("<collection>"); err != nil {
							return err
						}

						if !s.HasCollection("<collection>") {
							t.Error("expected collection to exist after creation")
						}

						return nil
					},
				)
				defer closeConn(t, c)

				if c.Version() != 2 {
					t.Fatalf("unexpected version: got %d, want 2", c.Version())
				}

				if !c.HasCollection("<collection>") {
					t.Fatal("expected collection to exist")
				}
			})

			t.Run("it returns a VersionError if the version is less than the stored version", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				closeConn(t, open(t, db, 5, nil))

				c, err := e.Open(t.Context(), db, 4, nil)
				if err == nil {
					c.Close()
					t.Fatal("expected an error")
				}

				var verr VersionError
				if !errors.As(err, &verr) {
					t.Fatalf("unexpected error: %s", err)
				}

				if verr.Requested != 4 || verr.Stored != 5 {
					t.Fatalf("unexpected versions in error: got %d/%d, want 4/5", verr.Requested, verr.Stored)
				}
			})

			t.Run("it rolls back the upgrade if the upgrade function fails", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				closeConn(
					t,
					open(
						t,
						db,
						1,
						func(_ context.Context, s Schema) error {
							return s.CreateCollection("<existing>")
						},
					),
				)

				want := errors.New("<error>")

				_, err := e.Open(
					t.Context(),
					db,
					2,
					func(_ context.Context, s Schema) error {
						if err := s.CreateCollection("<new>"); err != nil {
							return err
						}
						return want
					},
				)
				if !errors.Is(err, want) {
					t.Fatalf("unexpected error: got %v, want %v", err, want)
				}

				c := open(t, db, 0, nil)
				defer closeConn(t, c)

				if c.Version() != 1 {
					t.Fatalf("unexpected version: got %d, want 1", c.Version())
				}

				if diff := cmp.Diff([]string{"<existing>"}, c.Collections()); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it does not create a new database if the upgrade function fails", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				want := errors.New("<error>")

				_, err := e.Open(
					t.Context(),
					db,
					3,
					func(context.Context, Schema) error {
						return want
					},
				)
				if !errors.Is(err, want) {
					t.Fatalf("unexpected error: got %v, want %v", err, want)
				}

				called := false
				c := open(
					t,
					db,
					0,
					func(_ context.Context, s Schema) error {
						called = true
						if s.OldVersion() != 0 {
							t.Errorf("unexpected old version: got %d, want 0", s.OldVersion())
						}
						return nil
					},
				)
				defer closeConn(t, c)

				if !called {
					t.Fatal("expected the database to be created anew")
				}

				if c.Version() != 1 {
					t.Fatalf("unexpected version: got %d, want 1", c.Version())
				}
			})

			t.Run("it returns a CollectionExistsError if the collection already exists", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")
				closeConn(
					t,
					open(
						t,
						db,
						1,
						func(_ context.Context, s Schema) error {
							return s.CreateCollection("<collection>")
						},
					),
				)

				_, err := e.Open(
					t.Context(),
					db,
					2,
					func(_ context.Context, s Schema) error {
						return s.CreateCollection("<collection>")
					},
				)
				if !IsCollectionExists(err) {
					t.Fatalf("unexpected error: %v", err)
				}
			})

			t.Run("it does not allow collections with empty names", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")

				_, err := e.Open(
					t.Context(),
					db,
					1,
					func(_ context.Context, s Schema) error {
						return s.CreateCollection("")
					},
				)
				if err == nil {
					t.Fatal("expected an error")
				}
			})

			t.Run("it lists collections in lexical order", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<c>", "<a>", "<b>")

				if diff := cmp.Diff([]string{"<a>", "<b>", "<c>"}, c.Collections()); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it retains data across connections and upgrades", func(t *testing.T) {
				t.Parallel()

				db := xtesting.UniqueName("database")

				c := open(
					t,
					db,
					1,
					func(_ context.Context, s Schema) error {
						return s.CreateCollection("<first>")
					},
				)

				if err := c.Put(t.Context(), "<first>", []byte("<key>"), []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				closeConn(t, c)

				c = open(
					t,
					db,
					2,
					func(_ context.Context, s Schema) error {
						return s.CreateCollection("<second>")
					},
				)
				defer closeConn(t, c)

				if diff := cmp.Diff([]string{"<first>", "<second>"}, c.Collections()); diff != "" {
					t.Fatal(diff)
				}

				v, ok, err := c.Get(t.Context(), "<first>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}
				if !bytes.Equal(v, []byte("<value>")) {
					t.Fatalf("unexpected value: got %q, want %q", v, "<value>")
				}
			})

			t.Run("it isolates databases from each other", func(t *testing.T) {
				t.Parallel()

				a := setup(t, "<collection>")
				b := setup(t)

				if err := a.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				if b.HasCollection("<collection>") {
					t.Fatal("did not expect collection to exist in the other database")
				}
			})
		})
	})

	t.Run("Conn", func(t *testing.T) {
		t.Parallel()

		t.Run("Get", func(t *testing.T) {
			t.Parallel()

			t.Run("it returns false if the key doesn't exist", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				v, ok, err := c.Get(t.Context(), "<collection>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("did not expect key to be present")
				}
				if len(v) != 0 {
					t.Fatal("expected zero-length value")
				}
			})

			t.Run("it returns the value if the key exists", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				for i := range 5 {
					k := fmt.Appendf(nil, "<key-%d>", i)
					v := fmt.Appendf(nil, "<value-%d>", i)

					if err := c.Put(t.Context(), "<collection>", k, v); err != nil {
						t.Fatal(err)
					}
				}

				for i := range 5 {
					k := fmt.Appendf(nil, "<key-%d>", i)
					want := fmt.Appendf(nil, "<value-%d>", i)

					got, ok, err := c.Get(t.Context(), "<collection>", k)
					if err != nil {
						t.Fatal(err)
					}
					if !ok {
						t.Fatalf("expected key %q to be present", k)
					}
					if !bytes.Equal(got, want) {
						t.Fatalf("unexpected value: got %q, want %q", got, want)
					}
				}
			})

			t.Run("it distinguishes an empty value from a missing key", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				if err := c.Put(t.Context(), "<collection>", []byte("<key>"), []byte{}); err != nil {
					t.Fatal(err)
				}

				v, ok, err := c.Get(t.Context(), "<collection>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}
				if len(v) != 0 {
					t.Fatalf("unexpected value: %q", v)
				}
			})

			t.Run("it does not return its internal byte slice", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")
				k := []byte("<key>")

				if err := c.Put(t.Context(), "<collection>", k, []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				v, _, err := c.Get(t.Context(), "<collection>", k)
				if err != nil {
					t.Fatal(err)
				}

				v[0] = 'X'

				got, _, err := c.Get(t.Context(), "<collection>", k)
				if err != nil {
					t.Fatal(err)
				}

				if want := []byte("<value>"); !bytes.Equal(got, want) {
					t.Fatalf("unexpected value: got %q, want %q", got, want)
				}
			})

			t.Run("it returns a CollectionNotFoundError if the collection does not exist", func(t *testing.T) {
				t.Parallel()

				c := setup(t)

				_, _, err := c.Get(t.Context(), "<collection>", []byte("<key>"))
				if !IsCollectionNotFound(err) {
					t.Fatalf("unexpected error: %v", err)
				}
			})
		})

		t.Run("Has", func(t *testing.T) {
			t.Parallel()

			t.Run("it returns true if the key exists", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				if err := c.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				ok, err := c.Has(t.Context(), "<collection>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatal("expected key to be present")
				}
			})

			t.Run("it returns false if the key does not exist", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				ok, err := c.Has(t.Context(), "<collection>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("did not expect key to be present")
				}
			})

			t.Run("it returns a CollectionNotFoundError if the collection does not exist", func(t *testing.T) {
				t.Parallel()

				c := setup(t)

				_, err := c.Has(t.Context(), "<collection>", []byte("<key>"))
				if !IsCollectionNotFound(err) {
					t.Fatalf("unexpected error: %v", err)
				}
			})
		})

		t.Run("Put", func(t *testing.T) {
			t.Parallel()

			t.Run("it replaces the existing value", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")
				k := []byte("<key>")

				if err := c.Put(t.Context(), "<collection>", k, []byte("<value-1>")); err != nil {
					t.Fatal(err)
				}

				if err := c.Put(t.Context(), "<collection>", k, []byte("<value-2>")); err != nil {
					t.Fatal(err)
				}

				got, _, err := c.Get(t.Context(), "<collection>", k)
				if err != nil {
					t.Fatal(err)
				}

				if want := []byte("<value-2>"); !bytes.Equal(got, want) {
					t.Fatalf("unexpected value: got %q, want %q", got, want)
				}
			})

			t.Run("it does not allow empty keys", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				if err := c.Put(t.Context(), "<collection>", nil, []byte("<value>")); err == nil {
					t.Fatal("expected an error")
				}

				keys, err := c.GetAllKeys(t.Context(), "<collection>")
				if err != nil {
					t.Fatal(err)
				}

				if len(keys) != 0 {
					t.Fatalf("unexpected keys: %q", keys)
				}
			})

			t.Run("it does not keep a reference to the key or value slices", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				k := []byte("<key>")
				v := []byte("<value>")

				if err := c.Put(t.Context(), "<collection>", k, v); err != nil {
					t.Fatal(err)
				}

				k[0] = 'X'
				v[0] = 'X'

				ok, err := c.Has(t.Context(), "<collection>", k)
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatalf("unexpected key: %q", k)
				}

				got, _, err := c.Get(t.Context(), "<collection>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}

				if want := []byte("<value>"); !bytes.Equal(got, want) {
					t.Fatalf("unexpected value: got %q, want %q", got, want)
				}
			})

			t.Run("it isolates collections from each other", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<a>", "<b>")

				if err := c.Put(t.Context(), "<a>", []byte("<key>"), []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				ok, err := c.Has(t.Context(), "<b>", []byte("<key>"))
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("did not expect key to be present in the other collection")
				}
			})

			t.Run("it returns a CollectionNotFoundError if the collection does not exist", func(t *testing.T) {
				t.Parallel()

				c := setup(t)

				err := c.Put(t.Context(), "<collection>", []byte("<key>"), []byte("<value>"))
				if !IsCollectionNotFound(err) {
					t.Fatalf("unexpected error: %v", err)
				}
			})
		})

		t.Run("Delete", func(t *testing.T) {
			t.Parallel()

			t.Run("it removes the key", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")
				k := []byte("<key>")

				if err := c.Put(t.Context(), "<collection>", k, []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				if err := c.Delete(t.Context(), "<collection>", k); err != nil {
					t.Fatal(err)
				}

				_, ok, err := c.Get(t.Context(), "<collection>", k)
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("did not expect key to be present")
				}
			})

			t.Run("it does nothing if the key does not exist", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				if err := c.Delete(t.Context(), "<collection>", []byte("<key>")); err != nil {
					t.Fatal(err)
				}
			})
		})

		t.Run("Clear", func(t *testing.T) {
			t.Parallel()

			t.Run("it removes all keys from the collection", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>", "<other>")

				for i := range 3 {
					k := fmt.Appendf(nil, "<key-%d>", i)

					if err := c.Put(t.Context(), "<collection>", k, []byte("<value>")); err != nil {
						t.Fatal(err)
					}

					if err := c.Put(t.Context(), "<other>", k, []byte("<value>")); err != nil {
						t.Fatal(err)
					}
				}

				if err := c.Clear(t.Context(), "<collection>"); err != nil {
					t.Fatal(err)
				}

				keys, err := c.GetAllKeys(t.Context(), "<collection>")
				if err != nil {
					t.Fatal(err)
				}
				if len(keys) != 0 {
					t.Fatalf("unexpected keys: %q", keys)
				}

				keys, err = c.GetAllKeys(t.Context(), "<other>")
				if err != nil {
					t.Fatal(err)
				}
				if len(keys) != 3 {
					t.Fatalf("expected the other collection to retain its keys, got %q", keys)
				}

				if !c.HasCollection("<collection>") {
					t.Fatal("expected the cleared collection to still exist")
				}
			})
		})

		t.Run("GetAll and GetAllKeys", func(t *testing.T) {
			t.Parallel()

			t.Run("they return empty results for an empty collection", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				keys, err := c.GetAllKeys(t.Context(), "<collection>")
				if err != nil {
					t.Fatal(err)
				}
				if len(keys) != 0 {
					t.Fatalf("unexpected keys: %q", keys)
				}

				values, err := c.GetAll(t.Context(), "<collection>")
				if err != nil {
					t.Fatal(err)
				}
				if len(values) != 0 {
					t.Fatalf("unexpected values: %q", values)
				}
			})

			t.Run("they return entries in bytewise key order", func(t *testing.T) {
				t.Parallel()

				c := setup(t, "<collection>")

				rapid.Check(t, func(rt *rapid.T) {
					if err := c.Clear(t.Context(), "<collection>"); err != nil {
						rt.Fatal(err)
					}

					keys := rapid.SliceOfNDistinct(
						rapid.SliceOfN(rapid.Byte(), 1, 8),
						0,
						16,
						func(k []byte) string { return string(k) },
					).Draw(rt, "keys")

					values := map[string][]byte{}
					for _, k := range keys {
						v := rapid.SliceOfN(rapid.Byte(), 0, 8).Draw(rt, "value")
						values[string(k)] = v

						if err := c.Put(t.Context(), "<collection>", k, v); err != nil {
							rt.Fatal(err)
						}
					}

					want := slices.Clone(keys)
					slices.SortFunc(want, bytes.Compare)

					gotKeys, err := c.GetAllKeys(t.Context(), "<collection>")
					if err != nil {
						rt.Fatal(err)
					}

					gotValues, err := c.GetAll(t.Context(), "<collection>")
					if err != nil {
						rt.Fatal(err)
					}

					if len(gotKeys) != len(want) || len(gotValues) != len(want) {
						rt.Fatalf(
							"unexpected number of entries: got %d keys and %d values, want %d",
							len(gotKeys),
							len(gotValues),
							len(want),
						)
					}

					for i, k := range want {
						if !bytes.Equal(gotKeys[i], k) {
							rt.Fatalf("unexpected key at index %d: got %q, want %q", i, gotKeys[i], k)
						}

						if !bytes.Equal(gotValues[i], values[string(k)]) {
							rt.Fatalf("unexpected value at index %d: got %q, want %q", i, gotValues[i], values[string(k)])
						}
					}
				})
			})
		})
	})
}
