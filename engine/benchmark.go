package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/dogmatiq/storekit/internal/x/xtesting"
)

// RunBenchmarks runs benchmarks against an [Engine] implementation.
func RunBenchmarks(
	b *testing.B,
	e Engine,
) {
	const collection = "<collection>"

	// setup creates a database containing a single collection.
	setup := func(ctx context.Context) (string, error) {
		db := xtesting.UniqueName("database")

		c, err := e.Open(
			ctx,
			db,
			1,
			func(_ context.Context, s Schema) error {
				return s.CreateCollection(collection)
			},
		)
		if err != nil {
			return "", err
		}

		return db, c.Close()
	}

	b.Run("Engine", func(b *testing.B) {
		b.Run("Open", func(b *testing.B) {
			b.Run("existing version", func(b *testing.B) {
				var (
					db string
					c  Conn
				)

				xtesting.Benchmark(
					b,
					// SETUP
					func(ctx context.Context) (err error) {
						db, err = setup(ctx)
						return err
					},
					// BEFORE EACH
					nil,
					// BENCHMARKED CODE
					func(ctx context.Context) (err error) {
						c, err = e.Open(ctx, db, 0, nil)
						return err
					},
					// AFTER EACH
					func(context.Context) error {
						return c.Close()
					},
					// TEARDOWN
					nil,
				)
			})

			b.Run("new collection", func(b *testing.B) {
				var (
					db      string
					version uint64
					c       Conn
				)

				xtesting.Benchmark(
					b,
					// SETUP
					func(ctx context.Context) (err error) {
						db, err = setup(ctx)
						version = 1
						return err
					},
					// BEFORE EACH
					func(context.Context) error {
						version++
						return nil
					},
					// BENCHMARKED CODE
					func(ctx context.Context) (err error) {
						c, err = e.Open(
							ctx,
							db,
							version,
							func(_ context.Context, s Schema) error {
								return s.CreateCollection(fmt.Sprintf("<collection-%d>", version))
							},
						)
						return err
					},
					// AFTER EACH
					func(context.Context) error {
						return c.Close()
					},
					// TEARDOWN
					nil,
				)
			})
		})
	})

	b.Run("Conn", func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			var (
				c     Conn
				key   [16]byte
				value [64]byte
			)

			xtesting.Benchmark(
				b,
				// SETUP
				func(ctx context.Context) error {
					db, err := setup(ctx)
					if err != nil {
						return err
					}

					c, err = e.Open(ctx, db, 0, nil)
					if err != nil {
						return err
					}

					return nil
				},
				// BEFORE EACH
				func(context.Context) error {
					rand.Read(key[:])
					rand.Read(value[:])
					return nil
				},
				// BENCHMARKED CODE
				func(ctx context.Context) error {
					return c.Put(ctx, collection, key[:], value[:])
				},
				// AFTER EACH
				nil,
				// TEARDOWN
				func(context.Context) error {
					return c.Close()
				},
			)
		})

		b.Run("Get", func(b *testing.B) {
			var c Conn
			key := []byte("<key>")

			xtesting.Benchmark(
				b,
				// SETUP
				func(ctx context.Context) error {
					db, err := setup(ctx)
					if err != nil {
						return err
					}

					c, err = e.Open(ctx, db, 0, nil)
					if err != nil {
						return err
					}

					return c.Put(ctx, collection, key, []byte("<value>"))
				},
				// BEFORE EACH
				nil,
				// BENCHMARKED CODE
				func(ctx context.Context) error {
					_, _, err := c.Get(ctx, collection, key)
					return err
				},
				// AFTER EACH
				nil,
				// TEARDOWN
				func(context.Context) error {
					return c.Close()
				},
			)
		})
	})
}
