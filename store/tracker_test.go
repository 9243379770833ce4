package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dogmatiq/storekit/driver/memory/memoryengine"
	"github.com/dogmatiq/storekit/engine"
	. "github.com/dogmatiq/storekit/store"
	"github.com/google/go-cmp/cmp"
	nooplog "go.opentelemetry.io/otel/log/noop"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"pgregory.net/rapid"
)

// countUpgrades returns an engine that counts the upgrade transactions
// performed on e.
func countUpgrades(e engine.Engine) (engine.Engine, *atomic.Int64) {
	var (
		in    engine.Interceptor
		count atomic.Int64
	)

	in.BeforeUpgrade(func(string, uint64, uint64) error {
		count.Add(1)
		return nil
	})

	return engine.WithInterceptor(e, &in), &count
}

func expectVersion(t testing.TB, tr *Tracker, db string, want uint64) {
	t.Helper()

	got, ok := tr.Version(db)
	if !ok {
		t.Fatalf("expected the version of the %q database to be known", db)
	}

	if got != want {
		t.Fatalf("unexpected version of the %q database: got %d, want %d", db, got, want)
	}
}

func TestTracker(t *testing.T) {
	t.Parallel()

	t.Run("scenario: first write to a new database", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(&memoryengine.Engine{})
		h := tr.Handle("app-db", "users")

		if _, err := h.Save(t.Context(), []byte("u1"), []byte(`{"name":"Ann"}`)); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 2)

		v, ok, err := h.Get(t.Context(), []byte("u1"))
		if err != nil {
			t.Fatal(err)
		}

		if !ok {
			t.Fatal("expected key to be present")
		}

		if diff := cmp.Diff(`{"name":"Ann"}`, string(v)); diff != "" {
			t.Fatalf("unexpected value (-want +got):\n%s", diff)
		}
	})

	t.Run("scenario: second collection in the same database", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(&memoryengine.Engine{})

		if _, err := tr.Handle("app-db", "users").Save(t.Context(), []byte("u1"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 2)

		if _, err := tr.Handle("app-db", "sessions").Save(t.Context(), []byte("s1"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 3)

		got, err := tr.Collections(t.Context(), "app-db")
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]string{"sessions", "users"}, got); diff != "" {
			t.Fatalf("unexpected collections (-want +got):\n%s", diff)
		}
	})

	t.Run("scenario: concurrent creation of different collections", func(t *testing.T) {
		t.Parallel()

		e, upgrades := countUpgrades(&memoryengine.Engine{})
		tr := NewTracker(e)

		const n = 10
		var g sync.WaitGroup

		for i := range n {
			h := tr.Handle("app-db", fmt.Sprintf("<collection-%d>", i))

			g.Add(1)
			go func() {
				defer g.Done()
				if _, err := h.Save(t.Context(), []byte("<key>"), []byte("<value>")); err != nil {
					t.Error(err)
				}
			}()
		}

		g.Wait()

		expectVersion(t, tr, "app-db", n+1)

		// One upgrade creates the database, then one per collection.
		if got := upgrades.Load(); got != n+1 {
			t.Fatalf("unexpected number of upgrades: got %d, want %d", got, n+1)
		}
	})

	t.Run("it creates a collection exactly once when it is used concurrently", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(&memoryengine.Engine{})

		const n = 10
		var g sync.WaitGroup

		for i := range n {
			g.Add(1)
			go func() {
				defer g.Done()
				k := fmt.Appendf(nil, "<key-%d>", i)
				if _, err := tr.Handle("app-db", "users").Save(t.Context(), k, []byte("<value>")); err != nil {
					t.Error(err)
				}
			}()
		}

		g.Wait()

		expectVersion(t, tr, "app-db", 2)

		keys, err := tr.Handle("app-db", "users").Keys(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		if len(keys) != n {
			t.Fatalf("unexpected number of keys: got %d, want %d", len(keys), n)
		}
	})

	t.Run("it does not create a collection again once it exists", func(t *testing.T) {
		t.Parallel()

		e, upgrades := countUpgrades(&memoryengine.Engine{})
		tr := NewTracker(e)
		h := tr.Handle("app-db", "users")

		if _, err := h.Save(t.Context(), []byte("<key>"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		before := upgrades.Load()

		if _, err := h.Keys(t.Context()); err != nil {
			t.Fatal(err)
		}

		if _, err := tr.Handle("app-db", "users").Exists(t.Context(), []byte("<key>")); err != nil {
			t.Fatal(err)
		}

		if err := h.Clear(t.Context()); err != nil {
			t.Fatal(err)
		}

		if got := upgrades.Load(); got != before {
			t.Fatalf("unexpected upgrade: got %d upgrades, want %d", got, before)
		}

		expectVersion(t, tr, "app-db", 2)
	})

	t.Run("it tracks versions separately for each database", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(&memoryengine.Engine{})

		for _, c := range []string{"a", "b", "c"} {
			if err := tr.Handle("<db-1>", c).Clear(t.Context()); err != nil {
				t.Fatal(err)
			}
		}

		if err := tr.Handle("<db-2>", "a").Clear(t.Context()); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "<db-1>", 4)
		expectVersion(t, tr, "<db-2>", 2)
	})

	t.Run("it uses the existing version of the database", func(t *testing.T) {
		t.Parallel()

		e := &memoryengine.Engine{}

		c, err := e.Open(
			t.Context(),
			"app-db",
			5,
			func(_ context.Context, s engine.Schema) error {
				return s.CreateCollection("users")
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}

		tr := NewTracker(e)

		if _, err := tr.Handle("app-db", "users").Keys(t.Context()); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 5)

		if _, err := tr.Handle("app-db", "sessions").Keys(t.Context()); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 6)
	})

	t.Run("it never observes a lower version after a restart", func(t *testing.T) {
		t.Parallel()

		rapid.Check(t, func(t *rapid.T) {
			e := &memoryengine.Engine{}
			tr := NewTracker(e)

			var previous uint64

			n := rapid.IntRange(1, 20).Draw(t, "operations")
			for range n {
				if rapid.Bool().Draw(t, "restart") {
					tr = NewTracker(e)
				}

				coll := rapid.SampledFrom([]string{"a", "b", "c", "d"}).Draw(t, "collection")

				if _, err := tr.Handle("app-db", coll).Keys(context.Background()); err != nil {
					t.Fatal(err)
				}

				v, ok := tr.Version("app-db")
				if !ok {
					t.Fatal("expected the version to be known")
				}

				if v < previous {
					t.Fatalf("version decreased from %d to %d", previous, v)
				}

				previous = v
			}
		})
	})

	t.Run("it waits for stale connections to be closed before creating a collection", func(t *testing.T) {
		t.Parallel()

		e := &memoryengine.Engine{}
		tr := NewTracker(e)

		if err := tr.Probe(t.Context(), "app-db"); err != nil {
			t.Fatal(err)
		}

		stale, err := e.Open(t.Context(), "app-db", 0, nil)
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()

		_, err = tr.Handle("app-db", "users").Save(ctx, []byte("<key>"), []byte("<value>"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("unexpected error: got %v, want %v", err, context.DeadlineExceeded)
		}

		expectVersion(t, tr, "app-db", 1)

		if err := stale.Close(); err != nil {
			t.Fatal(err)
		}

		if _, err := tr.Handle("app-db", "users").Save(t.Context(), []byte("<key>"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 2)
	})

	t.Run("it returns engine errors unchanged", func(t *testing.T) {
		t.Parallel()

		e := &memoryengine.Engine{}

		stale := NewTracker(e)
		if err := stale.Probe(t.Context(), "app-db"); err != nil {
			t.Fatal(err)
		}

		if err := NewTracker(e).Handle("app-db", "users").Clear(t.Context()); err != nil {
			t.Fatal(err)
		}

		err := stale.Handle("app-db", "users").Clear(t.Context())
		if !engine.IsVersionError(err) {
			t.Fatalf("unexpected error: got %v, want a version error", err)
		}
	})

	t.Run("it supports telemetry", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(
			&memoryengine.Engine{},
			WithTelemetry(
				nooptrace.NewTracerProvider(),
				noopmetric.NewMeterProvider(),
				nooplog.NewLoggerProvider(),
			),
		)

		if _, err := tr.Handle("app-db", "users").Save(t.Context(), []byte("<key>"), []byte("<value>")); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 2)
	})
}

func TestTracker_Probe(t *testing.T) {
	t.Parallel()

	t.Run("it records the version of a new database", func(t *testing.T) {
		t.Parallel()

		tr := NewTracker(&memoryengine.Engine{})

		if _, ok := tr.Version("app-db"); ok {
			t.Fatal("did not expect the version to be known before the probe")
		}

		if err := tr.Probe(t.Context(), "app-db"); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 1)
	})

	t.Run("it does not create any collections", func(t *testing.T) {
		t.Parallel()

		e := &memoryengine.Engine{}
		tr := NewTracker(e)

		if err := tr.Probe(t.Context(), "app-db"); err != nil {
			t.Fatal(err)
		}

		c, err := e.Open(t.Context(), "app-db", 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		if got := c.Collections(); len(got) != 0 {
			t.Fatalf("unexpected collections: %v", got)
		}
	})

	t.Run("it is launched when the first handle is created", func(t *testing.T) {
		t.Parallel()

		var (
			in     engine.Interceptor
			opened = make(chan struct{}, 1)
		)

		in.BeforeOpen(func(db string, version uint64) error {
			if version == 0 {
				select {
				case opened <- struct{}{}:
				default:
				}
			}
			return nil
		})

		tr := NewTracker(engine.WithInterceptor(&memoryengine.Engine{}, &in))
		tr.Handle("app-db", "users")

		select {
		case <-opened:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for the probe")
		}
	})

	t.Run("it shares a single probe between concurrent callers", func(t *testing.T) {
		t.Parallel()

		var (
			in      engine.Interceptor
			opens   atomic.Int64
			release = make(chan struct{})
		)

		in.BeforeOpen(func(string, uint64) error {
			opens.Add(1)
			<-release
			return nil
		})

		tr := NewTracker(engine.WithInterceptor(&memoryengine.Engine{}, &in))

		const n = 10
		var started, done sync.WaitGroup

		for range n {
			started.Add(1)
			done.Add(1)
			go func() {
				defer done.Done()
				started.Done()
				if err := tr.Probe(t.Context(), "app-db"); err != nil {
					t.Error(err)
				}
			}()
		}

		started.Wait()
		time.Sleep(50 * time.Millisecond)
		close(release)
		done.Wait()

		if got := opens.Load(); got != 1 {
			t.Fatalf("unexpected number of opens: got %d, want 1", got)
		}

		expectVersion(t, tr, "app-db", 1)
	})

	t.Run("it retries a failed probe", func(t *testing.T) {
		t.Parallel()

		var in engine.Interceptor
		want := errors.New("<error>")

		in.BeforeOpen(func(string, uint64) error {
			return want
		})

		tr := NewTracker(engine.WithInterceptor(&memoryengine.Engine{}, &in))

		if err := tr.Probe(t.Context(), "app-db"); !errors.Is(err, want) {
			t.Fatalf("unexpected error: got %v, want %v", err, want)
		}

		if _, ok := tr.Version("app-db"); ok {
			t.Fatal("did not expect the version to be known after a failed probe")
		}

		in.BeforeOpen(nil)

		if err := tr.Probe(t.Context(), "app-db"); err != nil {
			t.Fatal(err)
		}

		expectVersion(t, tr, "app-db", 1)
	})

	t.Run("it returns when the context is canceled", func(t *testing.T) {
		t.Parallel()

		var in engine.Interceptor
		release := make(chan struct{})
		defer close(release)

		in.BeforeOpen(func(string, uint64) error {
			<-release
			return nil
		})

		tr := NewTracker(engine.WithInterceptor(&memoryengine.Engine{}, &in))

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()

		if err := tr.Probe(ctx, "app-db"); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("unexpected error: got %v, want %v", err, context.DeadlineExceeded)
		}
	})
}
