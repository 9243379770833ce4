package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
	"github.com/dogmatiq/storekit/internal/telemetry"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Tracker tracks the version of each database opened through an
// [engine.Engine], and creates collections on demand.
//
// A collection is created the first time it is used, by upgrading the database
// to the next version. Each new collection causes exactly one version bump,
// regardless of the number of concurrent callers.
type Tracker struct {
	engine    engine.Engine
	telemetry telemetry.Provider

	m         sync.Mutex
	databases map[string]*database
	probes    singleflight.Group

	telem   *telemetry.Recorder
	probed  telemetry.Instrument[int64]
	created telemetry.Instrument[int64]
	bumped  telemetry.Instrument[int64]
}

// TrackerOption is an option that changes the behavior of a [Tracker].
type TrackerOption func(*Tracker)

// WithTelemetry is a [TrackerOption] that configures the providers used to
// record traces, metrics and logs.
func WithTelemetry(
	p trace.TracerProvider,
	m metric.MeterProvider,
	l log.LoggerProvider,
) TrackerOption {
	return func(t *Tracker) {
		t.telemetry = telemetry.Provider{
			TracerProvider: p,
			MeterProvider:  m,
			LoggerProvider: l,
		}
	}
}

// NewTracker returns a new [Tracker] that opens databases using e.
func NewTracker(e engine.Engine, options ...TrackerOption) *Tracker {
	t := &Tracker{
		engine:    e,
		databases: map[string]*database{},
	}

	for _, opt := range options {
		opt(t)
	}

	t.telem = t.telemetry.Recorder(
		"github.com/dogmatiq/storekit/store",
		telemetry.Type("engine", e),
	)
	t.probed = t.telem.Counter("probes", "{probe}", "The number of database version probes that have completed.")
	t.created = t.telem.Counter("collections.created", "{collection}", "The number of collections that have been created on demand.")
	t.bumped = t.telem.Counter("versions.bumped", "{version}", "The number of times a database version has been incremented.")

	return t
}

// database is the state tracked for a single database name.
type database struct {
	name     string
	version  atomic.Uint64
	probed   atomic.Bool
	launched atomic.Bool

	// gate serializes collection creation. Creation takes exclusive access,
	// other opens share it.
	gate *enginex.Gate
}

// observe records v as the database's version if it is greater than the
// version already tracked.
func (d *database) observe(v uint64) {
	for {
		current := d.version.Load()
		if v <= current || d.version.CompareAndSwap(current, v) {
			return
		}
	}
}

func (t *Tracker) database(name string) *database {
	t.m.Lock()
	defer t.m.Unlock()

	d, ok := t.databases[name]
	if !ok {
		d = &database{
			name: name,
			gate: enginex.NewGate(),
		}
		t.databases[name] = d
	}

	return d
}

// Handle returns a [Handle] for the named collection within the named
// database.
//
// The first call for a given database launches a probe of its current version
// in the background. Operations on the handle wait for the probe to complete.
func (t *Tracker) Handle(db, collection string) *Handle {
	d := t.database(db)

	if !d.probed.Load() && d.launched.CompareAndSwap(false, true) {
		go func() {
			if err := t.Probe(context.Background(), db); err != nil {
				d.launched.Store(false)
			}
		}()
	}

	return &Handle{t, db, collection}
}

// Version returns the tracked version of the named database.
//
// ok is false if the database's version has not yet been probed.
func (t *Tracker) Version(db string) (version uint64, ok bool) {
	d := t.database(db)
	return d.version.Load(), d.probed.Load()
}

// Probe discovers the current version of the named database.
//
// It opens the database without requesting a specific version, so it never
// creates any collections, although the engine creates the database itself at
// version 1 if it does not yet exist.
//
// Concurrent calls share a single probe. Once a probe has succeeded subsequent
// calls return immediately. A failed probe is retried by the next call.
func (t *Tracker) Probe(ctx context.Context, db string) error {
	d := t.database(db)
	if d.probed.Load() {
		return nil
	}

	result := t.probes.DoChan(
		db,
		func() (any, error) {
			return nil, t.probe(context.WithoutCancel(ctx), d)
		},
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-result:
		return r.Err
	}
}

func (t *Tracker) probe(ctx context.Context, d *database) error {
	if d.probed.Load() {
		return nil
	}

	c, err := t.engine.Open(ctx, d.name, 0, nil)
	if err != nil {
		t.telem.Error(
			ctx,
			"database.probe.error",
			"unable to probe database version",
			err,
			telemetry.String("database.name", d.name),
		)
		return fmt.Errorf("unable to probe the version of the %q database: %w", d.name, err)
	}

	v := c.Version()

	if err := c.Close(); err != nil {
		return fmt.Errorf("unable to probe the version of the %q database: %w", d.name, err)
	}

	d.observe(v)
	d.probed.Store(true)

	t.probed(ctx, 1)
	t.telem.Info(
		ctx,
		"database.probe.ok",
		"probed database version",
		telemetry.String("database.name", d.name),
		telemetry.Int("version", v),
	)

	return nil
}

// Collections returns the names of the collections within the named database,
// in lexical order.
func (t *Tracker) Collections(ctx context.Context, db string) (_ []string, err error) {
	if err := t.Probe(ctx, db); err != nil {
		return nil, err
	}

	d := t.database(db)

	if err := d.gate.Enter(ctx); err != nil {
		return nil, err
	}
	defer d.gate.Leave()

	c, err := t.engine.Open(ctx, db, d.version.Load(), nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := c.Close(); err == nil {
			err = e
		}
	}()

	return c.Collections(), nil
}

// open returns a connection to db that contains the named collection, creating
// the collection if necessary.
func (t *Tracker) open(ctx context.Context, db, collection string) (engine.Conn, error) {
	if err := t.Probe(ctx, db); err != nil {
		return nil, err
	}

	d := t.database(db)

	c, err := t.openExisting(ctx, d, collection)
	if c != nil || err != nil {
		return c, err
	}

	return t.create(ctx, d, collection)
}

// openExisting opens d at its tracked version. It returns a nil connection if
// the collection does not exist at that version.
func (t *Tracker) openExisting(
	ctx context.Context,
	d *database,
	collection string,
) (engine.Conn, error) {
	if err := d.gate.Enter(ctx); err != nil {
		return nil, err
	}
	defer d.gate.Leave()

	c, err := t.engine.Open(ctx, d.name, d.version.Load(), createCollection(collection))
	if err != nil {
		return nil, err
	}

	if c.HasCollection(collection) {
		return c, nil
	}

	// Never leave a connection at a stale version open, as it would block the
	// upgrade below.
	return nil, c.Close()
}

// create opens d such that it contains the named collection, upgrading the
// database to the next version if the collection does not exist.
func (t *Tracker) create(
	ctx context.Context,
	d *database,
	collection string,
) (engine.Conn, error) {
	if err := d.gate.Lock(ctx); err != nil {
		return nil, err
	}
	defer d.gate.Unlock()

	// Another caller may have created the collection while we waited for the
	// lock.
	c, err := t.engine.Open(ctx, d.name, d.version.Load(), createCollection(collection))
	if err != nil {
		return nil, err
	}

	if c.HasCollection(collection) {
		return c, nil
	}

	if err := c.Close(); err != nil {
		return nil, err
	}

	version := d.version.Load() + 1

	c, err = t.engine.Open(ctx, d.name, version, createCollection(collection))
	if err != nil {
		t.telem.Error(
			ctx,
			"collection.create.error",
			"unable to create collection",
			err,
			telemetry.String("database.name", d.name),
			telemetry.String("collection", collection),
			telemetry.Int("version", version),
		)
		return nil, err
	}

	d.observe(c.Version())
	t.bumped(ctx, 1)

	if !c.HasCollection(collection) {
		return nil, closeAfter(
			c,
			fmt.Errorf(
				"the %q collection was not created when the %q database was upgraded to version %d",
				collection,
				d.name,
				version,
			),
		)
	}

	t.created(ctx, 1)
	t.telem.Info(
		ctx,
		"collection.create.ok",
		"created collection",
		telemetry.String("database.name", d.name),
		telemetry.String("collection", collection),
		telemetry.Int("version", c.Version()),
	)

	return c, nil
}

// createCollection returns an upgrade function that creates the named
// collection if it does not already exist.
func createCollection(name string) engine.UpgradeFunc {
	return func(_ context.Context, s engine.Schema) error {
		if s.HasCollection(name) {
			return nil
		}
		return s.CreateCollection(name)
	}
}

// closeAfter closes c and returns err.
func closeAfter(c engine.Conn, err error) error {
	c.Close()
	return err
}
