package engine

import (
	"context"

	"github.com/dogmatiq/storekit/internal/telemetry"
	"github.com/dogmatiq/storekit/internal/x/xtelemetry"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WithTelemetry returns an [Engine] that adds telemetry to e.
func WithTelemetry(
	e Engine,
	p trace.TracerProvider,
	m metric.MeterProvider,
	l log.LoggerProvider,
) Engine {
	return &instrumentedEngine{
		Next: e,
		Telemetry: telemetry.Provider{
			TracerProvider: p,
			MeterProvider:  m,
			LoggerProvider: l,
		},
	}
}

// instrumentedEngine is a decorator that adds instrumentation to an [Engine].
type instrumentedEngine struct {
	Next      Engine
	Telemetry telemetry.Provider
}

func (e *instrumentedEngine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade UpgradeFunc,
) (Conn, error) {
	telem := e.Telemetry.Recorder(
		"github.com/dogmatiq/storekit/engine",
		telemetry.Type("engine", e.Next),
		telemetry.String("database.name", name),
		telemetry.String("database.conn", xtelemetry.ConnID()),
	)

	c := &instrumentedConn{
		Telemetry:       telem,
		OpenConnections: telem.UpDownCounter("open_connections", "{connection}", "The number of database connections that are currently open."),
		Upgrades:        telem.Counter("upgrades", "{upgrade}", "The number of upgrade transactions that have been committed."),
		Misses:          telem.Counter("misses", "{operation}", "The number of times the value associated with a specific key was requested but not present in the collection."),
		KeyIO:           telem.Counter("key.io", "By", "The cumulative size of the keys that have been operated upon."),
		ValueIO:         telem.Counter("value.io", "By", "The cumulative size of the values that have been operated upon."),
		KeySize:         telem.Histogram("key.size", "By", "The sizes of the keys that have been operated upon."),
		ValueSize:       telem.Histogram("value.size", "By", "The sizes of the values that have been operated upon."),
	}

	ctx, span := telem.StartSpan(
		ctx,
		"database.open",
		telemetry.Int("requested_version", version),
	)
	defer span.End()

	upgraded := false

	next, err := e.Next.Open(
		ctx,
		name,
		version,
		func(ctx context.Context, s Schema) error {
			upgraded = true

			span.SetAttributes(
				telemetry.Int("old_version", s.OldVersion()),
				telemetry.Int("new_version", s.NewVersion()),
			)

			telem.Info(
				ctx,
				"database.upgrade.start",
				"upgrading database",
				telemetry.Int("old_version", s.OldVersion()),
				telemetry.Int("new_version", s.NewVersion()),
			)

			if upgrade == nil {
				return nil
			}

			return upgrade(ctx, &instrumentedSchema{s, ctx, telem})
		},
	)
	if err != nil {
		telem.Error(ctx, "database.open.error", "unable to open database", err)
		return nil, err
	}

	c.Next = next

	span.SetAttributes(
		telemetry.Int("version", next.Version()),
		telemetry.Bool("upgraded", upgraded),
	)

	if upgraded {
		c.Upgrades(ctx, 1)
	}

	c.OpenConnections(ctx, 1)
	c.Telemetry.Info(
		ctx,
		"database.open.ok",
		"opened database",
		telemetry.Int("version", next.Version()),
	)

	return c, nil
}

// instrumentedSchema is a [Schema] that logs the creation of collections.
type instrumentedSchema struct {
	Schema
	ctx       context.Context
	Telemetry *telemetry.Recorder
}

func (s *instrumentedSchema) CreateCollection(name string) error {
	if err := s.Schema.CreateCollection(name); err != nil {
		s.Telemetry.Error(
			s.ctx,
			"collection.create.error",
			"unable to create collection",
			err,
			telemetry.String("collection", name),
		)
		return err
	}

	s.Telemetry.Info(
		s.ctx,
		"collection.create.ok",
		"created collection",
		telemetry.String("collection", name),
	)

	return nil
}

type instrumentedConn struct {
	Next      Conn
	Telemetry *telemetry.Recorder

	OpenConnections telemetry.Instrument[int64]
	Upgrades        telemetry.Instrument[int64]
	Misses          telemetry.Instrument[int64]
	KeyIO           telemetry.Instrument[int64]
	ValueIO         telemetry.Instrument[int64]
	KeySize         telemetry.Instrument[int64]
	ValueSize       telemetry.Instrument[int64]
}

func (c *instrumentedConn) Database() string {
	return c.Next.Database()
}

func (c *instrumentedConn) Version() uint64 {
	return c.Next.Version()
}

func (c *instrumentedConn) HasCollection(name string) bool {
	return c.Next.HasCollection(name)
}

func (c *instrumentedConn) Collections() []string {
	return c.Next.Collections()
}

func (c *instrumentedConn) Get(ctx context.Context, coll string, k []byte) ([]byte, bool, error) {
	keySize := int64(len(k))

	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.get",
		telemetry.String("collection", coll),
		telemetry.Binary("key", k),
		telemetry.Int("key_size", keySize),
	)
	defer span.End()

	c.KeyIO(ctx, keySize, telemetry.WriteDirection)
	c.KeySize(ctx, keySize, telemetry.WriteDirection)

	v, ok, err := c.Next.Get(ctx, coll, k)
	if err != nil {
		c.Telemetry.Error(ctx, "collection.get.error", "unable to fetch value associated with key", err)
		return nil, false, err
	}

	span.SetAttributes(
		telemetry.Bool("key_present", ok),
	)

	if ok {
		valueSize := int64(len(v))

		c.ValueIO(ctx, valueSize, telemetry.ReadDirection)
		c.ValueSize(ctx, valueSize, telemetry.ReadDirection)

		span.SetAttributes(
			telemetry.Binary("value", v),
			telemetry.Int("value_size", valueSize),
		)

		c.Telemetry.Info(ctx, "collection.get.ok", "fetched value associated with key")
	} else {
		c.Misses(ctx, 1)
		c.Telemetry.Info(ctx, "collection.get.ok", "key is not present in collection")
	}

	return v, ok, nil
}

func (c *instrumentedConn) Has(ctx context.Context, coll string, k []byte) (bool, error) {
	keySize := int64(len(k))

	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.has",
		telemetry.String("collection", coll),
		telemetry.Binary("key", k),
		telemetry.Int("key_size", keySize),
	)
	defer span.End()

	c.KeyIO(ctx, keySize, telemetry.WriteDirection)
	c.KeySize(ctx, keySize, telemetry.WriteDirection)

	ok, err := c.Next.Has(ctx, coll, k)
	if err != nil {
		c.Telemetry.Error(ctx, "collection.has.error", "unable to check presence of key in collection", err)
		return false, err
	}

	span.SetAttributes(
		telemetry.Bool("key_present", ok),
	)

	if ok {
		c.Telemetry.Info(ctx, "collection.has.ok", "key is present in collection")
	} else {
		c.Telemetry.Info(ctx, "collection.has.ok", "key is not present in collection")
	}

	return ok, nil
}

func (c *instrumentedConn) GetAll(ctx context.Context, coll string) ([][]byte, error) {
	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.get-all",
		telemetry.String("collection", coll),
	)
	defer span.End()

	values, err := c.Next.GetAll(ctx, coll)
	if err != nil {
		c.Telemetry.Error(ctx, "collection.get-all.error", "unable to fetch values", err)
		return nil, err
	}

	var totalSize int64
	for _, v := range values {
		valueSize := int64(len(v))
		totalSize += valueSize

		c.ValueIO(ctx, valueSize, telemetry.ReadDirection)
		c.ValueSize(ctx, valueSize, telemetry.ReadDirection)
	}

	span.SetAttributes(
		telemetry.Int("values_read", len(values)),
		telemetry.Int("bytes_read", totalSize),
	)

	c.Telemetry.Info(ctx, "collection.get-all.ok", "fetched all values")

	return values, nil
}

func (c *instrumentedConn) GetAllKeys(ctx context.Context, coll string) ([][]byte, error) {
	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.get-all-keys",
		telemetry.String("collection", coll),
	)
	defer span.End()

	keys, err := c.Next.GetAllKeys(ctx, coll)
	if err != nil {
		c.Telemetry.Error(ctx, "collection.get-all-keys.error", "unable to fetch keys", err)
		return nil, err
	}

	var totalSize int64
	for _, k := range keys {
		keySize := int64(len(k))
		totalSize += keySize

		c.KeyIO(ctx, keySize, telemetry.ReadDirection)
		c.KeySize(ctx, keySize, telemetry.ReadDirection)
	}

	span.SetAttributes(
		telemetry.Int("keys_read", len(keys)),
		telemetry.Int("bytes_read", totalSize),
	)

	c.Telemetry.Info(ctx, "collection.get-all-keys.ok", "fetched all keys")

	return keys, nil
}

func (c *instrumentedConn) Put(ctx context.Context, coll string, k, v []byte) error {
	keySize := int64(len(k))
	valueSize := int64(len(v))

	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.put",
		telemetry.String("collection", coll),
		telemetry.Binary("key", k),
		telemetry.Int("key_size", keySize),
		telemetry.Binary("value", v),
		telemetry.Int("value_size", valueSize),
	)
	defer span.End()

	c.KeyIO(ctx, keySize, telemetry.WriteDirection)
	c.KeySize(ctx, keySize, telemetry.WriteDirection)
	c.ValueIO(ctx, valueSize, telemetry.WriteDirection)
	c.ValueSize(ctx, valueSize, telemetry.WriteDirection)

	if err := c.Next.Put(ctx, coll, k, v); err != nil {
		c.Telemetry.Error(ctx, "collection.put.error", "unable to put key/value pair", err)
		return err
	}

	c.Telemetry.Info(ctx, "collection.put.ok", "put key/value pair")

	return nil
}

func (c *instrumentedConn) Delete(ctx context.Context, coll string, k []byte) error {
	keySize := int64(len(k))

	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.delete",
		telemetry.String("collection", coll),
		telemetry.Binary("key", k),
		telemetry.Int("key_size", keySize),
	)
	defer span.End()

	c.KeyIO(ctx, keySize, telemetry.WriteDirection)
	c.KeySize(ctx, keySize, telemetry.WriteDirection)

	if err := c.Next.Delete(ctx, coll, k); err != nil {
		c.Telemetry.Error(ctx, "collection.delete.error", "unable to delete key/value pair", err)
		return err
	}

	c.Telemetry.Info(ctx, "collection.delete.ok", "deleted key/value pair")

	return nil
}

func (c *instrumentedConn) Clear(ctx context.Context, coll string) error {
	ctx, span := c.Telemetry.StartSpan(
		ctx,
		"collection.clear",
		telemetry.String("collection", coll),
	)
	defer span.End()

	if err := c.Next.Clear(ctx, coll); err != nil {
		c.Telemetry.Error(ctx, "collection.clear.error", "unable to clear collection", err)
		return err
	}

	c.Telemetry.Info(ctx, "collection.clear.ok", "cleared collection")

	return nil
}

func (c *instrumentedConn) Close() error {
	if c.Next == nil {
		// Closing an already-closed resource is not an error, allowing Close()
		// to be called unconditionally by a defer statement.
		return nil
	}

	ctx, span := c.Telemetry.StartSpan(context.Background(), "database.close")
	defer span.End()

	defer func() {
		c.Next = nil
		c.OpenConnections(ctx, -1)
	}()

	if err := c.Next.Close(); err != nil {
		c.Telemetry.Error(ctx, "database.close.error", "unable to close database cleanly", err)
		return err
	}

	c.Telemetry.Info(ctx, "database.close.ok", "database closed")

	return nil
}
