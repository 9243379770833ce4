package pgengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
)

// conn is an implementation of [engine.Conn] for a database stored in
// PostgreSQL.
//
// The set of collections is read when the connection is opened.
type conn struct {
	db          *sql.DB
	name        string
	version     uint64
	collections map[string]struct{}
	closed      bool
}

func (c *conn) Database() string {
	return c.name
}

func (c *conn) Version() uint64 {
	return c.version
}

func (c *conn) HasCollection(name string) bool {
	_, ok := c.collections[name]
	return ok
}

func (c *conn) Collections() []string {
	return slices.Sorted(maps.Keys(c.collections))
}

func (c *conn) Get(ctx context.Context, name string, k []byte) ([]byte, bool, error) {
	if err := c.check(name); err != nil {
		return nil, false, err
	}

	row := c.db.QueryRowContext(
		ctx,
		`SELECT value
		FROM storekit.entry
		WHERE database = $1
		AND collection = $2
		AND key = $3`,
		c.name,
		name,
		k,
	)

	var v []byte
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cannot scan entry: %w", err)
	}

	return v, true, nil
}

func (c *conn) Has(ctx context.Context, name string, k []byte) (bool, error) {
	if err := c.check(name); err != nil {
		return false, err
	}

	row := c.db.QueryRowContext(
		ctx,
		`SELECT COUNT(key) != 0
		FROM storekit.entry
		WHERE database = $1
		AND collection = $2
		AND key = $3`,
		c.name,
		name,
		k,
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("cannot scan entry: %w", err)
	}

	return exists, nil
}

func (c *conn) GetAll(ctx context.Context, name string) ([][]byte, error) {
	return c.column(
		ctx,
		name,
		`SELECT value
		FROM storekit.entry
		WHERE database = $1
		AND collection = $2
		ORDER BY key`,
	)
}

func (c *conn) GetAllKeys(ctx context.Context, name string) ([][]byte, error) {
	return c.column(
		ctx,
		name,
		`SELECT key
		FROM storekit.entry
		WHERE database = $1
		AND collection = $2
		ORDER BY key`,
	)
}

func (c *conn) Put(ctx context.Context, name string, k, v []byte) error {
	if err := c.check(name); err != nil {
		return err
	}

	if err := enginex.ValidateKey(k); err != nil {
		return err
	}

	if v == nil {
		v = []byte{}
	}

	if _, err := c.db.ExecContext(
		ctx,
		`INSERT INTO storekit.entry (
			database,
			collection,
			key,
			value
		) VALUES (
			$1, $2, $3, $4
		) ON CONFLICT (database, collection, key) DO UPDATE SET
			value = excluded.value`,
		c.name,
		name,
		k,
		v,
	); err != nil {
		return fmt.Errorf("cannot upsert entry: %w", err)
	}

	return nil
}

func (c *conn) Delete(ctx context.Context, name string, k []byte) error {
	if err := c.check(name); err != nil {
		return err
	}

	if _, err := c.db.ExecContext(
		ctx,
		`DELETE FROM storekit.entry
		WHERE database = $1
		AND collection = $2
		AND key = $3`,
		c.name,
		name,
		k,
	); err != nil {
		return fmt.Errorf("cannot delete entry: %w", err)
	}

	return nil
}

func (c *conn) Clear(ctx context.Context, name string) error {
	if err := c.check(name); err != nil {
		return err
	}

	if _, err := c.db.ExecContext(
		ctx,
		`DELETE FROM storekit.entry
		WHERE database = $1
		AND collection = $2`,
		c.name,
		name,
	); err != nil {
		return fmt.Errorf("cannot delete entries: %w", err)
	}

	return nil
}

func (c *conn) Close() error {
	if c.closed {
		return errors.New("connection is already closed")
	}
	c.closed = true
	return nil
}

// check returns an error if the named collection does not exist.
func (c *conn) check(name string) error {
	if c.closed {
		panic("connection is closed")
	}

	if !c.HasCollection(name) {
		return engine.CollectionNotFoundError{
			Database:   c.name,
			Collection: name,
		}
	}

	return nil
}

// column returns the values of the single column selected by query, which is
// passed the database and collection names as parameters.
func (c *conn) column(ctx context.Context, name, query string) ([][]byte, error) {
	if err := c.check(name); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, query, c.name, name)
	if err != nil {
		return nil, fmt.Errorf("cannot query entries: %w", err)
	}
	defer rows.Close()

	var result [][]byte

	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("cannot scan entry: %w", err)
		}
		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot query entries: %w", err)
	}

	return result, nil
}
