package engine

import "context"

// WithNamePrefix returns an [Engine] that adds the given prefix to all database
// names.
//
// [Conn.Database] and [Schema.Database] return the unprefixed name.
func WithNamePrefix(e Engine, prefix string) Engine {
	return prefixedEngine{e, prefix}
}

// prefixedEngine is an [Engine] that adds a prefix to all database names.
type prefixedEngine struct {
	Engine
	prefix string
}

func (e prefixedEngine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade UpgradeFunc,
) (Conn, error) {
	var next UpgradeFunc
	if upgrade != nil {
		next = func(ctx context.Context, s Schema) error {
			return upgrade(ctx, prefixedSchema{s, name})
		}
	}

	c, err := e.Engine.Open(ctx, e.prefix+name, version, next)
	if err != nil {
		return nil, err
	}

	return prefixedConn{c, name}, nil
}

// prefixedConn is a [Conn] opened by a [prefixedEngine].
type prefixedConn struct {
	Conn
	name string
}

func (c prefixedConn) Database() string {
	return c.name
}

// prefixedSchema is the [Schema] passed to upgrade functions by a
// [prefixedEngine].
type prefixedSchema struct {
	Schema
	name string
}

func (s prefixedSchema) Database() string {
	return s.name
}
