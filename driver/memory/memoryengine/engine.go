package memoryengine

import (
	"context"
	"sync"

	"github.com/dogmatiq/storekit/engine"
	"github.com/dogmatiq/storekit/internal/enginex"
)

// Engine is an in-memory implementation of [engine.Engine].
//
// An upgrade transaction waits until all other connections to the database
// have been closed.
type Engine struct {
	databases sync.Map // map[string]*database
}

// Open opens (creating if necessary) the database with the given name.
func (e *Engine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade engine.UpgradeFunc,
) (engine.Conn, error) {
	db := e.database(name)

	if err := db.gate.Enter(ctx); err != nil {
		return nil, err
	}

	db.RLock()
	v, needsUpgrade, err := enginex.Plan(name, version, db.version)
	db.RUnlock()

	if err != nil {
		db.gate.Leave()
		return nil, err
	}

	if needsUpgrade {
		db.gate.Leave()

		if err := db.gate.Lock(ctx); err != nil {
			return nil, err
		}

		v, err = db.upgrade(ctx, name, version, upgrade)
		if err != nil {
			db.gate.Unlock()
			return nil, err
		}

		db.gate.Downgrade()
	}

	return &conn{
		name:    name,
		version: v,
		db:      db,
	}, nil
}

func (e *Engine) database(name string) *database {
	db, ok := e.databases.Load(name)

	if !ok {
		db, _ = e.databases.LoadOrStore(
			name,
			&database{
				gate: enginex.NewGate(),
			},
		)
	}

	return db.(*database)
}
