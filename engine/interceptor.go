package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// Interceptor defines functions that are invoked around database operations.
//
// The functions may be changed at any time, including while the engine is in
// use.
type Interceptor struct {
	m     sync.Mutex
	hooks atomic.Pointer[hooks]
}

type hooks struct {
	beforeOpen    func(string, uint64) error
	beforeUpgrade func(string, uint64, uint64) error
	beforePut     func(string, string, []byte, []byte) error
	afterPut      func(string, string, []byte, []byte) error
}

// BeforeOpen sets the function that is invoked before a database is opened.
func (i *Interceptor) BeforeOpen(fn func(db string, version uint64) error) {
	i.update(func(h *hooks) { h.beforeOpen = fn })
}

// BeforeUpgrade sets the function that is invoked within an upgrade
// transaction, before the caller's [UpgradeFunc].
func (i *Interceptor) BeforeUpgrade(fn func(db string, oldVersion, newVersion uint64) error) {
	i.update(func(h *hooks) { h.beforeUpgrade = fn })
}

// BeforePut sets the function that is invoked before a key/value pair is put.
func (i *Interceptor) BeforePut(fn func(db, collection string, k, v []byte) error) {
	i.update(func(h *hooks) { h.beforePut = fn })
}

// AfterPut sets the function that is invoked after a key/value pair is put.
func (i *Interceptor) AfterPut(fn func(db, collection string, k, v []byte) error) {
	i.update(func(h *hooks) { h.afterPut = fn })
}

// update replaces the hooks with a modified copy.
func (i *Interceptor) update(fn func(*hooks)) {
	i.m.Lock()
	defer i.m.Unlock()

	h := i.load()
	fn(&h)
	i.hooks.Store(&h)
}

// load returns a copy of the current hooks.
func (i *Interceptor) load() hooks {
	if h := i.hooks.Load(); h != nil {
		return *h
	}
	return hooks{}
}

// WithInterceptor returns an [Engine] that invokes the functions defined by the
// given [Interceptor] when performing operations on e.
func WithInterceptor(e Engine, in *Interceptor) Engine {
	if in == nil {
		return e
	}

	return &interceptedEngine{
		Next:        e,
		Interceptor: in,
	}
}

type interceptedEngine struct {
	Next        Engine
	Interceptor *Interceptor
}

func (e *interceptedEngine) Open(
	ctx context.Context,
	name string,
	version uint64,
	upgrade UpgradeFunc,
) (Conn, error) {
	if fn := e.Interceptor.load().beforeOpen; fn != nil {
		if err := fn(name, version); err != nil {
			return nil, err
		}
	}

	next, err := e.Next.Open(
		ctx,
		name,
		version,
		func(ctx context.Context, s Schema) error {
			if fn := e.Interceptor.load().beforeUpgrade; fn != nil {
				if err := fn(s.Database(), s.OldVersion(), s.NewVersion()); err != nil {
					return err
				}
			}

			if upgrade == nil {
				return nil
			}

			return upgrade(ctx, s)
		},
	)
	if err != nil {
		return nil, err
	}

	return &interceptedConn{
		Conn:        next,
		Interceptor: e.Interceptor,
	}, nil
}

type interceptedConn struct {
	Conn
	Interceptor *Interceptor
}

func (c *interceptedConn) Put(ctx context.Context, coll string, k, v []byte) error {
	if fn := c.Interceptor.load().beforePut; fn != nil {
		if err := fn(c.Database(), coll, k, v); err != nil {
			return err
		}
	}

	if err := c.Conn.Put(ctx, coll, k, v); err != nil {
		return err
	}

	if fn := c.Interceptor.load().afterPut; fn != nil {
		if err := fn(c.Database(), coll, k, v); err != nil {
			return err
		}
	}

	return nil
}
