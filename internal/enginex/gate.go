package enginex

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gateCapacity is the number of connections a [Gate] admits concurrently.
const gateCapacity = 1 << 62

// Gate coordinates open connections with upgrade transactions for a single
// database.
//
// Any number of connections may be open at once, but an upgrade waits until
// every other connection has been closed. Connections that are opened while an
// upgrade is waiting queue behind it.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a new gate.
func NewGate() *Gate {
	return &Gate{semaphore.NewWeighted(gateCapacity)}
}

// Enter blocks until a connection may be opened.
func (g *Gate) Enter(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Leave releases a connection that was admitted by [Gate.Enter] or retained by
// [Gate.Downgrade].
func (g *Gate) Leave() {
	g.sem.Release(1)
}

// Lock blocks until the caller has exclusive access to the database.
func (g *Gate) Lock(ctx context.Context) error {
	return g.sem.Acquire(ctx, gateCapacity)
}

// Unlock releases exclusive access without retaining a connection.
func (g *Gate) Unlock() {
	g.sem.Release(gateCapacity)
}

// Downgrade converts exclusive access into a single open connection, which must
// later be released by [Gate.Leave].
func (g *Gate) Downgrade() {
	g.sem.Release(gateCapacity - 1)
}
