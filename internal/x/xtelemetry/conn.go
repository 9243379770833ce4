package xtelemetry

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

var connCounter atomic.Uint64

// ConnID returns a unique identifier for an [engine.Conn].
//
// The counter component identifies connections within this process in the order
// they were opened. The UUID component correlates them across processes.
//
// [engine.Conn]: github.com/dogmatiq/storekit/engine.Conn
func ConnID() string {
	return fmt.Sprintf(
		"conn#%d/%s",
		connCounter.Add(1),
		uuid.NewString(),
	)
}
