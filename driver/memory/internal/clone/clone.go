package clone

import (
	"github.com/dogmatiq/dyad"
)

// Bytes returns a copy of v that does not share memory with v.
//
// A non-nil empty slice is returned as a non-nil empty slice.
func Bytes(v []byte) []byte {
	if v == nil {
		return nil
	}

	if c := dyad.Clone(v); c != nil {
		return c
	}

	return []byte{}
}
