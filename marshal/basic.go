package marshal

import (
	"encoding/binary"
	"fmt"
)

// Convert is a [Marshaler] that converts between string-like or byte-like
// types and []byte without any encoding.
type Convert[T ~string | ~[]byte] struct{}

// Marshal returns v as a byte slice.
func (Convert[T]) Marshal(v T) ([]byte, error) {
	return []byte(v), nil
}

// Unmarshal returns data converted to T.
func (Convert[T]) Unmarshal(data []byte) (T, error) {
	return T(data), nil
}

var (
	// Bytes marshals and unmarshals byte slices verbatim.
	Bytes Marshaler[[]byte] = Convert[[]byte]{}

	// String marshals and unmarshals the built-in string type.
	String Marshaler[string] = Convert[string]{}

	// Bool marshals and unmarshals the built-in bool type.
	Bool = New(
		func(v bool) ([]byte, error) {
			if v {
				return []byte{1}, nil
			}
			return nil, nil
		},
		func(data []byte) (bool, error) {
			return len(data) > 0, nil
		},
	)

	// Uint64 marshals and unmarshals the built-in uint64 type as 8 big-endian
	// bytes, such that the bytewise order of the marshaled data matches the
	// numeric order of the values.
	Uint64 = New(
		func(v uint64) ([]byte, error) {
			return binary.BigEndian.AppendUint64(nil, v), nil
		},
		func(data []byte) (uint64, error) {
			if len(data) != 8 {
				return 0, fmt.Errorf("cannot unmarshal uint64: expected 8 bytes, got %d", len(data))
			}
			return binary.BigEndian.Uint64(data), nil
		},
	)
)
