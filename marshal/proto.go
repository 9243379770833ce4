package marshal

import "google.golang.org/protobuf/proto"

// Proto is a [Marshaler] that uses the Protocol Buffers binary encoding.
//
// T is a pointer to the message type S.
type Proto[
	T interface {
		proto.Message
		*S
	},
	S any,
] struct{}

// Marshal returns the binary representation of m.
func (Proto[T, S]) Marshal(m T) ([]byte, error) {
	return proto.Marshal(m)
}

// Unmarshal returns a new message constructed from its binary representation.
func (Proto[T, S]) Unmarshal(data []byte) (T, error) {
	var m T = new(S)
	return m, proto.Unmarshal(data, m)
}
