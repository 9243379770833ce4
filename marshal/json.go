package marshal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSON is a [Marshaler] that uses the JSON encoding format.
//
// Unmarshal rejects data that contains anything other than a single JSON value.
type JSON[T any] struct{}

// Marshal returns the JSON representation of v.
func (JSON[T]) Marshal(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal returns a value of type T constructed from its JSON representation.
func (JSON[T]) Unmarshal(data []byte) (T, error) {
	var v T

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("cannot unmarshal %T from JSON: %w", v, err)
	}

	if _, err := dec.Token(); err != io.EOF {
		return v, fmt.Errorf("cannot unmarshal %T from JSON: unexpected data after value", v)
	}

	return v, nil
}
