package models

import (
	"bytes"
	"encoding/json"
)

// Field is an optional value in a partial update. The zero value is Unset:
// the stored value is left alone. An explicit JSON null clears it.
type Field[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// SetValue returns a Field carrying v
func SetValue[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

// SetNull returns a Field that clears the stored value
func SetNull[T any]() Field[T] {
	return Field[T]{Set: true, Null: true}
}

// Present reports whether the field carries a non-null value
func (f Field[T]) Present() bool {
	return f.Set && !f.Null
}

// Ptr returns nil for Unset and Null, or a pointer to the value
func (f Field[T]) Ptr() *T {
	if !f.Present() {
		return nil
	}
	v := f.Value
	return &v
}

// UnmarshalJSON is only invoked when the key is present, which is what
// separates Unset from Null.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Null = true
		var zero T
		f.Value = zero
		return nil
	}
	f.Null = false
	return json.Unmarshal(data, &f.Value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.Present() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}
