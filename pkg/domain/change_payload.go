package domain

import (
	"encoding/json"
	"fmt"
)

// ChangePayload holds the JSON image of an entity on one side of a Change.
// The zero value is undefined, which is how creates and deletes mark the
// missing side.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload wraps raw JSON. The bytes are copied.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	p := ChangePayload{defined: true}
	if raw != nil {
		p.raw = append(json.RawMessage(nil), raw...)
	}
	return p
}

// PayloadOf marshals an entity into a ChangePayload.
func PayloadOf[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, fmt.Errorf("encode change payload: %w", err)
	}
	return NewChangePayload(raw), nil
}

// Defined reports whether the payload has been set.
func (p ChangePayload) Defined() bool { return p.defined }

// IsEmpty reports whether the payload carries no bytes.
func (p ChangePayload) IsEmpty() bool { return !p.defined || len(p.raw) == 0 }

// Raw returns a copy of the JSON bytes, or nil when empty.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return append(json.RawMessage(nil), p.raw...)
}

// MarshalJSON encodes an undefined or empty payload as null.
func (p ChangePayload) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return p.Raw(), nil
}

// DecodePayload unmarshals the payload into a typed entity. The boolean is
// false when the payload is empty.
func DecodePayload[T any](p ChangePayload) (T, bool, error) {
	var out T
	if p.IsEmpty() {
		return out, false, nil
	}
	if err := json.Unmarshal(p.raw, &out); err != nil {
		return out, false, fmt.Errorf("decode change payload: %w", err)
	}
	return out, true, nil
}
