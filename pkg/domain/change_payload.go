package domain

import "encoding/json"

// ChangePayload wraps a JSON snapshot of a change's before/after state, as
// handed to the audit collaborator. Callers should unmarshal the raw bytes
// into typed structures as needed.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload wrapper from raw JSON. The bytes are cloned
// to prevent callers from mutating shared state. Passing a nil slice yields a
// defined but empty payload; use UndefinedChangePayload for "not set".
func NewChangePayload(raw json.RawMessage) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewChangePayloadFromValue marshals a typed value into a ChangePayload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return ChangePayload{defined: true, raw: raw}, nil
}

// UndefinedChangePayload returns a payload in the "not set" state.
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// Defined reports whether the payload has been set, even to an empty document.
func (p ChangePayload) Defined() bool { return p.defined }

// Raw returns a clone of the underlying JSON bytes, or nil when unset.
func (p ChangePayload) Raw() json.RawMessage {
	if !p.defined || p.raw == nil {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// Decode unmarshals the payload into target. Decoding an unset or empty
// payload is a no-op.
func (p ChangePayload) Decode(target any) error {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return json.Unmarshal(p.raw, target)
}

// MarshalJSON encodes the raw payload, emitting null when unset.
func (p ChangePayload) MarshalJSON() ([]byte, error) {
	if !p.defined || p.raw == nil {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON stores a clone of the incoming raw bytes.
func (p *ChangePayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = ChangePayload{}
		return nil
	}
	*p = ChangePayload{defined: true, raw: cloneRawMessage(data)}
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
