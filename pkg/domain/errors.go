package domain

import "fmt"

// NotFoundError is returned when a record or version label does not exist.
// Callers surface it directly; it is never retried.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidStateError is returned when an operation is legal in general but not
// against the record's current state, e.g. soft-deleting twice or rolling back
// to a version label the ledger never produced.
type InvalidStateError struct {
	Entity EntityType
	ID     string
	Reason string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// ConflictError is returned when a ledger append collides on (record, version),
// which happens when two mutations race to read the same current label. The
// caller should reload the record and retry; the core never retries itself.
type ConflictError struct {
	RecordID string
	Version  VersionLabel
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version %s already exists for record %s", e.Version, e.RecordID)
}

// CorruptHistoryError signals a ledger with no snapshot reachable at or before
// the requested version. The write-path invariants make this unreachable; it is
// raised rather than returning a partial document if ever observed.
type CorruptHistoryError struct {
	RecordID string
	Version  VersionLabel
}

func (e CorruptHistoryError) Error() string {
	return fmt.Sprintf("no snapshot reachable at or before version %s of record %s", e.Version, e.RecordID)
}
