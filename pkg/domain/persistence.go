package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. The record's current state and its
// ledger are mutated together: a transaction either fully commits or leaves no
// partial effect.
type Transaction interface {
	Snapshot() TransactionView
	CreateRecord(Record) (Record, error)
	UpdateRecord(id string, mutator func(*Record) error) (Record, error)
	AppendVersion(recordID string, entry VersionEntry) (VersionEntry, error)
	FindRecord(id string) (Record, bool)
	ListVersions(recordID string) []VersionEntry
	FindVersion(recordID string, version VersionLabel) (VersionEntry, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// read paths. Reads never observe a torn or partially appended ledger entry.
type TransactionView interface {
	ListRecords() []Record
	FindRecord(id string) (Record, bool)
	ListVersions(recordID string) []VersionEntry
	FindVersion(recordID string, version VersionLabel) (VersionEntry, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRecord(id string) (Record, bool)
	ListRecords() []Record
	ListVersions(recordID string) []VersionEntry
	GetVersion(recordID string, version VersionLabel) (VersionEntry, bool)
}
