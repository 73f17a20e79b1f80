// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by vetcore.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRecord identifies a medical record's current materialized state.
	EntityRecord EntityType = "record"
	// EntityVersion identifies an append-only version ledger entry.
	EntityVersion EntityType = "record_version"
)

// RecordStatus enumerates the lifecycle states of a medical record.
type RecordStatus string

// Canonical record lifecycle states.
const (
	// StatusActive marks a record visible to listing and mutation.
	StatusActive RecordStatus = "active"
	// StatusDeleted marks a soft-deleted record; further mutation is rejected.
	StatusDeleted RecordStatus = "deleted"
)

// VersionSource tags who or what produced a version ledger entry.
type VersionSource string

// Version entry sources recognised by the ledger integrity rule.
const (
	// SourceManualEdit marks an entry produced by a create, update, or soft delete.
	SourceManualEdit VersionSource = "manual_edit"
	// SourceRollback marks an entry produced by restoring a prior version.
	SourceRollback VersionSource = "rollback"
)

// SearchStatus tracks whether the external indexing collaborator has seen the
// record's current projected content.
type SearchStatus string

// Search freshness states; mutations always reset to pending.
const (
	SearchPending SearchStatus = "pending"
	SearchIndexed SearchStatus = "indexed"
)

// Document is the canonical nested structured content of a medical record, as
// opposed to the typed projected columns mirrored out of it.
type Document map[string]any

// Clone returns a deep copy of the document. Nested maps and slices are copied
// recursively so a caller can never mutate shared ledger state.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is the current materialized state of a medical record: the canonical
// document, the typed columns projected from it, a regenerated rendering, and
// the label of the most recent ledger entry.
type Record struct {
	Base
	RecordNo       string       `json:"record_no"`
	Owner          string       `json:"owner"`
	Veterinarian   string       `json:"veterinarian,omitempty"`
	FarmID         *string      `json:"farm_id,omitempty"`
	VisitDate      *string      `json:"visit_date,omitempty"`
	CurrentVersion VersionLabel `json:"current_version"`
	Status         RecordStatus `json:"status"`
	Document       Document     `json:"document"`
	Rendering      string       `json:"rendering,omitempty"`
	SearchStatus   SearchStatus `json:"search_status"`
	Projected      Projected    `json:"projected"`
}

// Projected holds the typed scalar columns mirrored out of the document for
// fast listing and filtering. Every field is nullable: absence in the document
// leaves the last observed value untouched.
type Projected struct {
	PrimaryDiagnosis *string  `json:"primary_diagnosis,omitempty"`
	ICDCode          *string  `json:"icd_code,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
	Severity         *string  `json:"severity,omitempty"`
	IsReportable     *bool    `json:"is_reportable,omitempty"`
	PoultryType      *string  `json:"poultry_type,omitempty"`
	Breed            *string  `json:"breed,omitempty"`
	AgeDays          *int     `json:"age_days,omitempty"`
	AffectedCount    *int     `json:"affected_count,omitempty"`
	TotalFlock       *int     `json:"total_flock,omitempty"`
}

// VersionEntry is one row of a record's append-only version ledger. Exactly one
// of Snapshot and Delta is set: a snapshot carries the complete document at that
// point, a delta carries the change relative to the nearest preceding snapshot.
type VersionEntry struct {
	ID        string         `json:"id"`
	RecordID  string         `json:"record_id"`
	Version   VersionLabel   `json:"version"`
	Actor     string         `json:"created_by"`
	Source    VersionSource  `json:"source"`
	Changes string `json:"changes,omitempty"`
	// No omitempty: an empty snapshot document is still a snapshot, and
	// dropping it on the wire would turn the entry into neither-snapshot-nor-delta.
	Snapshot Document       `json:"snapshot"`
	Delta    *DocumentDelta `json:"delta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// IsSnapshot reports whether the entry carries a complete document copy.
func (e VersionEntry) IsSnapshot() bool { return e.Snapshot != nil }

// Clone returns a deep copy of the entry, detaching snapshot and delta payloads.
func (e VersionEntry) Clone() VersionEntry {
	cp := e
	cp.Snapshot = e.Snapshot.Clone()
	if e.Delta != nil {
		d := e.Delta.Clone()
		cp.Delta = &d
	}
	return cp
}

// CloneRecord returns a deep copy of a record, detaching document and projected state.
func CloneRecord(r Record) Record {
	cp := r
	cp.Document = r.Document.Clone()
	cp.Projected = cloneProjected(r.Projected)
	if r.FarmID != nil {
		v := *r.FarmID
		cp.FarmID = &v
	}
	if r.VisitDate != nil {
		v := *r.VisitDate
		cp.VisitDate = &v
	}
	return cp
}

func cloneProjected(p Projected) Projected {
	cp := p
	cp.PrimaryDiagnosis = clonePtr(p.PrimaryDiagnosis)
	cp.ICDCode = clonePtr(p.ICDCode)
	cp.Confidence = clonePtr(p.Confidence)
	cp.Severity = clonePtr(p.Severity)
	cp.IsReportable = clonePtr(p.IsReportable)
	cp.PoultryType = clonePtr(p.PoultryType)
	cp.Breed = clonePtr(p.Breed)
	cp.AgeDays = clonePtr(p.AgeDays)
	cp.AffectedCount = clonePtr(p.AffectedCount)
	cp.TotalFlock = clonePtr(p.TotalFlock)
	return cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	// ActionAppend indicates a ledger entry was appended.
	ActionAppend Action = "append"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
