package records

import (
	"context"
	"sync"
	"time"

	"vetcore/pkg/domain"
)

// AuditLogger records destructive record operations (soft deletes and
// rollbacks) for an external audit sink. Implementations must not block the
// request path.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures the audit trail metadata of one destructive operation.
type AuditEntry struct {
	Action      string         `json:"action"`
	Actor       string         `json:"actor"`
	RecordID    string         `json:"record_id"`
	FromVersion string         `json:"from_version,omitempty"`
	ToVersion   string         `json:"to_version,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	// Detail carries the record state after the operation, serialized so the
	// sink never aliases live domain objects.
	Detail     domain.ChangePayload `json:"detail,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// MemoryAuditLog retains audit entries in process memory. Useful for tests
// and single-node deployments.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditLog constructs an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

// Record appends an entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of all recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
