package core

import (
	"context"
	"fmt"

	"vetcore/pkg/domain"
)

// NewLedgerIntegrityRule returns the in-transaction rule guarding the version
// ledger invariants: an entry carries exactly one of snapshot and delta, the
// first entry of a record is a snapshot, cadence versions are snapshots, and
// rollback entries are snapshots regardless of cadence.
func NewLedgerIntegrityRule() domain.Rule {
	return ledgerIntegrityRule{}
}

type ledgerIntegrityRule struct{}

func (ledgerIntegrityRule) Name() string { return "ledger_integrity" }

func (ledgerIntegrityRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityVersion || change.Action != domain.ActionAppend {
			continue
		}
		entry, ok := change.After.(domain.VersionEntry)
		if !ok {
			continue
		}
		hasSnapshot := entry.Snapshot != nil
		hasDelta := entry.Delta != nil && !entry.Delta.IsZero()
		switch {
		case hasSnapshot && hasDelta:
			res.Violations = append(res.Violations, block(entry, "carries both snapshot and delta"))
		case !hasSnapshot && !hasDelta:
			res.Violations = append(res.Violations, block(entry, "carries neither snapshot nor delta"))
		case !hasSnapshot && entry.Version == domain.FirstVersion:
			res.Violations = append(res.Violations, block(entry, "first entry must be a snapshot"))
		case !hasSnapshot && entry.Version.IsSnapshotVersion():
			res.Violations = append(res.Violations, block(entry, fmt.Sprintf("version %s falls on the snapshot cadence", entry.Version)))
		case !hasSnapshot && entry.Source == domain.SourceRollback:
			res.Violations = append(res.Violations, block(entry, "rollback entries must be snapshots"))
		}
	}
	return res, nil
}

func block(entry domain.VersionEntry, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "ledger_integrity",
		Severity: domain.SeverityBlock,
		Message:  fmt.Sprintf("record %s version %s: %s", entry.RecordID, entry.Version, msg),
		Entity:   domain.EntityVersion,
		EntityID: entry.ID,
	}
}
