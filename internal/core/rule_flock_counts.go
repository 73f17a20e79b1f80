package core

import (
	"context"
	"fmt"

	"vetcore/pkg/domain"
)

// NewFlockCountsRule returns the in-transaction rule rejecting records whose
// affected animal count exceeds the flock size.
func NewFlockCountsRule() domain.Rule {
	return flockCountsRule{}
}

type flockCountsRule struct{}

func (flockCountsRule) Name() string { return "flock_counts" }

func (flockCountsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRecord {
			continue
		}
		record, ok := change.After.(domain.Record)
		if !ok {
			continue
		}
		affected := record.Projected.AffectedCount
		total := record.Projected.TotalFlock
		if affected == nil || total == nil {
			continue
		}
		if *affected > *total {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "flock_counts",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("record %s: affected count %d exceeds flock size %d", record.ID, *affected, *total),
				Entity:   domain.EntityRecord,
				EntityID: record.ID,
			})
		}
	}
	return res, nil
}
