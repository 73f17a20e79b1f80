package core

import "vetcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	RecordStatus       = domain.RecordStatus
	VersionSource      = domain.VersionSource
	SearchStatus       = domain.SearchStatus
	Severity           = domain.Severity
	Base               = domain.Base
	Record             = domain.Record
	Projected          = domain.Projected
	VersionEntry       = domain.VersionEntry
	VersionLabel       = domain.VersionLabel
	Document           = domain.Document
	DocumentDelta      = domain.DocumentDelta
	Diff               = domain.Diff
	FieldChange        = domain.FieldChange
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
)

const (
	EntityRecord  = domain.EntityRecord
	EntityVersion = domain.EntityVersion
)

const (
	StatusActive  = domain.StatusActive
	StatusDeleted = domain.StatusDeleted
)

const (
	SourceManualEdit = domain.SourceManualEdit
	SourceRollback   = domain.SourceRollback
)

const (
	SearchPending = domain.SearchPending
	SearchIndexed = domain.SearchIndexed
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionAppend = domain.ActionAppend
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewFlockCountsRule())
	engine.Register(NewLedgerIntegrityRule())
	return engine
}
