package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"vetcore/internal/blob"
	"vetcore/internal/infra/persistence/memory"
	"vetcore/pkg/domain"
)

// ErrNoAttachmentStore is returned by attachment operations when the service
// was constructed without a blob store.
var ErrNoAttachmentStore = errors.New("attachment store not configured")

// Service exposes the transactional operations over medical records and their
// version ledgers. All mutations run inside a store transaction so the record
// state, the ledger append, and rule evaluation commit or fail together.
type Service struct {
	store       PersistentStore
	attachments blob.Store
	logger      Logger
	metrics     MetricsRecorder
	tracer      Tracer
	nowFn       func() time.Time
}

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithLogger installs a structured logger. Nil is ignored.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder installs a metrics sink. Nil is ignored.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer. Nil is ignored.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAttachmentStore installs the blob store backing media attachments.
func WithAttachmentStore(store blob.Store) ServiceOption {
	return func(s *Service) { s.attachments = store }
}

// WithNowFunc overrides the time provider, mainly for tests.
func WithNowFunc(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// run wraps one service operation with tracing, metrics, and error logging.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}

// newRecordNo produces a business identifier of the form EMR-YYYYMMDD-XXXXXX.
func (s *Service) newRecordNo() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	suffix := strings.ToUpper(hex.EncodeToString(b[:]))
	return fmt.Sprintf("EMR-%s-%s", s.nowFn().Format("20060102"), suffix)
}

// CreateRecordInput carries the caller-supplied state of a new record.
type CreateRecordInput struct {
	Owner        string
	Veterinarian string
	FarmID       *string
	VisitDate    *string
	Actor        string
	Document     Document
}

// CreateRecord persists a new record at version 1.0 with a full snapshot as
// the first ledger entry.
func (s *Service) CreateRecord(ctx context.Context, input CreateRecordInput) (Record, Result, error) {
	var created Record
	var res Result
	err := s.run(ctx, "create_record", func(ctx context.Context) error {
		if input.Owner == "" {
			return domain.InvalidStateError{Entity: EntityRecord, Reason: "owner required"}
		}
		doc := input.Document.Clone()
		if doc == nil {
			doc = Document{}
		}
		var projected Projected
		if err := domain.ProjectDocument(&projected, doc); err != nil {
			return domain.InvalidStateError{Entity: EntityRecord, Reason: err.Error()}
		}
		record := Record{
			RecordNo:       s.newRecordNo(),
			Owner:          input.Owner,
			Veterinarian:   input.Veterinarian,
			FarmID:         input.FarmID,
			VisitDate:      input.VisitDate,
			CurrentVersion: domain.FirstVersion,
			Status:         StatusActive,
			Document:       doc,
			Rendering:      domain.RenderDocument(doc),
			SearchStatus:   SearchPending,
			Projected:      projected,
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			stored, err := tx.CreateRecord(record)
			if err != nil {
				return err
			}
			if _, err := tx.AppendVersion(stored.ID, VersionEntry{
				Version:  domain.FirstVersion,
				Actor:    input.Actor,
				Source:   SourceManualEdit,
				Changes:  "initial creation",
				Snapshot: doc.Clone(),
			}); err != nil {
				return err
			}
			created = stored
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("record created", "record_id", created.ID, "record_no", created.RecordNo)
		return nil
	})
	return created, res, err
}

// RecordPatch describes one update mutation. Document, when non-nil, replaces
// the canonical content wholesale; Fields are folded on top of the result by
// top-level key. ProjectedOverrides set typed columns directly, after the
// document-derived projection. Pointer metadata fields update the record
// without entering the document.
type RecordPatch struct {
	Document           Document
	Fields             map[string]any
	ProjectedOverrides map[string]any
	Veterinarian       *string
	VisitDate          *string
	FarmID             *string
	Actor              string
	Changes            string
}

// UpdateRecord applies a patch to an active record, bumps the version label,
// and appends a ledger entry: a snapshot when the new label falls on the
// snapshot cadence, otherwise a delta carrying exactly the patch shape.
func (s *Service) UpdateRecord(ctx context.Context, id string, patch RecordPatch) (Record, Result, error) {
	var updated Record
	var res Result
	err := s.run(ctx, "update_record", func(ctx context.Context) error {
		delta := domain.DocumentDelta{Replace: patch.Document, Fields: patch.Fields}
		if delta.IsZero() {
			return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: "update carries no document changes"}
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityRecord, ID: id}
			}
			if current.Status == StatusDeleted {
				return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: "record is deleted"}
			}
			newDoc := delta.Apply(current.Document)
			projected := current.Projected
			if err := domain.ProjectDocument(&projected, newDoc); err != nil {
				return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: err.Error()}
			}
			if err := applyProjectedOverrides(&projected, patch.ProjectedOverrides); err != nil {
				return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: err.Error()}
			}
			next := current.CurrentVersion.Next()

			entry := VersionEntry{
				Version: next,
				Actor:   patch.Actor,
				Source:  SourceManualEdit,
				Changes: changesOrDefault(patch.Changes, "manual edit"),
			}
			if next.IsSnapshotVersion() {
				entry.Snapshot = newDoc.Clone()
			} else {
				d := delta.Clone()
				entry.Delta = &d
			}

			updated, err = tx.UpdateRecord(id, func(r *Record) error {
				r.Document = newDoc
				r.Projected = projected
				r.Rendering = domain.RenderDocument(newDoc)
				r.CurrentVersion = next
				r.SearchStatus = SearchPending
				applyMetadata(r, patch)
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendVersion(id, entry)
			return err
		})
		return err
	})
	return updated, res, err
}

// applyProjectedOverrides sets typed columns named by the patch on top of the
// document-derived projection. Overrides apply in declaration order so the
// result never depends on map iteration.
func applyProjectedOverrides(p *Projected, overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	for key := range overrides {
		if !domain.IsProjectedKey(key) {
			return fmt.Errorf("unknown projected field %q", key)
		}
	}
	for _, key := range domain.ProjectedKeys() {
		v, ok := overrides[key]
		if !ok {
			continue
		}
		if err := domain.SetProjectedField(p, key, v); err != nil {
			return err
		}
	}
	return nil
}

func changesOrDefault(changes, fallback string) string {
	if changes == "" {
		return fallback
	}
	return changes
}

func applyMetadata(r *Record, patch RecordPatch) {
	if patch.Veterinarian != nil {
		r.Veterinarian = *patch.Veterinarian
	}
	if patch.VisitDate != nil {
		v := *patch.VisitDate
		r.VisitDate = &v
	}
	if patch.FarmID != nil {
		v := *patch.FarmID
		r.FarmID = &v
	}
}

// SoftDeleteRecord marks a record deleted and appends a snapshot entry so the
// ledger captures the final document. The ledger itself is never truncated.
// Deleting an already deleted record is rejected.
func (s *Service) SoftDeleteRecord(ctx context.Context, id, actor string) (Record, Result, error) {
	var deleted Record
	var res Result
	err := s.run(ctx, "soft_delete_record", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityRecord, ID: id}
			}
			if current.Status == StatusDeleted {
				return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: "record already deleted"}
			}
			next := current.CurrentVersion.Next()
			deleted, err = tx.UpdateRecord(id, func(r *Record) error {
				r.Status = StatusDeleted
				r.CurrentVersion = next
				r.SearchStatus = SearchPending
				return nil
			})
			if err != nil {
				return err
			}
			_, err = tx.AppendVersion(id, VersionEntry{
				Version:  next,
				Actor:    actor,
				Source:   SourceManualEdit,
				Changes:  "soft delete",
				Snapshot: current.Document.Clone(),
			})
			return err
		})
		if err != nil {
			return err
		}
		s.logger.Info("record soft deleted", "record_id", id, "version", deleted.CurrentVersion.String())
		return nil
	})
	return deleted, res, err
}

// RollbackOutcome reports a completed rollback for callers and audit sinks.
type RollbackOutcome struct {
	Record   Record       `json:"record"`
	Target   VersionLabel `json:"target_version"`
	Previous VersionLabel `json:"previous_version"`
	Current  VersionLabel `json:"current_version"`
}

// RollbackRecord restores the document exactly as it existed at the target
// version by appending a new snapshot entry. History is never rewritten and
// the version counter keeps moving forward.
func (s *Service) RollbackRecord(ctx context.Context, id string, target VersionLabel, actor string) (RollbackOutcome, Result, error) {
	var outcome RollbackOutcome
	var res Result
	err := s.run(ctx, "rollback_record", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindRecord(id)
			if !ok {
				return domain.NotFoundError{Entity: EntityRecord, ID: id}
			}
			if current.Status == StatusDeleted {
				return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: "record is deleted"}
			}
			doc, err := domain.ReconstructAt(id, tx.ListVersions(id), target)
			if err != nil {
				var nf domain.NotFoundError
				if errors.As(err, &nf) {
					return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: fmt.Sprintf("version %s does not exist", target)}
				}
				return err
			}
			projected := current.Projected
			if err := domain.ProjectDocument(&projected, doc); err != nil {
				return domain.InvalidStateError{Entity: EntityRecord, ID: id, Reason: err.Error()}
			}
			next := current.CurrentVersion.Next()
			record, err := tx.UpdateRecord(id, func(r *Record) error {
				r.Document = doc
				r.Projected = projected
				r.Rendering = domain.RenderDocument(doc)
				r.CurrentVersion = next
				r.SearchStatus = SearchPending
				return nil
			})
			if err != nil {
				return err
			}
			if _, err := tx.AppendVersion(id, VersionEntry{
				Version:  next,
				Actor:    actor,
				Source:   SourceRollback,
				Changes:  fmt.Sprintf("rollback to version %s", target),
				Snapshot: doc.Clone(),
			}); err != nil {
				return err
			}
			outcome = RollbackOutcome{
				Record:   record,
				Target:   target,
				Previous: current.CurrentVersion,
				Current:  next,
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Info("record rolled back",
			"record_id", id,
			"target_version", outcome.Target.String(),
			"new_version", outcome.Current.String())
		return nil
	})
	return outcome, res, err
}

// ReconstructDocument rebuilds the document exactly as it existed at the
// given version.
func (s *Service) ReconstructDocument(ctx context.Context, id string, version VersionLabel) (Document, error) {
	var doc Document
	err := s.run(ctx, "reconstruct_document", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindRecord(id); !ok {
				return domain.NotFoundError{Entity: EntityRecord, ID: id}
			}
			var err error
			doc, err = domain.ReconstructAt(id, view.ListVersions(id), version)
			return err
		})
	})
	return doc, err
}

// VersionComparison is the field-level diff between two versions of a record.
type VersionComparison struct {
	RecordID string       `json:"record_id"`
	From     VersionLabel `json:"from"`
	To       VersionLabel `json:"to"`
	Diff     Diff         `json:"diff"`
}

// CompareVersions reconstructs both versions and diffs them by top-level key.
func (s *Service) CompareVersions(ctx context.Context, id string, from, to VersionLabel) (VersionComparison, error) {
	var cmp VersionComparison
	err := s.run(ctx, "compare_versions", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindRecord(id); !ok {
				return domain.NotFoundError{Entity: EntityRecord, ID: id}
			}
			entries := view.ListVersions(id)
			a, err := domain.ReconstructAt(id, entries, from)
			if err != nil {
				return err
			}
			b, err := domain.ReconstructAt(id, entries, to)
			if err != nil {
				return err
			}
			cmp = VersionComparison{RecordID: id, From: from, To: to, Diff: domain.DiffDocuments(a, b)}
			return nil
		})
	})
	return cmp, err
}

// GetRecord returns a record by ID.
func (s *Service) GetRecord(ctx context.Context, id string) (Record, error) {
	var record Record
	err := s.run(ctx, "get_record", func(context.Context) error {
		r, ok := s.store.GetRecord(id)
		if !ok {
			return domain.NotFoundError{Entity: EntityRecord, ID: id}
		}
		record = r
		return nil
	})
	return record, err
}

// ListFilter narrows and paginates record listings. A nil Status excludes
// soft-deleted records; naming a status returns exactly that status.
type ListFilter struct {
	Status      *RecordStatus
	PoultryType *string
	FarmID      *string
	Owner       *string
	Page        int
	PageSize    int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RecordPage is one page of a filtered listing, newest first.
type RecordPage struct {
	Records  []Record `json:"records"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// ListRecords returns records matching the filter, newest first, paginated.
func (s *Service) ListRecords(ctx context.Context, filter ListFilter) (RecordPage, error) {
	var page RecordPage
	err := s.run(ctx, "list_records", func(context.Context) error {
		matched := make([]Record, 0)
		for _, r := range s.store.ListRecords() {
			if !matchesFilter(r, filter) {
				continue
			}
			matched = append(matched, r)
		}

		pageNo := filter.Page
		if pageNo < 1 {
			pageNo = 1
		}
		size := filter.PageSize
		if size < 1 {
			size = defaultPageSize
		}
		if size > maxPageSize {
			size = maxPageSize
		}
		start := (pageNo - 1) * size
		end := start + size
		if start > len(matched) {
			start = len(matched)
		}
		if end > len(matched) {
			end = len(matched)
		}
		page = RecordPage{
			Records:  matched[start:end],
			Total:    len(matched),
			Page:     pageNo,
			PageSize: size,
		}
		return nil
	})
	return page, err
}

func matchesFilter(r Record, filter ListFilter) bool {
	if filter.Status == nil {
		if r.Status == StatusDeleted {
			return false
		}
	} else if r.Status != *filter.Status {
		return false
	}
	if filter.PoultryType != nil {
		if r.Projected.PoultryType == nil || *r.Projected.PoultryType != *filter.PoultryType {
			return false
		}
	}
	if filter.FarmID != nil {
		if r.FarmID == nil || *r.FarmID != *filter.FarmID {
			return false
		}
	}
	if filter.Owner != nil && r.Owner != *filter.Owner {
		return false
	}
	return true
}

// ListVersions returns the record's full ledger in creation order.
func (s *Service) ListVersions(ctx context.Context, id string) ([]VersionEntry, error) {
	var entries []VersionEntry
	err := s.run(ctx, "list_versions", func(context.Context) error {
		if _, ok := s.store.GetRecord(id); !ok {
			return domain.NotFoundError{Entity: EntityRecord, ID: id}
		}
		entries = s.store.ListVersions(id)
		return nil
	})
	return entries, err
}

// VersionDetail pairs a ledger entry with the document reconstructed at its
// version.
type VersionDetail struct {
	Entry    VersionEntry `json:"entry"`
	Document Document     `json:"document"`
}

// GetVersion returns one ledger entry together with its reconstructed
// document.
func (s *Service) GetVersion(ctx context.Context, id string, version VersionLabel) (VersionDetail, error) {
	var detail VersionDetail
	err := s.run(ctx, "get_version", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindRecord(id); !ok {
				return domain.NotFoundError{Entity: EntityRecord, ID: id}
			}
			entry, ok := view.FindVersion(id, version)
			if !ok {
				return domain.NotFoundError{Entity: EntityVersion, ID: version.String()}
			}
			doc, err := domain.ReconstructAt(id, view.ListVersions(id), version)
			if err != nil {
				return err
			}
			detail = VersionDetail{Entry: entry, Document: doc}
			return nil
		})
	})
	return detail, err
}

// MarkIndexed flips the search freshness marker after the external indexing
// collaborator has caught up. No ledger entry is written; indexing does not
// change document content.
func (s *Service) MarkIndexed(ctx context.Context, id string) (Record, Result, error) {
	var record Record
	var res Result
	err := s.run(ctx, "mark_indexed", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			record, err = tx.UpdateRecord(id, func(r *Record) error {
				r.SearchStatus = SearchIndexed
				return nil
			})
			return err
		})
		return err
	})
	return record, res, err
}

// Attachment operations -------------------------------------------------------

func attachmentKey(recordID, name string) string {
	return "records/" + recordID + "/" + name
}

func (s *Service) requireAttachments(id string) error {
	if s.attachments == nil {
		return ErrNoAttachmentStore
	}
	if _, ok := s.store.GetRecord(id); !ok {
		return domain.NotFoundError{Entity: EntityRecord, ID: id}
	}
	return nil
}

// PutAttachment stores a media file under the record. Attachments are
// immutable; re-uploading an existing name fails.
func (s *Service) PutAttachment(ctx context.Context, recordID, name string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	var info blob.Info
	err := s.run(ctx, "put_attachment", func(ctx context.Context) error {
		if err := s.requireAttachments(recordID); err != nil {
			return err
		}
		var err error
		info, err = s.attachments.Put(ctx, attachmentKey(recordID, name), r, opts)
		return err
	})
	return info, err
}

// OpenAttachment returns attachment metadata and a reader over its content.
// The caller closes the reader.
func (s *Service) OpenAttachment(ctx context.Context, recordID, name string) (blob.Info, io.ReadCloser, error) {
	var info blob.Info
	var rc io.ReadCloser
	err := s.run(ctx, "open_attachment", func(ctx context.Context) error {
		if err := s.requireAttachments(recordID); err != nil {
			return err
		}
		var err error
		info, rc, err = s.attachments.Get(ctx, attachmentKey(recordID, name))
		return err
	})
	return info, rc, err
}

// ListAttachments returns the record's attachments sorted by key.
func (s *Service) ListAttachments(ctx context.Context, recordID string) ([]blob.Info, error) {
	var infos []blob.Info
	err := s.run(ctx, "list_attachments", func(ctx context.Context) error {
		if err := s.requireAttachments(recordID); err != nil {
			return err
		}
		var err error
		infos, err = s.attachments.List(ctx, attachmentKey(recordID, ""))
		return err
	})
	return infos, err
}

// AttachmentURL returns a presigned download URL for one attachment. Drivers
// without URL signing return blob.ErrUnsupported.
func (s *Service) AttachmentURL(ctx context.Context, recordID, name string, expiry time.Duration) (string, error) {
	var url string
	err := s.run(ctx, "attachment_url", func(ctx context.Context) error {
		if err := s.requireAttachments(recordID); err != nil {
			return err
		}
		var err error
		url, err = s.attachments.PresignURL(ctx, attachmentKey(recordID, name), blob.SignedURLOptions{
			Method: "GET",
			Expiry: expiry,
		})
		return err
	})
	return url, err
}

// DeleteAttachment removes one attachment, reporting whether it existed.
func (s *Service) DeleteAttachment(ctx context.Context, recordID, name string) (bool, error) {
	var existed bool
	err := s.run(ctx, "delete_attachment", func(ctx context.Context) error {
		if err := s.requireAttachments(recordID); err != nil {
			return err
		}
		var err error
		existed, err = s.attachments.Delete(ctx, attachmentKey(recordID, name))
		return err
	})
	return existed, err
}
