// Package records provides the HTTP adapter over the record service. It is a
// thin mapping layer; permission checks are assumed done by the caller.
package records

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vetcore/internal/blob"
	"vetcore/internal/core"
	"vetcore/pkg/domain"
)

const basePath = "/api/v1/records"

// Handler provides HTTP access to medical records, their version ledgers, and
// attachments.
type Handler struct {
	Service *core.Service
	Audit   AuditLogger
}

// NewHandler constructs a record HTTP handler.
func NewHandler(service *core.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "record service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == basePath && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case path == basePath && r.Method == http.MethodGet:
		h.handleList(w, r)
	case strings.HasPrefix(path, basePath+"/"):
		h.handleRecord(w, r, strings.TrimPrefix(path, basePath+"/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodPut:
			h.handleUpdate(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	switch segments[1] {
	case "versions":
		h.handleVersions(w, r, id, segments[2:])
	case "compare":
		h.handleCompare(w, r, id)
	case "rollback":
		h.handleRollback(w, r, id)
	case "indexed":
		h.handleMarkIndexed(w, r, id)
	case "attachments":
		h.handleAttachments(w, r, id, segments[2:])
	default:
		http.NotFound(w, r)
	}
}

type createRequest struct {
	Owner        string          `json:"owner"`
	Veterinarian string          `json:"veterinarian,omitempty"`
	FarmID       *string         `json:"farm_id,omitempty"`
	VisitDate    *string         `json:"visit_date,omitempty"`
	Actor        string          `json:"actor"`
	Document     domain.Document `json:"document"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	record, _, err := h.Service.CreateRecord(r.Context(), core.CreateRecordInput{
		Owner:        req.Owner,
		Veterinarian: req.Veterinarian,
		FarmID:       req.FarmID,
		VisitDate:    req.VisitDate,
		Actor:        req.Actor,
		Document:     req.Document,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"record": record})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ListFilter{}
	if v := q.Get("status"); v != "" {
		status := domain.RecordStatus(v)
		filter.Status = &status
	}
	if v := q.Get("poultry_type"); v != "" {
		filter.PoultryType = &v
	}
	if v := q.Get("farm_id"); v != "" {
		filter.FarmID = &v
	}
	if v := q.Get("owner"); v != "" {
		filter.Owner = &v
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	page, err := h.Service.ListRecords(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.Service.GetRecord(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

type updateRequest struct {
	Document           domain.Document `json:"document,omitempty"`
	Fields             map[string]any  `json:"fields,omitempty"`
	ProjectedOverrides map[string]any  `json:"projected_overrides,omitempty"`
	Veterinarian       *string         `json:"veterinarian,omitempty"`
	VisitDate          *string         `json:"visit_date,omitempty"`
	FarmID             *string         `json:"farm_id,omitempty"`
	Actor              string          `json:"actor"`
	Changes            string          `json:"changes,omitempty"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	record, _, err := h.Service.UpdateRecord(r.Context(), id, core.RecordPatch{
		Document:           req.Document,
		Fields:             req.Fields,
		ProjectedOverrides: req.ProjectedOverrides,
		Veterinarian:       req.Veterinarian,
		VisitDate:          req.VisitDate,
		FarmID:             req.FarmID,
		Actor:              req.Actor,
		Changes:            req.Changes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	actor := r.URL.Query().Get("actor")
	record, _, err := h.Service.SoftDeleteRecord(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.audit(r, AuditEntry{
		Action:    "soft_delete",
		Actor:     actor,
		RecordID:  record.ID,
		ToVersion: record.CurrentVersion.String(),
		Detail:    auditDetail(record),
	})
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if len(rest) == 0 {
		entries, err := h.Service.ListVersions(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": entries})
		return
	}
	if len(rest) != 1 {
		http.NotFound(w, r)
		return
	}
	version, err := domain.ParseVersion(rest[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed version label")
		return
	}
	detail, err := h.Service.GetVersion(r.Context(), id, version)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleCompare(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	from, err := domain.ParseVersion(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed from version")
		return
	}
	to, err := domain.ParseVersion(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed to version")
		return
	}
	cmp, err := h.Service.CompareVersions(r.Context(), id, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

type rollbackRequest struct {
	Version string `json:"version"`
	Actor   string `json:"actor"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	target, err := domain.ParseVersion(req.Version)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed version label")
		return
	}
	outcome, _, err := h.Service.RollbackRecord(r.Context(), id, target, req.Actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.audit(r, AuditEntry{
		Action:      "rollback",
		Actor:       req.Actor,
		RecordID:    id,
		FromVersion: outcome.Previous.String(),
		ToVersion:   outcome.Current.String(),
		Metadata:    map[string]any{"target_version": outcome.Target.String()},
		Detail:      auditDetail(outcome.Record),
	})
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleMarkIndexed(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	record, _, err := h.Service.MarkIndexed(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (h *Handler) handleAttachments(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		infos, err := h.Service.ListAttachments(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": infos})
		return
	}
	if len(rest) == 2 && rest[0] != "" && rest[1] == "url" {
		h.handleAttachmentURL(w, r, id, rest[0])
		return
	}
	if len(rest) != 1 || rest[0] == "" {
		http.NotFound(w, r)
		return
	}
	name := rest[0]
	switch r.Method {
	case http.MethodPut:
		info, err := h.Service.PutAttachment(r.Context(), id, name, r.Body, blob.PutOptions{
			ContentType: r.Header.Get("Content-Type"),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"attachment": info})
	case http.MethodGet:
		info, rc, err := h.Service.OpenAttachment(r.Context(), id, name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		defer func() { _ = rc.Close() }()
		if info.ContentType != "" {
			w.Header().Set("Content-Type", info.ContentType)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, rc)
	case http.MethodDelete:
		existed, err := h.Service.DeleteAttachment(r.Context(), id, name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !existed {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAttachmentURL issues a presigned download URL. The expiry query
// parameter accepts a Go duration; backends without URL signing yield 501.
func (h *Handler) handleAttachmentURL(w http.ResponseWriter, r *http.Request, id, name string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var expiry time.Duration
	if raw := r.URL.Query().Get("expiry"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid expiry duration")
			return
		}
		expiry = d
	}
	url, err := h.Service.AttachmentURL(r.Context(), id, name, expiry)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func auditDetail(v any) domain.ChangePayload {
	payload, err := domain.NewChangePayloadFromValue(v)
	if err != nil {
		return domain.UndefinedChangePayload()
	}
	return payload
}

func (h *Handler) audit(r *http.Request, entry AuditEntry) {
	if h.Audit == nil {
		return
	}
	entry.OccurredAt = time.Now().UTC()
	h.Audit.Record(r.Context(), entry)
}

// writeDomainError maps domain error types to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound     domain.NotFoundError
		invalidState domain.InvalidStateError
		conflict     domain.ConflictError
		corrupt      domain.CorruptHistoryError
		ruleErr      domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &invalidState):
		writeError(w, http.StatusBadRequest, invalidState.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &corrupt):
		writeError(w, http.StatusInternalServerError, corrupt.Error())
	case errors.As(err, &ruleErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "transaction blocked by rules",
			"violations": ruleErr.Result.Violations,
		})
	case errors.Is(err, core.ErrNoAttachmentStore), errors.Is(err, blob.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
