package records_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vetcore/internal/adapters/records"
	"vetcore/internal/core"
	fsblob "vetcore/internal/infra/blob/fs"
	memblob "vetcore/internal/infra/blob/memory"
	"vetcore/pkg/domain"
)

func newTestHandler(t *testing.T) (*records.Handler, *records.MemoryAuditLog) {
	t.Helper()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(),
		core.WithAttachmentStore(memblob.New()))
	handler := records.NewHandler(svc)
	audit := records.NewMemoryAuditLog()
	handler.Audit = audit
	return handler, audit
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Record map[string]any `json:"record"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Record
}

func createViaHTTP(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/records", map[string]any{
		"owner": "farm-a",
		"actor": "vet-1",
		"document": map[string]any{
			"primary_diagnosis": "coccidiosis",
			"severity":          "mild",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	record := decodeRecord(t, rec)
	id, _ := record["id"].(string)
	if id == "" {
		t.Fatalf("no record id in %v", record)
	}
	return id
}

func TestCreateAndGetRecord(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createViaHTTP(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	record := decodeRecord(t, rec)
	if record["current_version"] != "1.0" {
		t.Fatalf("current_version = %v", record["current_version"])
	}
}

func TestGetUnknownRecordIs404(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/records/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateAndVersionEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createViaHTTP(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/records/"+id, map[string]any{
		"fields": map[string]any{"severity": "severe"},
		"actor":  "vet-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/versions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("versions status = %d", rec.Code)
	}
	var listed struct {
		Versions []map[string]any `json:"versions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(listed.Versions) != 2 {
		t.Fatalf("versions = %d", len(listed.Versions))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/versions/1.0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version detail status = %d", rec.Code)
	}
	var detail struct {
		Document map[string]any `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Document["severity"] != "mild" {
		t.Fatalf("reconstructed 1.0 = %v", detail.Document)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/compare?from=1.0&to=1.1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("compare status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "severe") {
		t.Fatalf("compare body = %s", rec.Body.String())
	}
}

func TestDeleteEmitsAudit(t *testing.T) {
	handler, audit := newTestHandler(t)
	id := createViaHTTP(t, handler)

	rec := doJSON(t, handler, http.MethodDelete, "/api/v1/records/"+id+"?actor=vet-2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d body=%s", rec.Code, rec.Body.String())
	}

	entries := audit.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d", len(entries))
	}
	if entries[0].Action != "soft_delete" || entries[0].Actor != "vet-2" || entries[0].RecordID != id {
		t.Fatalf("audit entry = %+v", entries[0])
	}
	if !entries[0].Detail.Defined() {
		t.Fatal("audit entry carries no detail payload")
	}
	var deleted domain.Record
	if err := entries[0].Detail.Decode(&deleted); err != nil {
		t.Fatalf("decode audit detail: %v", err)
	}
	if deleted.Status != domain.StatusDeleted {
		t.Fatalf("audit detail status = %s", deleted.Status)
	}

	// Second delete maps InvalidState to 400.
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/records/"+id, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("double delete status = %d", rec.Code)
	}
}

func TestRollbackEndpoint(t *testing.T) {
	handler, audit := newTestHandler(t)
	id := createViaHTTP(t, handler)

	for i := 1; i <= 2; i++ {
		rec := doJSON(t, handler, http.MethodPut, "/api/v1/records/"+id, map[string]any{
			"fields": map[string]any{"notes": fmt.Sprintf("v%d", i)},
			"actor":  "vet-1",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("update %d status = %d", i, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/records/"+id+"/rollback", map[string]any{
		"version": "1.1",
		"actor":   "vet-2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback status = %d body=%s", rec.Code, rec.Body.String())
	}
	var outcome struct {
		Current string `json:"current_version"`
		Target  string `json:"target_version"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if outcome.Current != "1.3" || outcome.Target != "1.1" {
		t.Fatalf("outcome = %+v", outcome)
	}

	entries := audit.Entries()
	if len(entries) != 1 || entries[0].Action != "rollback" {
		t.Fatalf("audit entries = %+v", entries)
	}

	// Rollback to a label the ledger never produced maps to 400.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/records/"+id+"/rollback", map[string]any{
		"version": "1.99",
		"actor":   "vet-2",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("rollback unknown version status = %d", rec.Code)
	}
}

func TestRuleViolationMapsTo422(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/records", map[string]any{
		"owner": "farm-a",
		"actor": "vet-1",
		"document": map[string]any{
			"affected_count": 500,
			"total_flock":    100,
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "violations") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAttachmentEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createViaHTTP(t, handler)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/records/"+id+"/attachments/necropsy.jpg", bytes.NewReader([]byte("image-bytes")))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/attachments", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "necropsy.jpg") {
		t.Fatalf("list status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/attachments/necropsy.jpg", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "image-bytes" {
		t.Fatalf("download status = %d body=%q", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/records/"+id+"/attachments/necropsy.jpg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/records/"+id+"/attachments/necropsy.jpg", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestAttachmentURLEndpoint(t *testing.T) {
	fsStore, err := fsblob.New(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(), core.WithAttachmentStore(fsStore))
	handler := records.NewHandler(svc)
	id := createViaHTTP(t, handler)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/records/"+id+"/attachments/xray.png", bytes.NewReader([]byte("png")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/attachments/xray.png/url?expiry=10m", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("url status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode url response: %v", err)
	}
	if resp.URL != "http://local.blob/records/"+id+"/xray.png" {
		t.Fatalf("url = %s", resp.URL)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/attachments/xray.png/url?expiry=soon", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad expiry status = %d", rec.Code)
	}
}

func TestAttachmentURLUnsupported(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createViaHTTP(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/records/"+id+"/attachments/xray.png/url", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("unsupported driver status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestListEndpointFilters(t *testing.T) {
	handler, _ := newTestHandler(t)
	createViaHTTP(t, handler)
	id := createViaHTTP(t, handler)
	doJSON(t, handler, http.MethodDelete, "/api/v1/records/"+id+"?actor=vet-1", nil)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/records", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("default list total = %d", page.Total)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/records?status=deleted", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("deleted list total = %d", page.Total)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)
	id := createViaHTTP(t, handler)
	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/records/"+id, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
