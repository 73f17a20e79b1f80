package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"vetcore/internal/infra/persistence/memory"
	"vetcore/pkg/domain"
)

func TestNewStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	})
	defer restore()

	store, err := NewStore("postgres://db.invalid/vetcore", domain.NewRulesEngine())
	if err == nil {
		t.Fatal("expected open error")
	}
	if store != nil {
		t.Fatalf("expected nil store, got %T", store)
	}
}

func TestCaptureTxRemembersMutations(t *testing.T) {
	mem := memory.NewStore(domain.NewRulesEngine())
	capture := &captureTx{}

	_, err := mem.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		capture.inner = tx
		created, err := capture.CreateRecord(domain.Record{
			RecordNo:       "EMR-20260830-ABCDEF",
			Owner:          "owner-1",
			CurrentVersion: domain.FirstVersion,
			Status:         domain.StatusActive,
			SearchStatus:   domain.SearchPending,
			Document:       domain.Document{"symptoms": "lethargy"},
		})
		if err != nil {
			return err
		}
		if _, err := capture.AppendVersion(created.ID, domain.VersionEntry{
			Version:  domain.FirstVersion,
			Actor:    "vet-1",
			Source:   domain.SourceManualEdit,
			Snapshot: domain.Document{"symptoms": "lethargy"},
		}); err != nil {
			return err
		}
		if _, err := capture.UpdateRecord(created.ID, func(r *domain.Record) error {
			r.SearchStatus = domain.SearchIndexed
			return nil
		}); err != nil {
			return err
		}
		if _, ok := capture.FindRecord(created.ID); !ok {
			return errors.New("record not visible through capture")
		}
		if got := len(capture.ListVersions(created.ID)); got != 1 {
			return errors.New("ledger not visible through capture")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	if len(capture.records) != 2 {
		t.Fatalf("captured records = %d, want 2 (create + update)", len(capture.records))
	}
	if len(capture.entries) != 1 {
		t.Fatalf("captured entries = %d, want 1", len(capture.entries))
	}
	if capture.records[1].SearchStatus != domain.SearchIndexed {
		t.Fatalf("captured update carries status %s", capture.records[1].SearchStatus)
	}
	if capture.entries[0].Version != domain.FirstVersion {
		t.Fatalf("captured entry version %s", capture.entries[0].Version)
	}
}

func TestCaptureTxSkipsFailedMutations(t *testing.T) {
	mem := memory.NewStore(domain.NewRulesEngine())
	capture := &captureTx{}

	_, err := mem.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		capture.inner = tx
		if _, err := capture.AppendVersion("no-such-record", domain.VersionEntry{
			Version:  domain.FirstVersion,
			Actor:    "vet-1",
			Source:   domain.SourceManualEdit,
			Snapshot: domain.Document{},
		}); err == nil {
			return errors.New("expected append to unknown record to fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(capture.entries) != 0 {
		t.Fatalf("failed append must not be captured, got %d entries", len(capture.entries))
	}
}
