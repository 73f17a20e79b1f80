package domain

import (
	"errors"
	"reflect"
	"testing"
)

func label(t *testing.T, s string) VersionLabel {
	t.Helper()
	v, err := ParseVersion(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return v
}

func snapshotEntry(t *testing.T, version string, doc Document) VersionEntry {
	t.Helper()
	return VersionEntry{Version: label(t, version), Source: SourceManualEdit, Snapshot: doc}
}

func deltaEntry(t *testing.T, version string, delta DocumentDelta) VersionEntry {
	t.Helper()
	return VersionEntry{Version: label(t, version), Source: SourceManualEdit, Delta: &delta}
}

func TestReconstructAtSnapshotTarget(t *testing.T) {
	entries := []VersionEntry{
		snapshotEntry(t, "1.0", Document{"notes": "origin"}),
		deltaEntry(t, "1.1", DocumentDelta{Fields: map[string]any{"notes": "later"}}),
	}
	doc, err := ReconstructAt("r1", entries, label(t, "1.0"))
	if err != nil {
		t.Fatalf("reconstruct 1.0: %v", err)
	}
	if doc["notes"] != "origin" {
		t.Fatalf("snapshot target = %v", doc)
	}
}

func TestReconstructAtFoldsDeltas(t *testing.T) {
	entries := []VersionEntry{
		snapshotEntry(t, "1.0", Document{"a": "0", "b": "0"}),
		deltaEntry(t, "1.1", DocumentDelta{Fields: map[string]any{"a": "1"}}),
		deltaEntry(t, "1.2", DocumentDelta{Fields: map[string]any{"b": "2"}}),
		deltaEntry(t, "1.3", DocumentDelta{Fields: map[string]any{"a": "3"}}),
	}
	doc, err := ReconstructAt("r1", entries, label(t, "1.2"))
	if err != nil {
		t.Fatalf("reconstruct 1.2: %v", err)
	}
	want := Document{"a": "1", "b": "2"}
	if !reflect.DeepEqual(doc, want) {
		t.Fatalf("folded doc = %v, want %v", doc, want)
	}
}

func TestReconstructAtNearestSnapshotWins(t *testing.T) {
	entries := []VersionEntry{
		snapshotEntry(t, "1.0", Document{"x": "old"}),
		deltaEntry(t, "1.1", DocumentDelta{Fields: map[string]any{"x": "stale"}}),
		snapshotEntry(t, "1.10", Document{"x": "fresh"}),
		deltaEntry(t, "1.11", DocumentDelta{Fields: map[string]any{"y": "v"}}),
	}
	doc, err := ReconstructAt("r1", entries, label(t, "1.11"))
	if err != nil {
		t.Fatalf("reconstruct 1.11: %v", err)
	}
	if doc["x"] != "fresh" || doc["y"] != "v" {
		t.Fatalf("fold did not restart at nearest snapshot: %v", doc)
	}
}

func TestReconstructAtUnknownVersion(t *testing.T) {
	entries := []VersionEntry{snapshotEntry(t, "1.0", Document{})}
	_, err := ReconstructAt("r1", entries, label(t, "1.5"))
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestReconstructAtCorruptHistory(t *testing.T) {
	entries := []VersionEntry{
		deltaEntry(t, "1.1", DocumentDelta{Fields: map[string]any{"a": "1"}}),
		deltaEntry(t, "1.2", DocumentDelta{Fields: map[string]any{"a": "2"}}),
	}
	_, err := ReconstructAt("r1", entries, label(t, "1.2"))
	var corrupt CorruptHistoryError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptHistoryError, got %v", err)
	}
}
