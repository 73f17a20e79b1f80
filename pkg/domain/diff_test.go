package domain

import (
	"reflect"
	"testing"
)

func TestDiffDocuments(t *testing.T) {
	a := Document{
		"primary_diagnosis": "coccidiosis",
		"severity":          "mild",
		"notes":             "day one",
	}
	b := Document{
		"primary_diagnosis": "coccidiosis",
		"severity":          "severe",
		"icd_code":          "A07.3",
	}

	diff := DiffDocuments(a, b)

	if !reflect.DeepEqual(diff.Added, map[string]any{"icd_code": "A07.3"}) {
		t.Fatalf("added = %v", diff.Added)
	}
	if !reflect.DeepEqual(diff.Removed, map[string]any{"notes": "day one"}) {
		t.Fatalf("removed = %v", diff.Removed)
	}
	want := map[string]FieldChange{"severity": {Old: "mild", New: "severe"}}
	if !reflect.DeepEqual(diff.Modified, want) {
		t.Fatalf("modified = %v, want %v", diff.Modified, want)
	}
}

func TestDiffDocumentsNestedStructural(t *testing.T) {
	a := Document{"treatment": map[string]any{"drug": "amprolium", "days": 5.0}}
	b := Document{"treatment": map[string]any{"drug": "amprolium", "days": 5.0}}
	if diff := DiffDocuments(a, b); !diff.IsEmpty() {
		t.Fatalf("structurally equal nested values flagged: %+v", diff)
	}

	b["treatment"].(map[string]any)["days"] = 7.0
	diff := DiffDocuments(a, b)
	if len(diff.Modified) != 1 {
		t.Fatalf("nested change not detected: %+v", diff)
	}
	// Whole-value comparison: the change surfaces under the top-level key.
	if _, ok := diff.Modified["treatment"]; !ok {
		t.Fatalf("expected treatment in modified, got %+v", diff.Modified)
	}
}

func TestDiffDocumentsSymmetry(t *testing.T) {
	a := Document{
		"primary_diagnosis": "coccidiosis",
		"severity":          "mild",
		"notes":             "day one",
	}
	b := Document{
		"primary_diagnosis": "coccidiosis",
		"severity":          "severe",
		"icd_code":          "A07.3",
	}

	forward := DiffDocuments(a, b)
	reverse := DiffDocuments(b, a)

	if !reflect.DeepEqual(forward.Added, reverse.Removed) {
		t.Fatalf("forward added %v != reverse removed %v", forward.Added, reverse.Removed)
	}
	if !reflect.DeepEqual(forward.Removed, reverse.Added) {
		t.Fatalf("forward removed %v != reverse added %v", forward.Removed, reverse.Added)
	}
	for key, change := range forward.Modified {
		back, ok := reverse.Modified[key]
		if !ok {
			t.Fatalf("key %s modified forward but not in reverse", key)
		}
		if !reflect.DeepEqual(change.Old, back.New) || !reflect.DeepEqual(change.New, back.Old) {
			t.Fatalf("key %s: forward %+v, reverse %+v", key, change, back)
		}
	}
	if len(forward.Modified) != len(reverse.Modified) {
		t.Fatalf("modified sets differ: %v vs %v", forward.Modified, reverse.Modified)
	}
}

func TestDiffDocumentsEmpty(t *testing.T) {
	doc := Document{"a": 1.0}
	if diff := DiffDocuments(doc, doc.Clone()); !diff.IsEmpty() {
		t.Fatalf("identical documents produced diff: %+v", diff)
	}
}
