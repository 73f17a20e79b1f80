package domain

import (
	"reflect"
	"testing"
)

func TestDeltaApplyFields(t *testing.T) {
	base := Document{"primary_diagnosis": "coccidiosis", "notes": "initial"}
	delta := DocumentDelta{Fields: map[string]any{"notes": "follow-up", "severity": "severe"}}

	got := delta.Apply(base)

	want := Document{"primary_diagnosis": "coccidiosis", "notes": "follow-up", "severity": "severe"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("apply fields = %v, want %v", got, want)
	}
	if base["notes"] != "initial" {
		t.Fatalf("base mutated: %v", base)
	}
}

func TestDeltaApplyReplaceThenFields(t *testing.T) {
	base := Document{"old": "gone"}
	delta := DocumentDelta{
		Replace: Document{"primary_diagnosis": "newcastle disease", "severity": "mild"},
		Fields:  map[string]any{"severity": "severe"},
	}

	got := delta.Apply(base)

	if _, ok := got["old"]; ok {
		t.Fatalf("replace kept stale key: %v", got)
	}
	if got["severity"] != "severe" {
		t.Fatalf("field override lost: %v", got)
	}
	if got["primary_diagnosis"] != "newcastle disease" {
		t.Fatalf("replace content lost: %v", got)
	}
}

func TestDeltaApplyDetachesNestedValues(t *testing.T) {
	delta := DocumentDelta{Fields: map[string]any{"treatment": map[string]any{"drug": "amprolium"}}}
	got := delta.Apply(Document{})
	delta.Fields["treatment"].(map[string]any)["drug"] = "changed"
	if got["treatment"].(map[string]any)["drug"] != "amprolium" {
		t.Fatalf("applied value shares memory with delta")
	}
}

func TestDeltaIsZero(t *testing.T) {
	if !(DocumentDelta{}).IsZero() {
		t.Fatalf("empty delta should be zero")
	}
	if (DocumentDelta{Fields: map[string]any{"a": 1}}).IsZero() {
		t.Fatalf("field delta should not be zero")
	}
	if (DocumentDelta{Replace: Document{}}).IsZero() {
		t.Fatalf("replace delta should not be zero")
	}
}
