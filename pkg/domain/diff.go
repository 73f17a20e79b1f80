package domain

import "reflect"

// FieldChange pairs the old and new values of one modified top-level key.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff is a shallow field-level comparison of two documents over the union of
// their top-level keys. Equal keys are omitted.
type Diff struct {
	Added    map[string]any         `json:"added"`
	Removed  map[string]any         `json:"removed"`
	Modified map[string]FieldChange `json:"modified"`
}

// IsEmpty reports whether the two documents compared equal on every key.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// DiffDocuments compares a and b key-by-key: a key present only in b is added,
// only in a is removed, present in both with structurally unequal values is
// modified. Comparison is shallow by top-level key; nested values are compared
// structurally as a whole, never descended into.
func DiffDocuments(a, b Document) Diff {
	diff := Diff{
		Added:    map[string]any{},
		Removed:  map[string]any{},
		Modified: map[string]FieldChange{},
	}
	for key, bv := range b {
		av, ok := a[key]
		switch {
		case !ok:
			diff.Added[key] = cloneValue(bv)
		case !reflect.DeepEqual(av, bv):
			diff.Modified[key] = FieldChange{Old: cloneValue(av), New: cloneValue(bv)}
		}
	}
	for key, av := range a {
		if _, ok := b[key]; !ok {
			diff.Removed[key] = cloneValue(av)
		}
	}
	return diff
}
