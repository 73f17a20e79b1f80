package domain

import (
	"fmt"
	"sort"
	"strings"
)

// projectedColumn binds one document key to the typed column it mirrors into.
// The table is enumerated and evaluated in declaration order so projection
// behavior stays exhaustively testable; no reflection over the document.
type projectedColumn struct {
	key   string
	apply func(*Projected, any) error
}

var projectedColumns = []projectedColumn{
	{"primary_diagnosis", func(p *Projected, v any) error { return setString(&p.PrimaryDiagnosis, "primary_diagnosis", v) }},
	{"icd_code", func(p *Projected, v any) error { return setString(&p.ICDCode, "icd_code", v) }},
	{"confidence", func(p *Projected, v any) error { return setFloat(&p.Confidence, "confidence", v) }},
	{"severity", func(p *Projected, v any) error { return setString(&p.Severity, "severity", v) }},
	{"is_reportable", func(p *Projected, v any) error { return setBool(&p.IsReportable, "is_reportable", v) }},
	{"poultry_type", func(p *Projected, v any) error { return setString(&p.PoultryType, "poultry_type", v) }},
	{"breed", func(p *Projected, v any) error { return setString(&p.Breed, "breed", v) }},
	{"age_days", func(p *Projected, v any) error { return setInt(&p.AgeDays, "age_days", v) }},
	{"affected_count", func(p *Projected, v any) error { return setInt(&p.AffectedCount, "affected_count", v) }},
	{"total_flock", func(p *Projected, v any) error { return setInt(&p.TotalFlock, "total_flock", v) }},
}

// ProjectedKeys returns the document keys mirrored into typed columns, in
// evaluation order.
func ProjectedKeys() []string {
	keys := make([]string, len(projectedColumns))
	for i, col := range projectedColumns {
		keys[i] = col.key
	}
	return keys
}

// IsProjectedKey reports whether key is mirrored into a typed column.
func IsProjectedKey(key string) bool {
	for _, col := range projectedColumns {
		if col.key == key {
			return true
		}
	}
	return false
}

// ProjectDocument mirrors every projected key present as a top-level key of doc
// into the typed columns of p. Keys absent from doc leave the previously
// observed values untouched (last-write-wins per key). Pure: doc is not read
// beyond its top level and p is the only thing written.
func ProjectDocument(p *Projected, doc Document) error {
	for _, col := range projectedColumns {
		v, ok := doc[col.key]
		if !ok {
			continue
		}
		if err := col.apply(p, v); err != nil {
			return err
		}
	}
	return nil
}

// SetProjectedField applies a single explicit override to the typed column
// named by key, independent of the document.
func SetProjectedField(p *Projected, key string, value any) error {
	for _, col := range projectedColumns {
		if col.key == key {
			return col.apply(p, value)
		}
	}
	return fmt.Errorf("unknown projected field %q", key)
}

func setString(dst **string, key string, v any) error {
	if v == nil {
		*dst = nil
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%s: expected string, got %T", key, v)
	}
	*dst = &s
	return nil
}

func setFloat(dst **float64, key string, v any) error {
	if v == nil {
		*dst = nil
		return nil
	}
	switch val := v.(type) {
	case float64:
		*dst = &val
	case int:
		f := float64(val)
		*dst = &f
	default:
		return fmt.Errorf("%s: expected number, got %T", key, v)
	}
	return nil
}

func setInt(dst **int, key string, v any) error {
	if v == nil {
		*dst = nil
		return nil
	}
	switch val := v.(type) {
	case int:
		*dst = &val
	case float64:
		// JSON numbers decode as float64; whole values are accepted.
		i := int(val)
		if float64(i) != val {
			return fmt.Errorf("%s: expected integer, got %v", key, val)
		}
		*dst = &i
	default:
		return fmt.Errorf("%s: expected integer, got %T", key, v)
	}
	return nil
}

func setBool(dst **bool, key string, v any) error {
	if v == nil {
		*dst = nil
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("%s: expected bool, got %T", key, v)
	}
	*dst = &b
	return nil
}

// RenderDocument builds the deterministic human-readable summary regenerated on
// every successful mutation. Sections are emitted in a fixed order and only
// when present in the document; map contents print in sorted key order.
func RenderDocument(doc Document) string {
	var b strings.Builder
	b.WriteString("# Medical Record\n")

	if info, ok := doc["basic_info"].(map[string]any); ok {
		b.WriteString("\n## Basic Info\n")
		writeSortedPairs(&b, info)
	}

	if diag, ok := doc["primary_diagnosis"]; ok {
		b.WriteString("\n## Diagnosis\n")
		fmt.Fprintf(&b, "- **primary_diagnosis**: %v\n", diag)
		if sev, ok := doc["severity"]; ok {
			fmt.Fprintf(&b, "- **severity**: %v\n", sev)
		}
	}

	if symptoms, ok := doc["symptoms"]; ok {
		b.WriteString("\n## Symptoms\n")
		writeSection(&b, symptoms)
	}

	if treatment, ok := doc["treatment"]; ok {
		b.WriteString("\n## Treatment\n")
		writeSection(&b, treatment)
	}

	if notes, ok := doc["notes"]; ok {
		b.WriteString("\n## Notes\n")
		fmt.Fprintf(&b, "%v\n", notes)
	}

	return b.String()
}

func writeSection(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		writeSortedPairs(b, val)
	case []any:
		for _, item := range val {
			fmt.Fprintf(b, "- %v\n", item)
		}
	default:
		fmt.Fprintf(b, "- %v\n", val)
	}
}

func writeSortedPairs(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- **%s**: %v\n", k, m[k])
	}
}
