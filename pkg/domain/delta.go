package domain

// DocumentDelta is the partial payload of a non-snapshot ledger entry. It has
// two shapes which may coexist on a single entry: Replace carries an entire new
// document recorded when a mutation wholesale-replaced the canonical content,
// and Fields carries the explicitly changed top-level keys of the same
// mutation. Reconstruction applies Replace first, then folds Fields on top.
type DocumentDelta struct {
	// No omitempty: replacing with an empty document is a meaningful wipe and
	// must survive serialization as {} rather than collapse into a zero delta.
	Replace Document       `json:"replace"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// IsZero reports whether the delta carries no payload at all.
func (d DocumentDelta) IsZero() bool {
	return d.Replace == nil && len(d.Fields) == 0
}

// Apply folds the delta onto base and returns the resulting document. A
// full-replace discards base entirely; field merges set only the keys they
// name. The input document is never mutated.
func (d DocumentDelta) Apply(base Document) Document {
	out := base.Clone()
	if d.Replace != nil {
		out = d.Replace.Clone()
	}
	if len(d.Fields) > 0 && out == nil {
		out = Document{}
	}
	for k, v := range d.Fields {
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of the delta.
func (d DocumentDelta) Clone() DocumentDelta {
	cp := DocumentDelta{Replace: d.Replace.Clone()}
	if d.Fields != nil {
		cp.Fields = make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			cp.Fields[k] = cloneValue(v)
		}
	}
	return cp
}
