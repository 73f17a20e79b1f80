package domain

// ReconstructAt rebuilds the document exactly as it existed at the given
// version by folding deltas onto the nearest preceding snapshot. The entries
// must be the record's complete ledger in creation order.
//
// The fold always restarts from a snapshot: deltas are interpreted relative to
// the nearest preceding snapshot only, never relative to another delta's cached
// output. A target entry that itself carries a snapshot is returned directly.
func ReconstructAt(recordID string, entries []VersionEntry, version VersionLabel) (Document, error) {
	target := -1
	for i, entry := range entries {
		if entry.Version == version {
			target = i
			break
		}
	}
	if target < 0 {
		return nil, NotFoundError{Entity: EntityVersion, ID: version.String()}
	}
	if entries[target].IsSnapshot() {
		return entries[target].Snapshot.Clone(), nil
	}

	base := -1
	for i := target - 1; i >= 0; i-- {
		if entries[i].IsSnapshot() {
			base = i
			break
		}
	}
	if base < 0 {
		return nil, CorruptHistoryError{RecordID: recordID, Version: version}
	}

	doc := entries[base].Snapshot.Clone()
	for i := base + 1; i <= target; i++ {
		if entries[i].Delta == nil {
			// An interior snapshot cannot occur between the nearest snapshot
			// and the target; a delta-less, snapshot-less entry is corrupt.
			return nil, CorruptHistoryError{RecordID: recordID, Version: entries[i].Version}
		}
		doc = entries[i].Delta.Apply(doc)
	}
	return doc, nil
}
