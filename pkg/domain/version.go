package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// snapshotCadence is the minor-version interval at which the ledger stores a
// full snapshot instead of a delta. Reconstruction therefore folds at most
// snapshotCadence-1 deltas onto the nearest snapshot.
const snapshotCadence = 10

// VersionLabel is a "<major>.<minor>" version identifier. The major component
// is reserved and stays 1; every mutation increments the minor component by one.
type VersionLabel struct {
	Major int
	Minor int
}

// FirstVersion labels the initial ledger entry of every record.
var FirstVersion = VersionLabel{Major: 1, Minor: 0}

// ParseVersion parses a "<major>.<minor>" label.
func ParseVersion(s string) (VersionLabel, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return VersionLabel{}, fmt.Errorf("malformed version label %q", s)
	}
	ma, err := strconv.Atoi(major)
	if err != nil {
		return VersionLabel{}, fmt.Errorf("malformed version label %q: %w", s, err)
	}
	mi, err := strconv.Atoi(minor)
	if err != nil {
		return VersionLabel{}, fmt.Errorf("malformed version label %q: %w", s, err)
	}
	if ma < 1 || mi < 0 {
		return VersionLabel{}, fmt.Errorf("malformed version label %q", s)
	}
	return VersionLabel{Major: ma, Minor: mi}, nil
}

// Next returns the label produced by the next mutation.
func (v VersionLabel) Next() VersionLabel {
	return VersionLabel{Major: v.Major, Minor: v.Minor + 1}
}

// IsSnapshotVersion reports whether the cadence rule requires a full snapshot
// at this label. The first entry ("1.0") always snapshots.
func (v VersionLabel) IsSnapshotVersion() bool {
	return v.Minor%snapshotCadence == 0
}

// IsZero reports whether the label is unset.
func (v VersionLabel) IsZero() bool { return v.Major == 0 && v.Minor == 0 }

func (v VersionLabel) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// MarshalJSON encodes the label as its string form.
func (v VersionLabel) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a string-form label.
func (v *VersionLabel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
