package cachestore

import (
	"sort"

	"github.com/extrecon/extrecon/pkg/extension"
)

// SnapshotDiff describes the observable changes between a snapshot and
// its immediate predecessor. Derived at query time, never stored.
type SnapshotDiff struct {
	// AddedPermissions are permissions present now but not previously,
	// sorted lexicographically.
	AddedPermissions []string `json:"added_permissions,omitempty"`

	// RemovedPermissions are permissions present previously but not
	// now, sorted lexicographically.
	RemovedPermissions []string `json:"removed_permissions,omitempty"`

	VersionChanged  bool   `json:"version_changed"`
	PreviousVersion string `json:"previous_version,omitempty"`

	NameChanged  bool   `json:"name_changed"`
	PreviousName string `json:"previous_name,omitempty"`
}

// HistoryEntry pairs a snapshot with the diff against its predecessor.
// The first entry of a history has a nil Diff.
type HistoryEntry struct {
	extension.Snapshot
	Diff *SnapshotDiff `json:"diff,omitempty"`
}

// DiffHistory derives consecutive-pair diffs over an oldest-first
// snapshot sequence. The second return value reports whether any entry
// changed its permission set.
func DiffHistory(snapshots []extension.Snapshot) ([]HistoryEntry, bool) {
	entries := make([]HistoryEntry, 0, len(snapshots))
	permissionChanges := false

	for i, snap := range snapshots {
		entry := HistoryEntry{Snapshot: snap}
		if i > 0 {
			diff := diffSnapshots(&snapshots[i-1], &snap)
			entry.Diff = diff
			if len(diff.AddedPermissions) > 0 || len(diff.RemovedPermissions) > 0 {
				permissionChanges = true
			}
		}
		entries = append(entries, entry)
	}

	return entries, permissionChanges
}

func diffSnapshots(prev, cur *extension.Snapshot) *SnapshotDiff {
	diff := &SnapshotDiff{}

	if prev.Version != cur.Version {
		diff.VersionChanged = true
		diff.PreviousVersion = prev.Version
	}
	if prev.Name != cur.Name {
		diff.NameChanged = true
		diff.PreviousName = prev.Name
	}

	prevSet := prev.PermissionSet()
	curSet := cur.PermissionSet()

	for p := range curSet {
		if _, ok := prevSet[p]; !ok {
			diff.AddedPermissions = append(diff.AddedPermissions, p)
		}
	}
	for p := range prevSet {
		if _, ok := curSet[p]; !ok {
			diff.RemovedPermissions = append(diff.RemovedPermissions, p)
		}
	}

	sort.Strings(diff.AddedPermissions)
	sort.Strings(diff.RemovedPermissions)

	return diff
}
