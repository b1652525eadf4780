package sync

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Reconcile compares the remote and local listings by key and classifies
// every key as created, updated, deleted or unchanged. Each list of the
// returned plan is sorted by key.
//
// Modification times are compared through LastModifiedKey, so drift below
// one second is not a change.
func Reconcile(remote, local []FileEntry, workDir, prefix string) (*Plan, error) {
	plan := &Plan{
		Created: make([]Change, 0),
		Updated: make([]Change, 0),
		Deleted: make([]Change, 0),
	}

	localByKey := make(map[string]FileEntry, len(local))
	for _, entry := range local {
		localByKey[entry.Key] = entry
	}
	remoteByKey := make(map[string]FileEntry, len(remote))
	for _, entry := range remote {
		remoteByKey[entry.Key] = entry
	}

	for _, r := range sortedEntries(remoteByKey) {
		l, exists := localByKey[r.Key]
		if exists && !isModified(r, l) {
			continue
		}

		change, err := newChange(Created, r, workDir, prefix)
		if err != nil {
			return nil, err
		}
		if exists {
			change.Kind = Updated
			plan.Updated = append(plan.Updated, change)
		} else {
			plan.Created = append(plan.Created, change)
		}
	}

	for _, l := range sortedEntries(localByKey) {
		if _, exists := remoteByKey[l.Key]; exists {
			continue
		}
		change, err := newChange(Deleted, l, workDir, prefix)
		if err != nil {
			return nil, err
		}
		plan.Deleted = append(plan.Deleted, change)
	}

	return plan, nil
}

func isModified(remote, local FileEntry) bool {
	return remote.Size != local.Size || remote.LastModifiedKey != local.LastModifiedKey
}

func sortedEntries(byKey map[string]FileEntry) []FileEntry {
	entries := make([]FileEntry, 0, len(byKey))
	for _, entry := range byKey {
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries
}

func newChange(kind ChangeKind, entry FileEntry, workDir, prefix string) (Change, error) {
	rel, err := RelativeKey(entry.Key, prefix)
	if err != nil {
		return Change{}, err
	}

	local := filepath.Join(workDir, filepath.FromSlash(rel))
	return Change{
		Kind:      kind,
		RemoteKey: entry.Key,
		Dir:       filepath.Dir(local),
		Name:      filepath.Base(local),
		Path:      rel,
		Timestamp: entry.LastModified,
		Size:      entry.Size,
	}, nil
}

// RelativeKey strips the prefix and any leading separator from key. It fails
// for keys that would map outside of the working directory.
func RelativeKey(key, prefix string) (string, error) {
	rel := strings.TrimPrefix(key, NormalizePrefix(prefix))
	rel = strings.TrimLeft(rel, "/")

	if rel == "" || path.Clean(rel) != rel || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("object key %q does not map to a path inside the working directory", key)
	}
	return rel, nil
}
