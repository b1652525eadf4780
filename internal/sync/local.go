package sync

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ListLocal walks root recursively and returns an entry for every regular
// file, sorted by key. A missing root yields an empty listing.
func ListLocal(root, prefix string) ([]FileEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []FileEntry{}, nil
		}
		return nil, &FilesystemError{Op: "stat", Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &FilesystemError{Op: "walk", Path: root, Err: errors.New("not a directory")}
	}

	entries := make([]FileEntry, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &FilesystemError{Op: "walk", Path: path, Err: err}
		}

		if d.IsDir() {
			return nil
		}

		// Stat follows symlinks; links to directories are not descended into.
		fi, err := os.Stat(path)
		if err != nil {
			return &FilesystemError{Op: "stat", Path: path, Err: err}
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		entry, err := NewLocalEntry(root, prefix, path, fi)
		if err != nil {
			return &FilesystemError{Op: "walk", Path: path, Err: err}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
}
