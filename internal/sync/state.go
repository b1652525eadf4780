package sync

import (
	"path/filepath"
	"time"
)

// ChangeKind classifies a detected difference between remote and local.
type ChangeKind string

const (
	Created ChangeKind = "created"
	Updated ChangeKind = "updated"
	Deleted ChangeKind = "deleted"
)

// Change is one detected delta, reported to the host as a modification.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	RemoteKey string     `json:"remote_key"`
	Dir       string     `json:"dir"`       // absolute containing directory
	Name      string     `json:"name"`      // file name
	Path      string     `json:"path"`      // display path, relative to the working directory
	Timestamp time.Time  `json:"timestamp"` // remote last-modified for created/updated, local for deleted
	Size      int64      `json:"size"`
}

// LocalPath returns the absolute local path of the change.
func (c Change) LocalPath() string {
	return filepath.Join(c.Dir, c.Name)
}

// DisplayPath returns the path relative to the working directory with "/" separators.
func (c Change) DisplayPath() string {
	return c.Path
}

// Plan represents the sync operations to perform
type Plan struct {
	Created []Change
	Updated []Change
	Deleted []Change
}

// Changes returns created, updated and deleted changes, in that order.
func (p *Plan) Changes() []Change {
	changes := make([]Change, 0, p.Len())
	changes = append(changes, p.Created...)
	changes = append(changes, p.Updated...)
	changes = append(changes, p.Deleted...)
	return changes
}

// Len returns the total number of changes.
func (p *Plan) Len() int {
	return len(p.Created) + len(p.Updated) + len(p.Deleted)
}

// Empty reports whether the plan has no changes.
func (p *Plan) Empty() bool {
	return p.Len() == 0
}

// ApplyResult summarizes what an apply pass did to the working directory.
type ApplyResult struct {
	FilesWritten    int
	FilesDeleted    int
	DirsRemoved     int
	BytesDownloaded int64
}
