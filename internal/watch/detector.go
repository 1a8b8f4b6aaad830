// Package watch detects working-tree changes by polling mtime snapshots.
// Polling is deliberate: OS file events buy sub-second latency this tool
// does not need, at the cost of platform-specific plumbing. The scheduler
// reacts on a seconds scale anyway.
package watch

import (
	"io/fs"
	"path/filepath"
	"slices"
	"time"
)

// vcsDirs are version-control metadata directories excluded from snapshots.
var vcsDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// ChangeSet is the result of comparing two snapshots: paths are bucketed by
// presence, and a path present in both with a different mtime counts once
// as modified.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Changed reports whether the set carries any change at all.
func (cs ChangeSet) Changed() bool {
	return len(cs.Added)+len(cs.Modified)+len(cs.Deleted) > 0
}

// Detector holds one snapshot of the tree under root. It is owned by a
// single caller; Check must not run concurrently with itself.
type Detector struct {
	root     string
	snapshot map[string]time.Time
}

// NewDetector takes the initial snapshot synchronously so the first Check
// only reports changes made after construction.
func NewDetector(root string) *Detector {
	d := &Detector{root: root}
	d.snapshot = d.scan()
	return d
}

// Check walks the tree, diffs against the previous snapshot, and replaces
// the stored snapshot wholesale — even when nothing changed, to absorb
// clock-resolution noise.
func (d *Detector) Check() ChangeSet {
	next := d.scan()

	var cs ChangeSet
	for path, mtime := range next {
		prev, ok := d.snapshot[path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case !prev.Equal(mtime):
			cs.Modified = append(cs.Modified, path)
		}
	}
	for path := range d.snapshot {
		if _, ok := next[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	slices.Sort(cs.Added)
	slices.Sort(cs.Modified)
	slices.Sort(cs.Deleted)

	d.snapshot = next
	return cs
}

// scan records (path → mtime) for every regular file under root, skipping
// version-control metadata. Per-file stat failures (permissions, files
// deleted mid-walk) drop that file from the snapshot instead of aborting.
func (d *Detector) scan() map[string]time.Time {
	snap := make(map[string]time.Time)
	_ = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if vcsDirs[entry.Name()] && path != d.root {
				return fs.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		snap[path] = info.ModTime()
		return nil
	})
	return snap
}
