package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheck_NoChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")

	d := NewDetector(dir)
	if cs := d.Check(); cs.Changed() {
		t.Errorf("expected no changes, got %+v", cs)
	}
}

func TestCheck_Added(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")

	d := NewDetector(dir)
	added := writeFile(t, dir, "b.txt", "two")

	cs := d.Check()
	if !cs.Changed() {
		t.Fatal("expected change")
	}
	if len(cs.Added) != 1 || cs.Added[0] != added {
		t.Errorf("added = %v, want [%s]", cs.Added, added)
	}
	if len(cs.Modified) != 0 || len(cs.Deleted) != 0 {
		t.Errorf("unexpected modified=%v deleted=%v", cs.Modified, cs.Deleted)
	}
}

func TestCheck_Modified(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "one")

	d := NewDetector(dir)

	// Push the mtime forward explicitly; filesystem clock resolution can
	// swallow a rewrite that lands in the same tick.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	cs := d.Check()
	if len(cs.Modified) != 1 || cs.Modified[0] != path {
		t.Errorf("modified = %v, want [%s]", cs.Modified, path)
	}
	if len(cs.Added) != 0 || len(cs.Deleted) != 0 {
		t.Errorf("unexpected added=%v deleted=%v", cs.Added, cs.Deleted)
	}
}

func TestCheck_Deleted(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "one")

	d := NewDetector(dir)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	cs := d.Check()
	if len(cs.Deleted) != 1 || cs.Deleted[0] != path {
		t.Errorf("deleted = %v, want [%s]", cs.Deleted, path)
	}
}

func TestCheck_SnapshotReplacedAfterReport(t *testing.T) {
	dir := t.TempDir()
	d := NewDetector(dir)

	writeFile(t, dir, "a.txt", "one")
	if cs := d.Check(); len(cs.Added) != 1 {
		t.Fatalf("expected one added file, got %+v", cs)
	}

	// Same tree again: the change must not be re-reported.
	if cs := d.Check(); cs.Changed() {
		t.Errorf("change reported twice: %+v", cs)
	}
}

func TestCheck_VCSMetadataIgnored(t *testing.T) {
	dir := t.TempDir()
	d := NewDetector(dir)

	writeFile(t, dir, filepath.Join(".git", "index"), "x")
	writeFile(t, dir, filepath.Join(".git", "objects", "ab", "cdef"), "x")

	if cs := d.Check(); cs.Changed() {
		t.Errorf("version-control metadata should be invisible, got %+v", cs)
	}
}

func TestCheck_NestedDirectories(t *testing.T) {
	dir := t.TempDir()
	d := NewDetector(dir)

	deep := writeFile(t, dir, filepath.Join("src", "pkg", "file.go"), "package pkg")

	cs := d.Check()
	if len(cs.Added) != 1 || cs.Added[0] != deep {
		t.Errorf("added = %v, want [%s]", cs.Added, deep)
	}
}
