package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// Entry is one mount table row: a path prefix plus the pid that owns
// requests under it.
type Entry struct {
	Path  string
	Owner PID
	Info  Stat
}

// MountTable resolves paths to their owning mount by longest prefix,
// per Property P9.
type MountTable struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMountTable returns an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{entries: make(map[string]*Entry)}
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Add registers a mount at target. Duplicate mounts at the same
// normalized path are rejected with Exists.
func (t *MountTable) Add(target string, owner PID, info Stat) error {
	target = normalize(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[target]; ok {
		return kerr.New(kerr.Exists, "vfs.Mount")
	}
	t.entries[target] = &Entry{Path: target, Owner: owner, Info: info}
	return nil
}

// SetOwner overwrites the owner and cached stat of an already-added
// mount — used once an async mount probe's reply arrives.
func (t *MountTable) SetOwner(target string, owner PID, info Stat) {
	target = normalize(target)
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[target]; ok {
		e.Owner = owner
		e.Info = info
	}
}

// Remove unregisters a mount. The self-mount ("/") can never be
// unmounted.
func (t *MountTable) Remove(target string) error {
	target = normalize(target)
	if target == "/" {
		return kerr.New(kerr.InvalidArgument, "vfs.Umount: self mount")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, target)
	return nil
}

// List returns every mount entry, sorted by path, for diagnostics
// (internal/diag/fbdump renders this as a tree snapshot).
func (t *MountTable) List() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// prefixMatches reports whether mount is a path-prefix of path: either
// an exact match, or followed by a '/' boundary (or mount is the root).
func prefixMatches(mount, path string) bool {
	if mount == "/" {
		return true
	}
	if !strings.HasPrefix(path, mount) {
		return false
	}
	return len(path) == len(mount) || path[len(mount)] == '/'
}

// Resolve finds the longest-prefix mount owning path, and returns the
// path made relative to that mount (always '/'-rooted).
func (t *MountTable) Resolve(path string) (*Entry, string, bool) {
	path = normalize(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Entry
	for _, e := range t.entries {
		if !prefixMatches(e.Path, path) {
			continue
		}
		if best == nil || len(e.Path) > len(best.Path) {
			best = e
		}
	}
	if best == nil {
		return nil, "", false
	}

	rel := strings.TrimPrefix(path, best.Path)
	if rel == "" {
		rel = "/"
	}
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return best, rel, true
}
