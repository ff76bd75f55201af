package vfs

import (
	"sort"
	"sync"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// firstUserHandle is the first id handed out to a normal open; 0, 1, 2
// are reserved for the canonical stdin/stdout/stderr paths.
const firstUserHandle = 3

// Record is one open file handle: the per-process analogue of the
// original's handle_container_t.
type Record struct {
	ID      int
	Path    string
	Flags   OpenFlags
	Mode    int
	Pos     int64
	Handler PID
	Info    Stat

	pending bool
}

// Table is one process's handle set: next-id bookkeeping plus the
// id→record map. Freed ids are kept in a sorted free list so Property
// P7 (reuse after close) picks the lowest available id, matching the
// original's AVL-tree-of-free-nodes behavior with a plain slice.
type Table struct {
	next    int
	free    []int
	records map[int]*Record
}

func newTable() *Table {
	return &Table{next: firstUserHandle, records: make(map[int]*Record)}
}

func (t *Table) allocID() int {
	if len(t.free) > 0 {
		id := t.free[0]
		t.free = t.free[1:]
		return id
	}
	id := t.next
	t.next++
	return id
}

func (t *Table) releaseID(id int) {
	if id < firstUserHandle {
		return
	}
	i := sort.SearchInts(t.free, id)
	t.free = append(t.free, 0)
	copy(t.free[i+1:], t.free[i:])
	t.free[i] = id
}

// Registry owns one Table per process.
type Registry struct {
	mu     sync.Mutex
	tables map[PID]*Table
}

// NewRegistry returns an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[PID]*Table)}
}

func (r *Registry) table(pid PID) *Table {
	t, ok := r.tables[pid]
	if !ok {
		t = newTable()
		r.tables[pid] = t
	}
	return t
}

// reservedIDFor returns the fixed id a canonical stream path always
// uses, if path names one.
func reservedIDFor(path string) (int, bool) {
	switch path {
	case PathStdin:
		return 0, true
	case PathStdout:
		return 1, true
	case PathStderr:
		return 2, true
	default:
		return 0, false
	}
}

// Reserve pre-allocates a handle record for an in-flight open, before
// the owning plug-in has replied. Commit or Destroy must follow.
func (r *Registry) Reserve(pid PID, path string, flags OpenFlags, mode int) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(pid)

	var id int
	if rid, ok := reservedIDFor(path); ok {
		if _, taken := t.records[rid]; !taken {
			id = rid
		} else {
			id = t.allocID()
		}
	} else {
		id = t.allocID()
	}

	rec := &Record{ID: id, Path: path, Flags: flags, Mode: mode, pending: true}
	t.records[id] = rec
	return rec
}

// Commit finalizes a reserved record once the owning plug-in's open
// reply has arrived.
func (r *Registry) Commit(pid PID, id int, handler PID, info Stat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.table(pid)
	rec, ok := t.records[id]
	if !ok {
		return
	}
	rec.Handler = handler
	rec.Info = info
	rec.pending = false
}

// Destroy removes a handle, whether pending or committed, and returns
// its id to the free list for reuse (Property P7).
func (r *Registry) Destroy(pid PID, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[pid]
	if !ok {
		return
	}
	if _, ok := t.records[id]; !ok {
		return
	}
	delete(t.records, id)
	t.releaseID(id)
}

// DestroyAll removes every handle belonging to pid, for process exit.
func (r *Registry) DestroyAll(pid PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, pid)
}

// Get returns the committed record for (pid, id).
func (r *Registry) Get(pid PID, id int) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[pid]
	if !ok {
		return nil, kerr.New(kerr.InvalidArgument, "vfs.Get: bad handle")
	}
	rec, ok := t.records[id]
	if !ok || rec.pending {
		return nil, kerr.New(kerr.InvalidArgument, "vfs.Get: bad handle")
	}
	return rec, nil
}

// Duplicate copies every open handle of fromPid into a freshly created
// table for toPid, preserving id, path and offset (Property P8).
func (r *Registry) Duplicate(fromPid, toPid PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.tables[fromPid]
	if !ok {
		r.tables[toPid] = newTable()
		return
	}
	dst := newTable()
	dst.next = src.next
	dst.free = append([]int{}, src.free...)
	for id, rec := range src.records {
		if rec.pending {
			continue
		}
		cp := *rec
		dst.records[id] = &cp
	}
	r.tables[toPid] = dst
}

// List returns a snapshot of every handle open in pid's table, for
// diagnostics and tests.
func (r *Registry) List(pid PID) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[pid]
	if !ok {
		return nil
	}
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
