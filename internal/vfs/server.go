package vfs

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// isLocalDevicePath reports whether path is one of the canonical
// stream/null device paths the VFS server answers itself, without a
// mount lookup or backend round trip.
func isLocalDevicePath(path string) bool {
	switch path {
	case PathDevNull, PathStdin, PathStdout, PathStderr:
		return true
	default:
		return false
	}
}

type mountHandler struct {
	owner   PID
	backend Backend
}

// Server is the VFS core: handle table, mount table, and the
// operations the RPC-facing layer (cmd/vfsd) dispatches into. It holds
// no socket state itself — see backend.go's doc comment for how the
// production adapter wires this onto internal/rpcbus.
type Server struct {
	mu sync.Mutex

	Handles *Registry
	Mounts  *MountTable
	Rights  Rights
	Log     *logrus.Entry

	backends      map[PID]Backend
	mountHandlers map[string]mountHandler
	localMounted  map[string]bool
	ioctlOwners   map[int]PID
}

// NewServer returns an empty VFS core ready to accept mount
// registrations.
func NewServer(log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		Handles:       NewRegistry(),
		Mounts:        NewMountTable(),
		Log:           log.WithField("server", "vfs"),
		backends:      make(map[PID]Backend),
		mountHandlers: make(map[string]mountHandler),
		localMounted:  make(map[string]bool),
		ioctlOwners:   make(map[int]PID),
	}
}

// RegisterMountHandler makes backend available to answer a mount probe
// for filesystems of the given type ("ext2", "fat32", …), standing in
// for the original's handler_node_extract(RPC_VFS_MOUNT) lookup.
func (s *Server) RegisterMountHandler(fsType string, owner PID, backend Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mountHandlers[fsType] = mountHandler{owner: owner, backend: backend}
}

// RegisterIoctlCommand records which process answers a given ioctl
// command, populated by a VFS_ADD message carrying device info.
func (s *Server) RegisterIoctlCommand(cmd int, owner PID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioctlOwners[cmd] = owner
}

func (s *Server) backendFor(owner PID) (Backend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backends[owner]
	return b, ok
}

// Mount implements the mount protocol (spec.md §4.4): "ramdisk" and
// "dev" are recorded locally without a backend round trip; every other
// type is probed through its registered handler and, on success,
// recorded with the handler's reported pid and stat.
func (s *Server) Mount(source, target, fsType string, flags int) error {
	if fsType == "ramdisk" || fsType == "dev" {
		s.mu.Lock()
		already := s.localMounted[fsType]
		s.mu.Unlock()
		if already {
			return kerr.New(kerr.InvalidArgument, "vfs.Mount: already mounted")
		}
		if err := s.Mounts.Add(target, 0, Stat{Mode: ModeDir}); err != nil {
			return err
		}
		s.mu.Lock()
		s.localMounted[fsType] = true
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	h, ok := s.mountHandlers[fsType]
	s.mu.Unlock()
	if !ok {
		return kerr.New(kerr.NotFound, "vfs.Mount: no handler registered")
	}

	reply := h.backend.Mount(MountRequest{Source: source, Target: target})
	if reply.Err != nil {
		return reply.Err
	}
	if err := s.Mounts.Add(target, h.owner, reply.Info); err != nil {
		return err
	}
	s.mu.Lock()
	s.backends[h.owner] = h.backend
	s.mu.Unlock()
	return nil
}

// Umount rejects the self-mount outright and otherwise always reports
// NotImplemented, per the resolved open question in spec.md §9: the
// wire protocol exists but the operation is never implemented.
func (s *Server) Umount(target string) error {
	if normalize(target) == "/" {
		return kerr.New(kerr.InvalidArgument, "vfs.Umount: self mount")
	}
	return kerr.New(kerr.NotImplemented, "vfs.Umount")
}

// Open resolves the longest-prefix mount for path, pre-allocates a
// handle record, forwards to the mount's backend, and either commits
// or destroys the record depending on the reply.
func (s *Server) Open(pid PID, path string, flags OpenFlags, mode int) (int, Stat, error) {
	if isLocalDevicePath(path) {
		rec := s.Handles.Reserve(pid, path, flags, mode)
		info := Stat{Mode: ModeRegular}
		s.Handles.Commit(pid, rec.ID, 0, info)
		return rec.ID, info, nil
	}

	entry, rel, ok := s.Mounts.Resolve(path)
	if !ok {
		return 0, Stat{}, kerr.WithPath(kerr.NotFound, "vfs.Open", path, nil)
	}
	backend, ok := s.backendFor(entry.Owner)
	if !ok {
		return 0, Stat{}, kerr.WithPath(kerr.NotFound, "vfs.Open: handler absent", path, nil)
	}

	rec := s.Handles.Reserve(pid, path, flags, mode)
	reply := backend.Open(OpenRequest{Path: rel, Flags: flags, Mode: mode})
	if reply.Err != nil {
		s.Handles.Destroy(pid, rec.ID)
		return 0, Stat{}, reply.Err
	}

	if flags&OExcl != 0 {
		s.Handles.Destroy(pid, rec.ID)
		return 0, Stat{}, kerr.WithPath(kerr.Exists, "vfs.Open", path, nil)
	}
	if flags&ODirectory != 0 && !reply.Info.IsDir() {
		s.Handles.Destroy(pid, rec.ID)
		return 0, Stat{}, kerr.WithPath(kerr.NotDirectory, "vfs.Open", path, nil)
	}
	if reply.Info.IsDir() && flags&ORDWR != 0 {
		s.Handles.Destroy(pid, rec.ID)
		return 0, Stat{}, kerr.WithPath(kerr.IsDirectory, "vfs.Open", path, nil)
	}

	s.Handles.Commit(pid, rec.ID, entry.Owner, reply.Info)
	return rec.ID, reply.Info, nil
}

// Read forwards to the handle's owning backend and advances its
// offset by the number of bytes returned. A read from /dev/null always
// reports zero bytes without a backend round trip.
func (s *Server) Read(pid PID, id int, length int) ([]byte, error) {
	rec, err := s.Handles.Get(pid, id)
	if err != nil {
		return nil, err
	}
	if rec.Path == PathDevNull {
		return nil, nil
	}

	entry, rel, ok := s.Mounts.Resolve(rec.Path)
	if !ok {
		return nil, kerr.New(kerr.InvalidArgument, "vfs.Read: bad handle")
	}
	backend, ok := s.backendFor(entry.Owner)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "vfs.Read: handler absent")
	}

	reply := backend.Read(ReadRequest{Path: rel, Offset: rec.Pos, Length: length})
	if reply.Err != nil {
		return nil, reply.Err
	}
	rec.Pos += int64(len(reply.Data))
	return reply.Data, nil
}

// Write forwards to the handle's owning backend and advances its
// offset by the number of bytes accepted. A write to /dev/null always
// reports every byte accepted without a backend round trip.
func (s *Server) Write(pid PID, id int, data []byte) (int, error) {
	rec, err := s.Handles.Get(pid, id)
	if err != nil {
		return 0, err
	}
	if rec.Path == PathDevNull {
		return len(data), nil
	}

	entry, rel, ok := s.Mounts.Resolve(rec.Path)
	if !ok {
		return 0, kerr.New(kerr.InvalidArgument, "vfs.Write: bad handle")
	}
	backend, ok := s.backendFor(entry.Owner)
	if !ok {
		return 0, kerr.New(kerr.NotFound, "vfs.Write: handler absent")
	}

	reply := backend.Write(WriteRequest{Path: rel, Offset: rec.Pos, Data: data})
	if reply.Err != nil {
		return 0, reply.Err
	}
	if reply.N < 0 {
		reply.N = 0
	}
	rec.Pos += int64(reply.N)
	return reply.N, nil
}

// Seek adjusts a handle's cached offset locally — no backend round
// trip, matching the original's seek handler which only ever consults
// the cached stat size (Scenario 6).
func (s *Server) Seek(pid PID, id int, offset int64, whence Whence) (int64, error) {
	rec, err := s.Handles.Get(pid, id)
	if err != nil {
		return 0, err
	}

	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = rec.Pos + offset
	case SeekEnd:
		newPos = rec.Info.Size
	default:
		return 0, kerr.New(kerr.InvalidArgument, "vfs.Seek: bad whence")
	}

	if newPos < 0 || newPos > rec.Info.Size {
		return 0, kerr.New(kerr.InvalidArgument, "vfs.Seek: out of bounds")
	}
	rec.Pos = newPos
	return newPos, nil
}

// Stat re-fetches and refreshes a handle's cached status from its
// owning backend.
func (s *Server) Stat(pid PID, id int) (Stat, error) {
	rec, err := s.Handles.Get(pid, id)
	if err != nil {
		return Stat{}, err
	}
	if isLocalDevicePath(rec.Path) {
		return rec.Info, nil
	}
	entry, rel, ok := s.Mounts.Resolve(rec.Path)
	if !ok {
		return Stat{}, kerr.New(kerr.InvalidArgument, "vfs.Stat: bad handle")
	}
	backend, ok := s.backendFor(entry.Owner)
	if !ok {
		return Stat{}, kerr.New(kerr.NotFound, "vfs.Stat: handler absent")
	}
	reply := backend.Stat(StatRequest{Path: rel})
	if reply.Err != nil {
		return Stat{}, reply.Err
	}
	rec.Info = reply.Info
	return reply.Info, nil
}

// Getdents forwards a directory-listing request to the handle's owning
// backend.
func (s *Server) Getdents(pid PID, id int) ([]DirEntry, error) {
	rec, err := s.Handles.Get(pid, id)
	if err != nil {
		return nil, err
	}
	entry, rel, ok := s.Mounts.Resolve(rec.Path)
	if !ok {
		return nil, kerr.New(kerr.InvalidArgument, "vfs.Getdents: bad handle")
	}
	backend, ok := s.backendFor(entry.Owner)
	if !ok {
		return nil, kerr.New(kerr.NotFound, "vfs.Getdents: handler absent")
	}
	reply := backend.Getdents(GetdentsRequest{Path: rel, Offset: rec.Pos})
	if reply.Err != nil {
		return nil, reply.Err
	}
	return reply.Entries, nil
}

// Ioctl forwards a device command to whichever process registered it
// via RegisterIoctlCommand.
func (s *Server) Ioctl(cmd int) (PID, error) {
	s.mu.Lock()
	owner, ok := s.ioctlOwners[cmd]
	s.mu.Unlock()
	if !ok {
		return 0, kerr.New(kerr.NotFound, "vfs.Ioctl: no handler registered")
	}
	return owner, nil
}

// Close forwards to the handle's owning backend and destroys the local
// record on success.
func (s *Server) Close(pid PID, id int) error {
	rec, err := s.Handles.Get(pid, id)
	if err != nil {
		return err
	}
	entry, rel, ok := s.Mounts.Resolve(rec.Path)
	if ok {
		if backend, ok := s.backendFor(entry.Owner); ok {
			reply := backend.Close(CloseRequest{Path: rel})
			if reply.Err != nil {
				return reply.Err
			}
		}
	}
	s.Handles.Destroy(pid, id)
	return nil
}

// Exit destroys every handle owned by the exiting process.
func (s *Server) Exit(pid PID) {
	s.Handles.DestroyAll(pid)
}

// Fork duplicates every open handle from parent into a fresh table for
// child (Property P8). Parent-identity propagation to an authentication
// server is modeled as an external collaborator (spec.md §1) and is
// out of scope here.
func (s *Server) Fork(parent, child PID) {
	s.Handles.Duplicate(parent, child)
}
