package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory filesystem plug-in double: a flat
// path→content map, enough to exercise the VFS server's handle/mount
// logic without a real ext2 or FAT image.
type fakeBackend struct {
	files map[string]string
	dirs  map[string][]DirEntry
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{files: map[string]string{}, dirs: map[string][]DirEntry{}}
}

func (b *fakeBackend) Open(req OpenRequest) OpenReply {
	if _, ok := b.dirs[req.Path]; ok {
		return OpenReply{Info: Stat{Mode: ModeDir}}
	}
	content, ok := b.files[req.Path]
	if !ok {
		return OpenReply{Err: errNotFound(req.Path)}
	}
	return OpenReply{Info: Stat{Mode: ModeRegular, Size: int64(len(content))}}
}

func (b *fakeBackend) Read(req ReadRequest) ReadReply {
	content := b.files[req.Path]
	if req.Offset >= int64(len(content)) {
		return ReadReply{}
	}
	end := req.Offset + int64(req.Length)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return ReadReply{Data: []byte(content[req.Offset:end])}
}

func (b *fakeBackend) Write(req WriteRequest) WriteReply {
	return WriteReply{N: len(req.Data)}
}

func (b *fakeBackend) Getdents(req GetdentsRequest) GetdentsReply {
	return GetdentsReply{Entries: b.dirs[req.Path]}
}

func (b *fakeBackend) Stat(req StatRequest) StatReply {
	if content, ok := b.files[req.Path]; ok {
		return StatReply{Info: Stat{Mode: ModeRegular, Size: int64(len(content))}}
	}
	if _, ok := b.dirs[req.Path]; ok {
		return StatReply{Info: Stat{Mode: ModeDir}}
	}
	return StatReply{Err: errNotFound(req.Path)}
}

func (b *fakeBackend) Close(req CloseRequest) CloseReply { return CloseReply{} }

func (b *fakeBackend) Mount(req MountRequest) MountReply {
	return MountReply{Info: Stat{Mode: ModeDir}}
}

type notFoundErr struct{ path string }

func (e notFoundErr) Error() string { return "not found: " + e.path }

func errNotFound(path string) error { return notFoundErr{path} }

func mustMountExt(t *testing.T, s *Server, backend *fakeBackend) {
	t.Helper()
	s.RegisterMountHandler("ext2", 100, backend)
	require.NoError(t, s.Mount("/dev/sd1", "/", "ext2", 0))
}

// TestScenario1MountOpenRead covers the mount→open→read sequence.
func TestScenario1MountOpenRead(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	backend.files["/etc/hosts"] = "127.0.0.1 localhost\nextra content"
	mustMountExt(t, s, backend)

	id, stat, err := s.Open(1, "/etc/hosts", 0, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, id, 3)
	require.True(t, stat.IsRegular())

	data, err := s.Read(1, id, 16)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1 localh", string(data))
}

// TestProperty7HandleReuse covers two successive opens yielding
// distinct ids, with reuse after close.
func TestProperty7HandleReuse(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	backend.files["/a"] = "a"
	backend.files["/b"] = "b"
	mustMountExt(t, s, backend)

	id1, _, err := s.Open(1, "/a", 0, 0)
	require.NoError(t, err)
	id2, _, err := s.Open(1, "/b", 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.NoError(t, s.Close(1, id1))
	id3, _, err := s.Open(1, "/a", 0, 0)
	require.NoError(t, err)
	require.Equal(t, id1, id3)
}

// TestProperty9MountLongestPrefix covers longest-prefix mount
// resolution.
func TestProperty9MountLongestPrefix(t *testing.T) {
	s := NewServer(nil)
	outer := newFakeBackend()
	outer.files["/b/c"] = "outer"
	inner := newFakeBackend()
	inner.files["/c"] = "inner"

	s.RegisterMountHandler("ext2", 100, outer)
	require.NoError(t, s.Mount("/dev/sd1", "/a", "ext2", 0))
	s.RegisterMountHandler("fat32", 200, inner)
	require.NoError(t, s.Mount("/dev/sd2", "/a/b", "fat32", 0))

	id, _, err := s.Open(1, "/a/b/c", 0, 0)
	require.NoError(t, err)
	data, err := s.Read(1, id, 5)
	require.NoError(t, err)
	require.Equal(t, "inner", string(data))
}

// TestScenario5ForkPreservesOffset covers fork duplicating a handle
// with its current offset intact.
func TestScenario5ForkPreservesOffset(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	backend.files["/tmp/a"] = "0123456789 and more bytes than that to seek past forty-two"
	mustMountExt(t, s, backend)

	id, _, err := s.Open(1, "/tmp/a", 0, 0)
	require.NoError(t, err)
	pos, err := s.Seek(1, id, 42, SeekSet)
	require.NoError(t, err)
	require.EqualValues(t, 42, pos)

	s.Fork(1, 2)

	rec, err := s.Handles.Get(2, id)
	require.NoError(t, err)
	require.EqualValues(t, 42, rec.Pos)
	require.Equal(t, "/tmp/a", rec.Path)
}

// TestScenario6SeekBounds covers out-of-bounds seeks on a 100-byte
// file.
func TestScenario6SeekBounds(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	content := make([]byte, 100)
	backend.files["/f"] = string(content)
	mustMountExt(t, s, backend)

	id, _, err := s.Open(1, "/f", 0, 0)
	require.NoError(t, err)

	_, err = s.Seek(1, id, 101, SeekSet)
	require.Error(t, err)

	_, err = s.Seek(1, id, -1, SeekSet)
	require.Error(t, err)

	pos, err := s.Seek(1, id, 0, SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, 100, pos)
}

func TestDevNullShortCircuits(t *testing.T) {
	s := NewServer(nil)
	id, _, err := s.Open(1, PathDevNull, 0, 0)
	require.NoError(t, err)

	data, err := s.Read(1, id, 64)
	require.NoError(t, err)
	require.Empty(t, data)

	n, err := s.Write(1, id, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestMountDuplicateRejected(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	mustMountExt(t, s, backend)
	err := s.Mount("/dev/sd2", "/", "ext2", 0)
	require.Error(t, err)
}

func TestUmountSelfMountRejected(t *testing.T) {
	s := NewServer(nil)
	err := s.Umount("/")
	require.Error(t, err)
}

func TestUmountNotImplemented(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	mustMountExt(t, s, backend)
	require.NoError(t, s.Mount("/dev/sd3", "/mnt", "ext2", 0))
	err := s.Umount("/mnt")
	require.Error(t, err)
}

// TestOpenExclOnExistingFileFails covers O_EXCL's EEXIST semantics:
// the file is found, so an exclusive open must fail rather than
// succeed.
func TestOpenExclOnExistingFileFails(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	backend.files["/etc/hosts"] = "127.0.0.1 localhost"
	mustMountExt(t, s, backend)

	_, _, err := s.Open(1, "/etc/hosts", OCreat|OExcl, 0)
	require.Error(t, err)
}

func TestOpenWithoutExclOnExistingFileSucceeds(t *testing.T) {
	s := NewServer(nil)
	backend := newFakeBackend()
	backend.files["/etc/hosts"] = "127.0.0.1 localhost"
	mustMountExt(t, s, backend)

	_, _, err := s.Open(1, "/etc/hosts", 0, 0)
	require.NoError(t, err)
}
