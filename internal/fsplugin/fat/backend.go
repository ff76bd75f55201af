package fat

import (
	"github.com/lpae-kernel/kernel/internal/kerr"
	"github.com/lpae-kernel/kernel/internal/vfs"
)

// Backend adapts a mounted FAT filesystem to vfs.Backend, the
// interface cmd/fatfsd hands to vfs.NewRPCRequestHandler.
type Backend struct {
	fs *FS
}

// NewBackend wraps fs for use as a vfs.Backend.
func NewBackend(fs *FS) *Backend { return &Backend{fs: fs} }

func entryStat(e *Entry) vfs.Stat {
	mode := vfs.ModeRegular
	if e.IsDir {
		mode = vfs.ModeDir
	}
	return vfs.Stat{Mode: mode, Size: int64(e.Size)}
}

func (b *Backend) Open(req vfs.OpenRequest) vfs.OpenReply {
	e, err := b.fs.Stat(req.Path)
	if err != nil {
		return vfs.OpenReply{Err: err}
	}
	return vfs.OpenReply{Info: entryStat(e)}
}

func (b *Backend) Read(req vfs.ReadRequest) vfs.ReadReply {
	data, err := b.fs.Open(req.Path)
	if err != nil {
		return vfs.ReadReply{Err: err}
	}
	if req.Offset >= int64(len(data)) {
		return vfs.ReadReply{}
	}
	end := req.Offset + int64(req.Length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return vfs.ReadReply{Data: data[req.Offset:end]}
}

func (b *Backend) Write(req vfs.WriteRequest) vfs.WriteReply {
	return vfs.WriteReply{Err: kerr.WithPath(kerr.NotImplemented, "fat.Backend.Write", req.Path, nil)}
}

func (b *Backend) Getdents(req vfs.GetdentsRequest) vfs.GetdentsReply {
	entries, err := b.fs.ReadDir(req.Path)
	if err != nil {
		return vfs.GetdentsReply{Err: err}
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, vfs.DirEntry{Name: e.Name, Info: entryStat(&e)})
	}
	return vfs.GetdentsReply{Entries: out}
}

func (b *Backend) Stat(req vfs.StatRequest) vfs.StatReply {
	e, err := b.fs.Stat(req.Path)
	if err != nil {
		return vfs.StatReply{Err: err}
	}
	return vfs.StatReply{Info: entryStat(e)}
}

func (b *Backend) Close(req vfs.CloseRequest) vfs.CloseReply {
	return vfs.CloseReply{}
}

func (b *Backend) Mount(req vfs.MountRequest) vfs.MountReply {
	e, err := b.fs.Stat("/")
	if err != nil {
		return vfs.MountReply{Err: err}
	}
	return vfs.MountReply{Info: entryStat(e)}
}
