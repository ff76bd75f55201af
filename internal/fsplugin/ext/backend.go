package ext

import (
	"github.com/lpae-kernel/kernel/internal/kerr"
	"github.com/lpae-kernel/kernel/internal/vfs"
)

// Backend adapts a mounted ext2/3 filesystem to vfs.Backend, the
// interface cmd/extfsd hands to vfs.NewRPCRequestHandler. Writes are
// not implemented by this plug-in yet: Write always reports
// NotImplemented. Mount reports the root inode's stat, since the real
// mount work already happened in ext.Mount before this Backend exists.
type Backend struct {
	fs *FS
}

// NewBackend wraps fs for use as a vfs.Backend.
func NewBackend(fs *FS) *Backend { return &Backend{fs: fs} }

func inodeStat(in *Inode) vfs.Stat {
	mode := vfs.ModeRegular
	if in.IsDir() {
		mode = vfs.ModeDir
	}
	return vfs.Stat{Mode: mode, Size: int64(in.Size())}
}

func (b *Backend) Open(req vfs.OpenRequest) vfs.OpenReply {
	in, err := b.fs.Stat(req.Path)
	if err != nil {
		return vfs.OpenReply{Err: err}
	}
	return vfs.OpenReply{Info: inodeStat(in)}
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
	return vfs.WriteReply{Err: kerr.WithPath(kerr.NotImplemented, "ext.Backend.Write", req.Path, nil)}
}

func (b *Backend) Getdents(req vfs.GetdentsRequest) vfs.GetdentsReply {
	entries, err := b.fs.ReadDir(req.Path)
	if err != nil {
		return vfs.GetdentsReply{Err: err}
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, e := range entries {
		in, err := b.fs.readInode(e.Inode)
		if err != nil {
			continue
		}
		out = append(out, vfs.DirEntry{Name: e.Name, Info: inodeStat(in)})
	}
	return vfs.GetdentsReply{Entries: out}
}

func (b *Backend) Stat(req vfs.StatRequest) vfs.StatReply {
	in, err := b.fs.Stat(req.Path)
	if err != nil {
		return vfs.StatReply{Err: err}
	}
	return vfs.StatReply{Info: inodeStat(in)}
}

func (b *Backend) Close(req vfs.CloseRequest) vfs.CloseReply {
	return vfs.CloseReply{}
}

func (b *Backend) Mount(req vfs.MountRequest) vfs.MountReply {
	in, err := b.fs.Stat("/")
	if err != nil {
		return vfs.MountReply{Err: err}
	}
	return vfs.MountReply{Info: inodeStat(in)}
}
