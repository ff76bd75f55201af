package vfs

// OpenRequest/OpenReply and its siblings below are the payloads the
// VFS server forwards to a mount's owning plug-in and the reply it
// resumes on, modeled after the vfs_*_request_t/vfs_*_response_t pairs
// in the original's rpc/*.c handlers.

// Seq carries the caller-chosen response id a real rpcbus-backed
// adapter stamps into the outgoing envelope's ResponsePtrID once the
// matching reply is ready (internal/vfs/rpcadapter.go). In-process
// Backend implementations (every fakeBackend in this package's tests,
// and ext/fat's direct FS calls) ignore it.

type OpenRequest struct {
	Path  string
	Flags OpenFlags
	Mode  int
	Seq   uint32
}

type OpenReply struct {
	Info Stat
	Err  error
}

type ReadRequest struct {
	Path   string
	Offset int64
	Length int
	Seq    uint32
}

type ReadReply struct {
	Data []byte
	Err  error
}

type WriteRequest struct {
	Path   string
	Offset int64
	Data   []byte
	Seq    uint32
}

type WriteReply struct {
	N   int
	Err error
}

type DirEntry struct {
	Name string
	Info Stat
}

type GetdentsRequest struct {
	Path   string
	Offset int64
	Seq    uint32
}

type GetdentsReply struct {
	Entries []DirEntry
	Err     error
}

type StatRequest struct {
	Path string
	Seq  uint32
}

type StatReply struct {
	Info Stat
	Err  error
}

type CloseRequest struct {
	Path string
	Seq  uint32
}

type CloseReply struct {
	Err error
}

type MountRequest struct {
	Source string
	Target string
	Seq    uint32
}

type MountReply struct {
	Info Stat
	Err  error
}

// Backend is what a mount's owning process exposes to the VFS server.
// Each method corresponds to one forward-then-continuation round trip
// in the specification's async RPC model (spec.md §4.4): the VFS core
// in this package calls Backend synchronously, so its own tests stay
// deterministic and socket-free, while cmd/vfsd's production adapter
// (internal/vfs/rpcadapter.go) implements this same interface by
// raising an RPC over internal/rpcbus and blocking on the continuation
// table entry it registers for the forward — the actual suspend point
// the specification describes.
type Backend interface {
	Open(OpenRequest) OpenReply
	Read(ReadRequest) ReadReply
	Write(WriteRequest) WriteReply
	Getdents(GetdentsRequest) GetdentsReply
	Stat(StatRequest) StatReply
	Close(CloseRequest) CloseReply
	Mount(MountRequest) MountReply
}
