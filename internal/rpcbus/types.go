// Package rpcbus implements the asynchronous RPC envelope and the
// per-server event loop the rest of the tree is built on: the wire
// format, the data-id indirection that stands in for the kernel's
// "get data" syscall, and the continuation table that lets a server
// suspend a request while it waits on a reply from another server.
package rpcbus

// Type is the RPC message type. Values below RPC_CUSTOM_START are the
// VFS protocol; filesystem plug-ins and other domains allocate their
// own values starting at RPC_CUSTOM_START.
type Type uint32

const (
	VFS_ADD Type = iota + 1
	VFS_REMOVE
	VFS_OPEN
	VFS_CLOSE
	VFS_READ
	VFS_WRITE
	VFS_SEEK
	VFS_STAT
	VFS_IOCTL
	VFS_MOUNT
	VFS_UMOUNT
	VFS_GETDENTS
	VFS_FORK
	VFS_EXIT

	// RPC_CUSTOM_START is the first type value domains outside the VFS
	// protocol may use for their own request/reply pairs (ext/FAT probe
	// and mount hooks, storage-driver block reads, …).
	RPC_CUSTOM_START Type = 0x1000
)

// PID identifies a server process: the value a sender places in an
// envelope's Origin, not a kernel-assigned scheduler pid. PeerPID (see
// transport_unix.go) can read one from the socket's peer credentials,
// but nothing in this tree fills Origin that way.
type PID int32

// Envelope is the fixed-size RPC header: (type, origin, data ptr id,
// response ptr id). ResponsePtrID is zero on the first delivery of a
// request and non-zero on its reply — that is the sole signal a
// handler uses to distinguish an initial request from a continuation,
// per the specification's wire format.
type Envelope struct {
	Type          Type
	Origin        PID
	DataPtrID     uint32
	ResponsePtrID uint32
}

// IsReply reports whether this envelope carries a reply (continuation)
// rather than an initial request.
func (e Envelope) IsReply() bool { return e.ResponsePtrID != 0 }
