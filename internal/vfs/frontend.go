package vfs

import (
	"github.com/lpae-kernel/kernel/internal/rpcbus"
)

// The wire* structs in rpcadapter.go carry the path-addressed protocol
// Server speaks to a mount's Backend. The front* structs below carry
// the pid+fd-addressed protocol a client of vfsd itself speaks —
// cmd/kernel sends open/read/write/stat/close/getdents/mount here
// through FrontClient over the same VFS_* types, with the
// caller's pid carried explicitly in the request rather than read off
// the envelope, since Origin identifies the transport peer (the
// kernel process) and not the application pid making the call.

type frontOpenRequest struct {
	Pid   PID
	Path  string
	Flags OpenFlags
	Mode  int
	Seq   uint32
}

type frontOpenReply struct {
	Fd   int
	Info Stat
	Err  *wireError
}

type frontReadRequest struct {
	Pid    PID
	Fd     int
	Length int
	Seq    uint32
}

type frontReadReply struct {
	Data []byte
	Err  *wireError
}

type frontWriteRequest struct {
	Pid  PID
	Fd   int
	Data []byte
	Seq  uint32
}

type frontWriteReply struct {
	N   int
	Err *wireError
}

type frontGetdentsRequest struct {
	Pid PID
	Fd  int
	Seq uint32
}

type frontGetdentsReply struct {
	Entries []DirEntry
	Err     *wireError
}

type frontStatRequest struct {
	Pid PID
	Fd  int
	Seq uint32
}

type frontStatReply struct {
	Info Stat
	Err  *wireError
}

type frontCloseRequest struct {
	Pid PID
	Fd  int
	Seq uint32
}

type frontCloseReply struct {
	Err *wireError
}

type frontMountRequest struct {
	Source string
	Target string
	FSType string
	Flags  int
	Seq    uint32
}

type frontMountReply struct {
	Err *wireError
}

// NewServerRequestHandler exposes srv over rpcbus as the protocol
// cmd/kernel speaks through FrontClient to reach the VFS server:
// distinct from NewRPCRequestHandler, which is the protocol vfsd
// itself speaks outbound to a mount's filesystem-plugin daemon.
func NewServerRequestHandler(srv *Server, self rpcbus.PID) rpcbus.RequestHandler {
	return func(conn *rpcbus.Conn, msg rpcbus.Message) error {
		switch msg.Envelope.Type {
		case rpcbus.VFS_OPEN:
			return frontHandleOpen(conn, self, srv, msg)
		case rpcbus.VFS_READ:
			return frontHandleRead(conn, self, srv, msg)
		case rpcbus.VFS_WRITE:
			return frontHandleWrite(conn, self, srv, msg)
		case rpcbus.VFS_GETDENTS:
			return frontHandleGetdents(conn, self, srv, msg)
		case rpcbus.VFS_STAT:
			return frontHandleStat(conn, self, srv, msg)
		case rpcbus.VFS_CLOSE:
			return frontHandleClose(conn, self, srv, msg)
		case rpcbus.VFS_MOUNT:
			return frontHandleMount(conn, self, srv, msg)
		default:
			return nil
		}
	}
}

func frontHandleOpen(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontOpenRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	fd, info, err := srv.Open(req.Pid, req.Path, req.Flags, req.Mode)
	return reply(conn, rpcbus.VFS_OPEN, self, req.Seq, frontOpenReply{Fd: fd, Info: info, Err: toWireErr(err)})
}

func frontHandleRead(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontReadRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	data, err := srv.Read(req.Pid, req.Fd, req.Length)
	return reply(conn, rpcbus.VFS_READ, self, req.Seq, frontReadReply{Data: data, Err: toWireErr(err)})
}

func frontHandleWrite(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontWriteRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	n, err := srv.Write(req.Pid, req.Fd, req.Data)
	return reply(conn, rpcbus.VFS_WRITE, self, req.Seq, frontWriteReply{N: n, Err: toWireErr(err)})
}

func frontHandleGetdents(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontGetdentsRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	entries, err := srv.Getdents(req.Pid, req.Fd)
	return reply(conn, rpcbus.VFS_GETDENTS, self, req.Seq, frontGetdentsReply{Entries: entries, Err: toWireErr(err)})
}

func frontHandleStat(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontStatRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	info, err := srv.Stat(req.Pid, req.Fd)
	return reply(conn, rpcbus.VFS_STAT, self, req.Seq, frontStatReply{Info: info, Err: toWireErr(err)})
}

func frontHandleClose(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontCloseRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	err := srv.Close(req.Pid, req.Fd)
	return reply(conn, rpcbus.VFS_CLOSE, self, req.Seq, frontCloseReply{Err: toWireErr(err)})
}

func frontHandleMount(conn *rpcbus.Conn, self rpcbus.PID, srv *Server, msg rpcbus.Message) error {
	var req frontMountRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	err := srv.Mount(req.Source, req.Target, req.FSType, req.Flags)
	return reply(conn, rpcbus.VFS_MOUNT, self, req.Seq, frontMountReply{Err: toWireErr(err)})
}
