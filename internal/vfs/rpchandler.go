package vfs

import (
	"github.com/lpae-kernel/kernel/internal/rpcbus"
)

// NewRPCRequestHandler builds the daemon-side counterpart to
// RPCBackend: an rpcbus.RequestHandler that decodes each inbound VFS
// request, calls the matching Backend method against a concrete
// filesystem plug-in, and sends the reply back with ResponsePtrID set
// to the request's own Seq — the same id the client's RPCBackend
// registered its continuation under. self is stamped into the reply
// envelope's Origin field.
func NewRPCRequestHandler(backend Backend, self rpcbus.PID) rpcbus.RequestHandler {
	return func(conn *rpcbus.Conn, msg rpcbus.Message) error {
		switch msg.Envelope.Type {
		case rpcbus.VFS_OPEN:
			return handleOpen(conn, self, backend, msg)
		case rpcbus.VFS_READ:
			return handleRead(conn, self, backend, msg)
		case rpcbus.VFS_WRITE:
			return handleWrite(conn, self, backend, msg)
		case rpcbus.VFS_GETDENTS:
			return handleGetdents(conn, self, backend, msg)
		case rpcbus.VFS_STAT:
			return handleStat(conn, self, backend, msg)
		case rpcbus.VFS_CLOSE:
			return handleClose(conn, self, backend, msg)
		case rpcbus.VFS_MOUNT:
			return handleMount(conn, self, backend, msg)
		default:
			return nil
		}
	}
}

func reply(conn *rpcbus.Conn, t rpcbus.Type, self rpcbus.PID, seq uint32, v interface{}) error {
	payload, err := encodeGob(v)
	if err != nil {
		return err
	}
	return conn.Send(rpcbus.Envelope{Type: t, Origin: self, ResponsePtrID: seq}, payload)
}

func handleOpen(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req OpenRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Open(req)
	return reply(conn, rpcbus.VFS_OPEN, self, req.Seq, wireOpenReply{Info: r.Info, Err: toWireErr(r.Err)})
}

func handleRead(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req ReadRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Read(req)
	return reply(conn, rpcbus.VFS_READ, self, req.Seq, wireReadReply{Data: r.Data, Err: toWireErr(r.Err)})
}

func handleWrite(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req WriteRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Write(req)
	return reply(conn, rpcbus.VFS_WRITE, self, req.Seq, wireWriteReply{N: r.N, Err: toWireErr(r.Err)})
}

func handleGetdents(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req GetdentsRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Getdents(req)
	return reply(conn, rpcbus.VFS_GETDENTS, self, req.Seq, wireGetdentsReply{Entries: r.Entries, Err: toWireErr(r.Err)})
}

func handleStat(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req StatRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Stat(req)
	return reply(conn, rpcbus.VFS_STAT, self, req.Seq, wireStatReply{Info: r.Info, Err: toWireErr(r.Err)})
}

func handleClose(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req CloseRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Close(req)
	return reply(conn, rpcbus.VFS_CLOSE, self, req.Seq, wireCloseReply{Err: toWireErr(r.Err)})
}

func handleMount(conn *rpcbus.Conn, self rpcbus.PID, backend Backend, msg rpcbus.Message) error {
	var req MountRequest
	if err := decodeGob(msg.Payload, &req); err != nil {
		return err
	}
	r := backend.Mount(req)
	return reply(conn, rpcbus.VFS_MOUNT, self, req.Seq, wireMountReply{Info: r.Info, Err: toWireErr(r.Err)})
}
