package vfs

import (
	"bytes"
	"encoding/gob"
	"errors"

	"github.com/lpae-kernel/kernel/internal/kerr"
	"github.com/lpae-kernel/kernel/internal/rpcbus"
)

// wireError is the gob-safe rendition of an error crossing the wire.
// gob cannot encode an arbitrary error interface (the concrete type
// backing it is almost never registered, and kerr.E.Err nests another
// interface), so every reply type below carries one of these instead
// of the bare error its in-process Backend counterpart uses.
type wireError struct {
	Kind kerr.Kind
	Msg  string
}

func toWireErr(err error) *wireError {
	if err == nil {
		return nil
	}
	return &wireError{Kind: kerr.KindOf(err), Msg: err.Error()}
}

// fromWireErr reconstructs a *kerr.E carrying the original Kind and
// message, so kerr.KindOf still works on the caller's side of the
// wire exactly as it would in-process.
func fromWireErr(w *wireError) error {
	if w == nil {
		return nil
	}
	return &kerr.E{Kind: w.Kind, Err: errors.New(w.Msg)}
}

type wireOpenReply struct {
	Info Stat
	Err  *wireError
}

type wireReadReply struct {
	Data []byte
	Err  *wireError
}

type wireWriteReply struct {
	N   int
	Err *wireError
}

type wireGetdentsReply struct {
	Entries []DirEntry
	Err     *wireError
}

type wireStatReply struct {
	Info Stat
	Err  *wireError
}

type wireCloseReply struct {
	Err *wireError
}

type wireMountReply struct {
	Info Stat
	Err  *wireError
}

// RPCBackend is the production Backend: it raises each call as an RPC
// over conn and blocks on the continuation it registers for the
// forward, the real suspend point spec.md §4.4 describes. Server.Open
// et al. call this exactly like the synchronous fakeBackend in
// server_test.go — the suspend is invisible to them, same as the
// original's handler never knowing whether a reply arrived from local
// memory or a socket.
type RPCBackend struct {
	conn  *rpcbus.Conn
	conts *rpcbus.ContinuationTable
	self  rpcbus.PID
}

// NewRPCBackend wires a Backend onto conn. conts must be the same
// table the rpcbus.Server reading conn's replies dispatches into —
// typically the Server's own Conts, since a single connection carries
// both the VFS server's requests and the daemon's replies.
func NewRPCBackend(conn *rpcbus.Conn, conts *rpcbus.ContinuationTable, self rpcbus.PID) *RPCBackend {
	return &RPCBackend{conn: conn, conts: conts, self: self}
}

// chanContinuation resumes a blocked round trip by handing the reply
// message to a buffered channel; one shape per suspension point does
// not apply here since every VFS round trip suspends identically.
type chanContinuation struct {
	ch chan rpcbus.Message
}

func (c *chanContinuation) Resume(msg rpcbus.Message) error {
	c.ch <- msg
	return nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, kerr.Wrap(kerr.IoError, "vfs.encodeGob", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return kerr.Wrap(kerr.IoError, "vfs.decodeGob", err)
	}
	return nil
}

// roundTrip registers a continuation for (t, seq), sends the request
// envelope, and blocks until the daemon's rpcbus.Server dispatches the
// matching reply back into conts.
func (b *RPCBackend) roundTrip(t rpcbus.Type, seq uint32, payload []byte) (rpcbus.Message, error) {
	ch := make(chan rpcbus.Message, 1)
	b.conts.Put(t, seq, &chanContinuation{ch: ch})
	if err := b.conn.Send(rpcbus.Envelope{Type: t, Origin: b.self}, payload); err != nil {
		return rpcbus.Message{}, kerr.Wrap(kerr.IoError, "vfs.RPCBackend.roundTrip", err)
	}
	return <-ch, nil
}

func (b *RPCBackend) Open(req OpenRequest) OpenReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return OpenReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_OPEN, req.Seq, payload)
	if err != nil {
		return OpenReply{Err: err}
	}
	var rep wireOpenReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return OpenReply{Err: err}
	}
	return OpenReply{Info: rep.Info, Err: fromWireErr(rep.Err)}
}

func (b *RPCBackend) Read(req ReadRequest) ReadReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return ReadReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_READ, req.Seq, payload)
	if err != nil {
		return ReadReply{Err: err}
	}
	var rep wireReadReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return ReadReply{Err: err}
	}
	return ReadReply{Data: rep.Data, Err: fromWireErr(rep.Err)}
}

func (b *RPCBackend) Write(req WriteRequest) WriteReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return WriteReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_WRITE, req.Seq, payload)
	if err != nil {
		return WriteReply{Err: err}
	}
	var rep wireWriteReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return WriteReply{Err: err}
	}
	return WriteReply{N: rep.N, Err: fromWireErr(rep.Err)}
}

func (b *RPCBackend) Getdents(req GetdentsRequest) GetdentsReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return GetdentsReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_GETDENTS, req.Seq, payload)
	if err != nil {
		return GetdentsReply{Err: err}
	}
	var rep wireGetdentsReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return GetdentsReply{Err: err}
	}
	return GetdentsReply{Entries: rep.Entries, Err: fromWireErr(rep.Err)}
}

func (b *RPCBackend) Stat(req StatRequest) StatReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return StatReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_STAT, req.Seq, payload)
	if err != nil {
		return StatReply{Err: err}
	}
	var rep wireStatReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return StatReply{Err: err}
	}
	return StatReply{Info: rep.Info, Err: fromWireErr(rep.Err)}
}

func (b *RPCBackend) Close(req CloseRequest) CloseReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return CloseReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_CLOSE, req.Seq, payload)
	if err != nil {
		return CloseReply{Err: err}
	}
	var rep wireCloseReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return CloseReply{Err: err}
	}
	return CloseReply{Err: fromWireErr(rep.Err)}
}

func (b *RPCBackend) Mount(req MountRequest) MountReply {
	req.Seq = rpcbus.NewResponseID()
	payload, err := encodeGob(req)
	if err != nil {
		return MountReply{Err: err}
	}
	msg, err := b.roundTrip(rpcbus.VFS_MOUNT, req.Seq, payload)
	if err != nil {
		return MountReply{Err: err}
	}
	var rep wireMountReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return MountReply{Err: err}
	}
	return MountReply{Info: rep.Info, Err: fromWireErr(rep.Err)}
}
