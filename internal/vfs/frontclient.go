package vfs

import (
	"github.com/lpae-kernel/kernel/internal/rpcbus"
)

// FrontClient is what cmd/kernel holds to reach a vfsd daemon over
// rpcbus, the client side of
// NewServerRequestHandler. It round-trips the same way RPCBackend
// does against a filesystem-plugin daemon, just with the pid+fd wire
// shapes in frontend.go instead of the path-addressed Backend shapes.
type FrontClient struct {
	conn  *rpcbus.Conn
	conts *rpcbus.ContinuationTable
	self  rpcbus.PID
}

// NewFrontClient wires a FrontClient onto conn, sharing the
// ContinuationTable the rpcbus.Server reading conn's replies
// dispatches into.
func NewFrontClient(conn *rpcbus.Conn, conts *rpcbus.ContinuationTable, self rpcbus.PID) *FrontClient {
	return &FrontClient{conn: conn, conts: conts, self: self}
}

func (c *FrontClient) roundTrip(t rpcbus.Type, seq uint32, payload []byte) (rpcbus.Message, error) {
	ch := make(chan rpcbus.Message, 1)
	c.conts.Put(t, seq, &chanContinuation{ch: ch})
	if err := c.conn.Send(rpcbus.Envelope{Type: t, Origin: c.self}, payload); err != nil {
		return rpcbus.Message{}, err
	}
	return <-ch, nil
}

// Open issues a VFS_OPEN to vfsd on behalf of pid and returns the
// handle id the caller now owns.
func (c *FrontClient) Open(pid PID, path string, flags OpenFlags, mode int) (int, Stat, error) {
	req := frontOpenRequest{Pid: pid, Path: path, Flags: flags, Mode: mode, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return 0, Stat{}, err
	}
	msg, err := c.roundTrip(rpcbus.VFS_OPEN, req.Seq, payload)
	if err != nil {
		return 0, Stat{}, err
	}
	var rep frontOpenReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return 0, Stat{}, err
	}
	return rep.Fd, rep.Info, fromWireErr(rep.Err)
}

func (c *FrontClient) Read(pid PID, fd int, length int) ([]byte, error) {
	req := frontReadRequest{Pid: pid, Fd: fd, Length: length, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.roundTrip(rpcbus.VFS_READ, req.Seq, payload)
	if err != nil {
		return nil, err
	}
	var rep frontReadReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return nil, err
	}
	return rep.Data, fromWireErr(rep.Err)
}

func (c *FrontClient) Write(pid PID, fd int, data []byte) (int, error) {
	req := frontWriteRequest{Pid: pid, Fd: fd, Data: data, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return 0, err
	}
	msg, err := c.roundTrip(rpcbus.VFS_WRITE, req.Seq, payload)
	if err != nil {
		return 0, err
	}
	var rep frontWriteReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return 0, err
	}
	return rep.N, fromWireErr(rep.Err)
}

func (c *FrontClient) Getdents(pid PID, fd int) ([]DirEntry, error) {
	req := frontGetdentsRequest{Pid: pid, Fd: fd, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.roundTrip(rpcbus.VFS_GETDENTS, req.Seq, payload)
	if err != nil {
		return nil, err
	}
	var rep frontGetdentsReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return nil, err
	}
	return rep.Entries, fromWireErr(rep.Err)
}

func (c *FrontClient) Stat(pid PID, fd int) (Stat, error) {
	req := frontStatRequest{Pid: pid, Fd: fd, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return Stat{}, err
	}
	msg, err := c.roundTrip(rpcbus.VFS_STAT, req.Seq, payload)
	if err != nil {
		return Stat{}, err
	}
	var rep frontStatReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return Stat{}, err
	}
	return rep.Info, fromWireErr(rep.Err)
}

func (c *FrontClient) Close(pid PID, fd int) error {
	req := frontCloseRequest{Pid: pid, Fd: fd, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return err
	}
	msg, err := c.roundTrip(rpcbus.VFS_CLOSE, req.Seq, payload)
	if err != nil {
		return err
	}
	var rep frontCloseReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return err
	}
	return fromWireErr(rep.Err)
}

func (c *FrontClient) Mount(source, target, fsType string, flags int) error {
	req := frontMountRequest{Source: source, Target: target, FSType: fsType, Flags: flags, Seq: rpcbus.NewResponseID()}
	payload, err := encodeGob(req)
	if err != nil {
		return err
	}
	msg, err := c.roundTrip(rpcbus.VFS_MOUNT, req.Seq, payload)
	if err != nil {
		return err
	}
	var rep frontMountReply
	if err := decodeGob(msg.Payload, &rep); err != nil {
		return err
	}
	return fromWireErr(rep.Err)
}
