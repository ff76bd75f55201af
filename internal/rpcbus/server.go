package rpcbus

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Conn is one peer connection: the envelope/payload stream plus the
// data-id indirection described in wire.go. It is deliberately narrower
// than net.Conn so it can be backed by a real Unix socket in production
// or an in-memory pipe in tests.
type Conn struct {
	rw    io.ReadWriter
	store *DataStore
}

// NewConn wraps an envelope/payload stream.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, store: NewDataStore()}
}

// Send writes an envelope followed by its length-prefixed payload. For
// an initial request (ResponsePtrID left zero) a non-empty payload is
// registered in the local data store and DataPtrID filled in. For a
// reply, the caller has already set ResponsePtrID to the correlation
// id the original requester is waiting on (typically echoed from that
// request's own payload) — Send leaves it untouched and just mirrors
// the payload into the local store under that same id, so ResponsePtrID
// keeps working as the sole correlation key Take() needs, the same
// value on both ends of the wire.
func (c *Conn) Send(e Envelope, payload []byte) error {
	if len(payload) > 0 {
		if e.IsReply() {
			c.store.putAt(e.ResponsePtrID, payload)
		} else {
			e.DataPtrID = c.store.Put(payload)
		}
	}
	if err := EncodeEnvelope(c.rw, e); err != nil {
		return err
	}
	return writePayload(c.rw, payload)
}

// Recv reads the next envelope and its length-prefixed payload, and
// registers the payload in the local data store under the id the
// envelope carries so it stays addressable by id alongside the
// Message it returns.
func (c *Conn) Recv() (Message, error) {
	e, err := DecodeEnvelope(c.rw)
	if err != nil {
		return Message{}, err
	}
	payload, err := readPayload(c.rw)
	if err != nil {
		return Message{}, err
	}
	if len(payload) > 0 {
		id := e.DataPtrID
		if e.IsReply() {
			id = e.ResponsePtrID
		}
		c.store.putAt(id, payload)
	}
	return Message{Envelope: e, Payload: payload}, nil
}

// RequestHandler processes an initial (non-reply) request.
type RequestHandler func(conn *Conn, msg Message) error

// Server is the single-goroutine, cooperative event loop each server in
// the tree runs: one request handled end to end (including registering
// any continuation for a forward it makes) before the next is read.
type Server struct {
	Name    string
	Conn    *Conn
	Conts   *ContinuationTable
	Handler RequestHandler
	Log     *logrus.Entry
}

// NewServer builds a server loop bound to conn.
func NewServer(name string, conn *Conn, handler RequestHandler, log *logrus.Entry) *Server {
	return &Server{
		Name:    name,
		Conn:    conn,
		Conts:   NewContinuationTable(),
		Handler: handler,
		Log:     log.WithField("server", name),
	}
}

// Run processes envelopes from Conn until it returns io.EOF or another
// read error. Requests are handled FIFO; replies are dispatched to
// whatever continuation is registered for their (type, response id),
// or dropped silently if none is found (dead origin, or a duplicate
// delivery of an already-resolved reply).
func (s *Server) Run() error {
	for {
		msg, err := s.Conn.Recv()
		if err != nil {
			return err
		}
		if msg.Envelope.IsReply() {
			cont, ok := s.Conts.Take(msg.Envelope.Type, msg.Envelope.ResponsePtrID)
			if !ok {
				s.Log.WithFields(logrus.Fields{
					"type": msg.Envelope.Type,
					"rid":  msg.Envelope.ResponsePtrID,
				}).Debug("dropping reply with no matching continuation")
				continue
			}
			if err := cont.Resume(msg); err != nil {
				s.Log.WithError(err).Warn("continuation resume failed")
			}
			continue
		}
		if err := s.Handler(s.Conn, msg); err != nil {
			s.Log.WithError(err).Warn("request handler failed")
		}
	}
}
