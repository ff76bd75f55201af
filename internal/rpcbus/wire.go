package rpcbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

const envelopeSize = 4 + 4 + 4 + 4 // Type, Origin, DataPtrID, ResponsePtrID, all uint32-width

// EncodeEnvelope writes the fixed header to w in the wire byte order.
func EncodeEnvelope(w io.Writer, e Envelope) error {
	var buf [envelopeSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.Type))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.Origin))
	binary.LittleEndian.PutUint32(buf[8:12], e.DataPtrID)
	binary.LittleEndian.PutUint32(buf[12:16], e.ResponsePtrID)
	_, err := w.Write(buf[:])
	return err
}

// DecodeEnvelope reads the fixed header from r.
func DecodeEnvelope(r io.Reader) (Envelope, error) {
	var buf [envelopeSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:          Type(binary.LittleEndian.Uint32(buf[0:4])),
		Origin:        PID(binary.LittleEndian.Uint32(buf[4:8])),
		DataPtrID:     binary.LittleEndian.Uint32(buf[8:12]),
		ResponsePtrID: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Message is an envelope plus the payload that travelled with it, as
// Conn.Recv returns it; Recv also registers that payload in the
// DataStore under DataPtrID (or ResponsePtrID, for a reply).
type Message struct {
	Envelope Envelope
	Payload  []byte
}

// DataStore stands in for the kernel's explicit "get data" syscall: the
// payload travels alongside the envelope but is addressed by an id
// rather than being inlined, so a handler can defer fetching it (or
// never fetch it, for a reply it only cares about the status of).
type DataStore struct {
	mu   chan struct{} // binary semaphore; see lock()/unlock()
	next uint32
	data map[uint32][]byte
}

// NewDataStore returns an empty store.
func NewDataStore() *DataStore {
	s := &DataStore{mu: make(chan struct{}, 1), data: make(map[uint32][]byte)}
	s.mu <- struct{}{}
	return s
}

func (s *DataStore) lock()   { <-s.mu }
func (s *DataStore) unlock() { s.mu <- struct{}{} }

// Put registers a payload and returns the id a peer can later use to
// fetch it via Get.
func (s *DataStore) Put(payload []byte) uint32 {
	s.lock()
	defer s.unlock()
	s.next++
	id := s.next
	s.data[id] = payload
	return id
}

// Get fetches and removes the payload registered under id. A zero id
// (no payload was attached) returns ErrNoData.
func (s *DataStore) Get(id uint32) ([]byte, error) {
	if id == 0 {
		return nil, ErrNoData
	}
	s.lock()
	defer s.unlock()
	payload, ok := s.data[id]
	if !ok {
		return nil, fmt.Errorf("rpcbus: no data registered for id %d", id)
	}
	delete(s.data, id)
	return payload, nil
}

// putAt registers payload under an id already chosen by the peer (the
// id that arrived with an inbound message), rather than allocating a
// fresh one. Used by Conn.Recv so a payload delivered over the wire is
// still addressable by id locally, same as one registered by Put.
func (s *DataStore) putAt(id uint32, payload []byte) {
	if id == 0 {
		return
	}
	s.lock()
	defer s.unlock()
	s.data[id] = payload
}

// ErrNoData is returned by DataStore.Get for a zero id.
var ErrNoData = fmt.Errorf("rpcbus: no data attached")

// writePayload writes a length-prefixed payload immediately following
// an envelope. The fixed envelope header has no room for a length
// field, so every message that carries a body needs this frame.
func writePayload(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// readPayload reads the length-prefixed payload written by writePayload.
func readPayload(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
