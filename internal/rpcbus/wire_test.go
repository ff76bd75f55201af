package rpcbus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	e := Envelope{Type: VFS_OPEN, Origin: 42, DataPtrID: 7, ResponsePtrID: 0}
	require.NoError(t, EncodeEnvelope(&buf, e))

	got, err := DecodeEnvelope(&buf)
	require.NoError(t, err)
	require.Equal(t, e, got)
}

func TestEnvelopeIsReply(t *testing.T) {
	require.False(t, Envelope{ResponsePtrID: 0}.IsReply())
	require.True(t, Envelope{ResponsePtrID: 1}.IsReply())
}

func TestDataStorePutGet(t *testing.T) {
	s := NewDataStore()
	id := s.Put([]byte("hello"))
	require.NotZero(t, id)

	got, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	// A second Get for the same id fails: payloads are consumed once.
	_, err = s.Get(id)
	require.Error(t, err)
}

func TestDataStoreZeroIDIsNoData(t *testing.T) {
	s := NewDataStore()
	_, err := s.Get(0)
	require.ErrorIs(t, err, ErrNoData)
}

func TestContinuationTableTakeOnce(t *testing.T) {
	ct := NewContinuationTable()
	called := 0
	ct.Put(VFS_READ, 5, resumeFunc(func(Message) error {
		called++
		return nil
	}))
	require.Equal(t, 1, ct.Len())

	cont, ok := ct.Take(VFS_READ, 5)
	require.True(t, ok)
	require.NoError(t, cont.Resume(Message{}))
	require.Equal(t, 1, called)

	_, ok = ct.Take(VFS_READ, 5)
	require.False(t, ok, "continuation must not be deliverable twice")
}

type resumeFunc func(Message) error

func (f resumeFunc) Resume(m Message) error { return f(m) }
