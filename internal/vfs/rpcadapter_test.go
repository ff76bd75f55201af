package vfs

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lpae-kernel/kernel/internal/rpcbus"
)

// TestRPCBackendRoundTrip drives RPCBackend and NewRPCRequestHandler
// across a real net.Pipe, exercising the full envelope+payload wire
// path end to end: client encodes a request, the daemon-side handler
// decodes it, calls a fakeBackend, and replies, and the client's
// roundTrip unblocks with the decoded result.
func TestRPCBackendRoundTrip(t *testing.T) {
	clientSide, daemonSide := net.Pipe()
	defer clientSide.Close()
	defer daemonSide.Close()

	backend := newFakeBackend()
	backend.files["/hello.txt"] = "hi there"

	log := logrus.NewEntry(logrus.New())
	daemonConn := rpcbus.NewConn(daemonSide)
	daemonServer := rpcbus.NewServer("fakefsd", daemonConn, NewRPCRequestHandler(backend, 2), log)
	go daemonServer.Run()

	clientConn := rpcbus.NewConn(clientSide)
	clientServer := rpcbus.NewServer("vfsd-client", clientConn, func(*rpcbus.Conn, rpcbus.Message) error {
		return nil
	}, log)
	go clientServer.Run()

	rb := NewRPCBackend(clientConn, clientServer.Conts, 1)

	done := make(chan OpenReply, 1)
	go func() {
		done <- rb.Open(OpenRequest{Path: "/hello.txt"})
	}()

	select {
	case rep := <-done:
		require.NoError(t, rep.Err)
		require.True(t, rep.Info.IsRegular())
		require.Equal(t, int64(len("hi there")), rep.Info.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPCBackend.Open reply")
	}
}

// TestRPCBackendRoundTripMissingFile checks that a Backend error
// survives the wire round trip with its Kind intact.
func TestRPCBackendRoundTripMissingFile(t *testing.T) {
	clientSide, daemonSide := net.Pipe()
	defer clientSide.Close()
	defer daemonSide.Close()

	backend := newFakeBackend()
	log := logrus.NewEntry(logrus.New())
	daemonConn := rpcbus.NewConn(daemonSide)
	daemonServer := rpcbus.NewServer("fakefsd", daemonConn, NewRPCRequestHandler(backend, 2), log)
	go daemonServer.Run()

	clientConn := rpcbus.NewConn(clientSide)
	clientServer := rpcbus.NewServer("vfsd-client", clientConn, func(*rpcbus.Conn, rpcbus.Message) error {
		return nil
	}, log)
	go clientServer.Run()

	rb := NewRPCBackend(clientConn, clientServer.Conts, 1)

	done := make(chan OpenReply, 1)
	go func() {
		done <- rb.Open(OpenRequest{Path: "/nope.txt"})
	}()

	select {
	case rep := <-done:
		require.Error(t, rep.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPCBackend.Open reply")
	}
}
