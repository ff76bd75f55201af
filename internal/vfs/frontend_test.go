package vfs

import (
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/lpae-kernel/kernel/internal/rpcbus"
)

// TestFrontClientRoundTrip drives FrontClient and
// NewServerRequestHandler across a real net.Pipe: a client opens a
// ramdisk-backed path, reads it back, and closes it, exercising the
// pid+fd wire shapes end to end.
func TestFrontClientRoundTrip(t *testing.T) {
	clientSide, vfsdSide := net.Pipe()
	defer clientSide.Close()
	defer vfsdSide.Close()

	srv := NewServer(nil)
	backend := newFakeBackend()
	backend.files["/motd"] = "welcome"
	srv.RegisterMountHandler("ext2", 5, backend)
	require.NoError(t, srv.Mount("sda1", "/mnt", "ext2", 0))

	log := logrus.NewEntry(logrus.New())
	vfsdConn := rpcbus.NewConn(vfsdSide)
	vfsdServer := rpcbus.NewServer("vfsd", vfsdConn, NewServerRequestHandler(srv, 9), log)
	go vfsdServer.Run()

	clientConn := rpcbus.NewConn(clientSide)
	clientServer := rpcbus.NewServer("kernel", clientConn, func(*rpcbus.Conn, rpcbus.Message) error {
		return nil
	}, log)
	go clientServer.Run()

	fc := NewFrontClient(clientConn, clientServer.Conts, 1)

	const callerPid PID = 100

	type openResult struct {
		fd   int
		info Stat
		err  error
	}
	openDone := make(chan openResult, 1)
	go func() {
		fd, info, err := fc.Open(callerPid, "/mnt/motd", 0, 0)
		openDone <- openResult{fd, info, err}
	}()

	var fd int
	select {
	case r := <-openDone:
		require.NoError(t, r.err)
		require.True(t, r.info.IsRegular())
		fd = r.fd
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FrontClient.Open reply")
	}

	readDone := make(chan []byte, 1)
	go func() {
		data, err := fc.Read(callerPid, fd, 32)
		require.NoError(t, err)
		readDone <- data
	}()

	select {
	case data := <-readDone:
		require.Equal(t, "welcome", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FrontClient.Read reply")
	}

	closeDone := make(chan error, 1)
	go func() { closeDone <- fc.Close(callerPid, fd) }()
	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FrontClient.Close reply")
	}
}
