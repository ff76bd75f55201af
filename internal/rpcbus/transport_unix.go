package rpcbus

import (
	"net"

	"golang.org/x/sys/unix"
)

// PeerPID recovers the calling process's pid from a Unix-domain socket
// connection via SO_PEERCRED, standing in for the kernel's own origin
// field in the RPC envelope. No server in this tree calls it; the
// Origin carried in a request is taken as sent.
func PeerPID(conn *net.UnixConn) (PID, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return PID(cred.Pid), nil
}
