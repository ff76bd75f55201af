// Package vfs implements the VFS server core (component C4): the
// per-process handle table, the mount table with longest-prefix
// resolution, and the RPC handlers that sit on top of
// internal/rpcbus's envelope/continuation machinery.
package vfs

import "github.com/lpae-kernel/kernel/internal/rpcbus"

// Mode bits, mirroring the S_IFMT family used in struct stat.
const (
	ModeDir     uint32 = 0x4000
	ModeRegular uint32 = 0x8000
)

// OpenFlags mirrors the subset of O_* flags the open/mount contract
// inspects.
type OpenFlags int

const (
	OCreat OpenFlags = 1 << iota
	OExcl
	ODirectory
	ORDWR
)

// Stat is the cached file status a handle record carries and a plug-in
// returns from open/stat.
type Stat struct {
	Mode uint32
	Size int64
	UID  uint32
	GID  uint32
	Perm uint32 // low 9 bits, rwxrwxrwx
}

func (s Stat) IsDir() bool     { return s.Mode&ModeDir != 0 }
func (s Stat) IsRegular() bool { return s.Mode&ModeRegular != 0 }

// Canonical pseudo-mount paths (spec.md §6).
const (
	PathSelf     = "/vfs"
	PathDev      = "/dev"
	PathDevNull  = "/dev/null"
	PathStdin    = "/dev/stdin"
	PathStdout   = "/dev/stdout"
	PathStderr   = "/dev/stderr"
	PathAuthDev  = "/dev/authentication"
)

// Whence values for Seek, matching SEEK_SET/CUR/END.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// PID is re-exported for callers that only import this package.
type PID = rpcbus.PID
