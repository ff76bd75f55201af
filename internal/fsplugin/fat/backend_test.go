package fat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lpae-kernel/kernel/internal/vfs"
)

func TestBackendOpenAndRead(t *testing.T) {
	dev := buildTestImage(t, "hello world", "diagnostic log contents")
	fs, err := Mount(dev)
	require.NoError(t, err)
	b := NewBackend(fs)

	openRep := b.Open(vfs.OpenRequest{Path: "/HELLO.TXT"})
	require.NoError(t, openRep.Err)
	require.True(t, openRep.Info.IsRegular())

	readRep := b.Read(vfs.ReadRequest{Path: "/HELLO.TXT", Offset: 0, Length: int(openRep.Info.Size)})
	require.NoError(t, readRep.Err)
	require.Equal(t, "hello world", string(readRep.Data))
}

func TestBackendGetdentsRoot(t *testing.T) {
	dev := buildTestImage(t, "hello world", "diagnostic log contents")
	fs, err := Mount(dev)
	require.NoError(t, err)
	b := NewBackend(fs)

	rep := b.Getdents(vfs.GetdentsRequest{Path: "/"})
	require.NoError(t, rep.Err)
	names := map[string]bool{}
	for _, e := range rep.Entries {
		names[e.Name] = true
	}
	require.True(t, names["HELLO.TXT"])
	require.True(t, names["diagnostics.log"])
}

func TestBackendWriteNotImplemented(t *testing.T) {
	dev := buildTestImage(t, "x", "y")
	fs, err := Mount(dev)
	require.NoError(t, err)
	b := NewBackend(fs)

	rep := b.Write(vfs.WriteRequest{Path: "/HELLO.TXT", Data: []byte("nope")})
	require.Error(t, rep.Err)
}

func TestBackendMountReturnsRootStat(t *testing.T) {
	dev := buildTestImage(t, "x", "y")
	fs, err := Mount(dev)
	require.NoError(t, err)
	b := NewBackend(fs)

	rep := b.Mount(vfs.MountRequest{Source: "/dev/sd1", Target: "/"})
	require.NoError(t, rep.Err)
	require.True(t, rep.Info.IsDir())
}
