package fbdump

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lpae-kernel/kernel/internal/kheap"
	"github.com/lpae-kernel/kernel/internal/vfs"
)

func TestDumpMountTreeProducesValidPNG(t *testing.T) {
	mounts := vfs.NewMountTable()
	require.NoError(t, mounts.Add("/", 0, vfs.Stat{Mode: vfs.ModeDir}))
	require.NoError(t, mounts.Add("/mnt/data", 42, vfs.Stat{Mode: vfs.ModeDir}))

	out := filepath.Join(t.TempDir(), "mounts.png")
	require.NoError(t, DumpMountTree(mounts, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Greater(t, img.Bounds().Dx(), 0)
	require.Greater(t, img.Bounds().Dy(), 0)
}

func TestDumpHeapMapProducesValidPNG(t *testing.T) {
	stats := kheap.Stats{
		RegionStart: 0x1000,
		RegionSize:  0x2000,
		Used:        []kheap.Block{{Addr: 0x1000, Size: 0x800}},
		Free:        []kheap.Block{{Addr: 0x1800, Size: 0x1800}},
	}

	out := filepath.Join(t.TempDir(), "heap.png")
	require.NoError(t, DumpHeapMap(stats, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 800, img.Bounds().Dx())
}

func TestDumpHeapMapEmptyRegion(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.png")
	require.NoError(t, DumpHeapMap(kheap.Stats{}, out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}
