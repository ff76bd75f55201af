package diskimg

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type memImage struct {
	buf *bytes.Reader
	raw []byte
}

func newMemImage(data []byte) *memImage {
	return &memImage{buf: bytes.NewReader(data), raw: data}
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	return m.buf.ReadAt(p, off)
}

func (m *memImage) WriteAt(p []byte, off int64) (int, error) {
	copy(m.raw[off:], p)
	return len(p), nil
}

func TestPartitionDeviceReadWriteOffset(t *testing.T) {
	raw := make([]byte, 512*20)
	copy(raw[512*5:], []byte("partition data here"))
	img := newMemImage(raw)

	dev := NewPartitionDevice(img, 512, Partition{RelativeSector: 5, TotalSectors: 10})

	buf := make([]byte, 512)
	require.NoError(t, dev.ReadSector(0, buf))
	require.Equal(t, "partition data here", string(bytes.TrimRight(buf, "\x00")))

	require.NoError(t, dev.WriteSector(1, []byte("second sector"+string(make([]byte, 512-13)))))
	require.Equal(t, byte('s'), raw[512*6])
}

func TestPartitionDeviceOutOfRange(t *testing.T) {
	img := newMemImage(make([]byte, 512*5))
	dev := NewPartitionDevice(img, 512, Partition{RelativeSector: 0, TotalSectors: 5})

	err := dev.ReadSector(5, make([]byte, 512))
	require.Error(t, err)
}

func TestFileDeviceReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	raw := make([]byte, 512*4)
	copy(raw[512*2:], []byte("file backed sector"))
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	dev, err := OpenImage(path, 512)
	require.NoError(t, err)
	defer dev.Close()

	require.Equal(t, uint32(512), dev.SectorSize())

	buf := make([]byte, 512)
	require.NoError(t, dev.ReadSector(2, buf))
	require.Equal(t, "file backed sector", string(bytes.TrimRight(buf, "\x00")))

	payload := append([]byte("updated"), make([]byte, 512-7)...)
	require.NoError(t, dev.WriteSector(1, payload))

	confirm := make([]byte, 512)
	require.NoError(t, dev.ReadSector(1, confirm))
	require.Equal(t, "updated", string(bytes.TrimRight(confirm, "\x00")))
}

func TestOpenImageMissingFile(t *testing.T) {
	_, err := OpenImage(filepath.Join(t.TempDir(), "nope.img"), 512)
	require.Error(t, err)
}
