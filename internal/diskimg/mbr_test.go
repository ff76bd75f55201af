package diskimg

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildImage(t *testing.T, entries []Partition) []byte {
	t.Helper()
	image := make([]byte, 512)
	for i, p := range entries {
		off := partitionTableOffset + i*partitionTableEntrySize
		if p.Bootable {
			image[off] = 0x80
		}
		image[off+4] = p.SystemID
		binary.LittleEndian.PutUint32(image[off+8:], p.RelativeSector)
		binary.LittleEndian.PutUint32(image[off+12:], p.TotalSectors)
	}
	binary.LittleEndian.PutUint16(image[signatureOffset:], signature)
	return image
}

func TestReadMBRTwoPartitions(t *testing.T) {
	image := buildImage(t, []Partition{
		{Bootable: true, SystemID: TypeLinuxNative, RelativeSector: 2048, TotalSectors: 204800},
		{SystemID: TypeFAT32LBA, RelativeSector: 206848, TotalSectors: 102400},
	})

	parts, err := ReadMBR(bytes.NewReader(image))
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.True(t, parts[0].Bootable)
	require.EqualValues(t, 2048, parts[0].RelativeSector)
	name, ok := parts[0].FSTypeName()
	require.True(t, ok)
	require.Equal(t, "ext2", name)

	name, ok = parts[1].FSTypeName()
	require.True(t, ok)
	require.Equal(t, "fat32", name)
}

func TestReadMBRMissingSignature(t *testing.T) {
	image := make([]byte, 512)
	_, err := ReadMBR(bytes.NewReader(image))
	require.Error(t, err)
}

func TestReadMBRSkipsEmptyEntries(t *testing.T) {
	image := buildImage(t, []Partition{
		{SystemID: TypeLinuxNative, RelativeSector: 1, TotalSectors: 10},
	})

	parts, err := ReadMBR(bytes.NewReader(image))
	require.NoError(t, err)
	require.Len(t, parts, 1)
}
