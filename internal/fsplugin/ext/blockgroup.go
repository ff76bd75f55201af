package ext

import (
	"encoding/binary"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

const groupDescriptorSize = 32

// GroupDescriptor is one block-group descriptor table entry.
type GroupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

// ParseGroupDescriptors decodes the block-group descriptor table, which
// immediately follows the superblock's own block (block 1 for a 1KiB
// block size, block 0 + 1 otherwise since the superblock always starts
// at byte 1024).
func ParseGroupDescriptors(data []byte, count uint32) ([]GroupDescriptor, error) {
	le := binary.LittleEndian
	out := make([]GroupDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		off := i * groupDescriptorSize
		if int(off)+groupDescriptorSize > len(data) {
			return nil, kerr.New(kerr.Malformed, "ext.ParseGroupDescriptors: truncated")
		}
		b := data[off:]
		out = append(out, GroupDescriptor{
			BlockBitmap:     le.Uint32(b[0:4]),
			InodeBitmap:     le.Uint32(b[4:8]),
			InodeTable:      le.Uint32(b[8:12]),
			FreeBlocksCount: le.Uint16(b[12:14]),
			FreeInodesCount: le.Uint16(b[14:16]),
			UsedDirsCount:   le.Uint16(b[16:18]),
		})
	}
	return out, nil
}

// groupDescriptorBlock is the block number the group descriptor table
// starts at: the block immediately after the superblock's own block.
func groupDescriptorBlock(sb *Superblock) uint32 {
	if sb.BlockSize() == 1024 {
		return 2
	}
	return 1
}
