package ext

import (
	"encoding/binary"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

const (
	rootInode = 2

	modeIFMT  = 0xf000
	modeIFDIR = 0x4000
	modeIFREG = 0x8000

	directBlocks = 12
	indirectIdx  = 12
	dindirectIdx = 13
	tindirectIdx = 14
)

// Inode is the on-disk ext2/3 inode record, limited to the fields this
// reader acts on.
type Inode struct {
	Mode       uint16
	SizeLow    uint32
	SizeHigh   uint32
	LinksCount uint16
	Block      [15]uint32
}

// Size is the inode's full 64-bit size (ext4 large-file extension).
func (i *Inode) Size() uint64 { return uint64(i.SizeHigh)<<32 | uint64(i.SizeLow) }

// IsDir reports whether the inode is a directory.
func (i *Inode) IsDir() bool { return i.Mode&modeIFMT == modeIFDIR }

// IsRegular reports whether the inode is a regular file.
func (i *Inode) IsRegular() bool { return i.Mode&modeIFMT == modeIFREG }

func parseInode(data []byte) (*Inode, error) {
	if len(data) < 100 {
		return nil, kerr.New(kerr.Malformed, "ext.parseInode: truncated")
	}
	le := binary.LittleEndian
	in := &Inode{
		Mode:       le.Uint16(data[0:2]),
		SizeLow:    le.Uint32(data[4:8]),
		LinksCount: le.Uint16(data[26:28]),
	}
	for i := 0; i < 15; i++ {
		off := 40 + i*4
		in.Block[i] = le.Uint32(data[off : off+4])
	}
	if len(data) >= 118 {
		in.SizeHigh = le.Uint32(data[108:112])
	}
	return in, nil
}

// inodeLocation returns the block-group descriptor index and the
// within-group inode index for a 1-based inode number.
func (fs *FS) inodeLocation(num uint32) (group, indexInGroup uint32) {
	group = (num - 1) / fs.sb.InodesPerGroup
	indexInGroup = (num - 1) % fs.sb.InodesPerGroup
	return
}

// readInode reads and decodes inode number num (1-based, ext convention).
func (fs *FS) readInode(num uint32) (*Inode, error) {
	group, idx := fs.inodeLocation(num)
	if int(group) >= len(fs.groups) {
		return nil, kerr.New(kerr.NotFound, "ext.readInode: group out of range")
	}
	inodeSize := fs.sb.InodeByteSize()
	byteOffset := idx * inodeSize
	blockSize := fs.sb.BlockSize()
	blockInTable := byteOffset / blockSize
	offsetInBlock := byteOffset % blockSize

	blockNum := fs.groups[group].InodeTable + blockInTable
	b, err := fs.cache.Get(blockNum, true)
	if err != nil {
		return nil, err
	}
	defer fs.cache.Put(b, false)

	end := offsetInBlock + inodeSize
	if end > uint32(len(b.Data)) {
		return nil, kerr.New(kerr.Malformed, "ext.readInode: inode record crosses block boundary")
	}
	return parseInode(b.Data[offsetInBlock:end])
}

// blockPointersPerBlock is how many uint32 block pointers fit in one
// filesystem block, used to size indirect address blocks.
func (fs *FS) blockPointersPerBlock() uint32 { return fs.sb.BlockSize() / 4 }

// resolveLogicalBlock maps a 0-based logical block index within a file
// to the physical block number, walking the indirect/double-indirect/
// triple-indirect pointer blocks as needed. Returns 0 (a hole) if the
// logical block was never allocated.
func (fs *FS) resolveLogicalBlock(in *Inode, logical uint32) (uint32, error) {
	ppb := fs.blockPointersPerBlock()

	if logical < directBlocks {
		return in.Block[logical], nil
	}
	logical -= directBlocks

	if logical < ppb {
		return fs.readIndirectPointer(in.Block[indirectIdx], logical)
	}
	logical -= ppb

	if logical < ppb*ppb {
		outer := logical / ppb
		inner := logical % ppb
		mid, err := fs.readIndirectPointer(in.Block[dindirectIdx], outer)
		if err != nil || mid == 0 {
			return 0, err
		}
		return fs.readIndirectPointer(mid, inner)
	}
	logical -= ppb * ppb

	outer := logical / (ppb * ppb)
	rem := logical % (ppb * ppb)
	mid2 := rem / ppb
	inner := rem % ppb
	l2, err := fs.readIndirectPointer(in.Block[tindirectIdx], outer)
	if err != nil || l2 == 0 {
		return 0, err
	}
	l1, err := fs.readIndirectPointer(l2, mid2)
	if err != nil || l1 == 0 {
		return 0, err
	}
	return fs.readIndirectPointer(l1, inner)
}

// readIndirectPointer returns the idx'th uint32 stored in block
// blockNum, or 0 if blockNum itself is a hole (never allocated).
func (fs *FS) readIndirectPointer(blockNum, idx uint32) (uint32, error) {
	if blockNum == 0 {
		return 0, nil
	}
	b, err := fs.cache.Get(blockNum, true)
	if err != nil {
		return 0, err
	}
	defer fs.cache.Put(b, false)
	off := idx * 4
	if int(off)+4 > len(b.Data) {
		return 0, kerr.New(kerr.Malformed, "ext.readIndirectPointer: out of range")
	}
	return binary.LittleEndian.Uint32(b.Data[off : off+4]), nil
}

// ReadFile returns a regular-file inode's full contents. A hole
// (unallocated logical block) reads back as zero bytes.
func (fs *FS) ReadFile(in *Inode) ([]byte, error) {
	if !in.IsRegular() {
		return nil, kerr.New(kerr.IsDirectory, "ext.ReadFile")
	}
	size := in.Size()
	out := make([]byte, size)
	blockSize := uint64(fs.sb.BlockSize())

	for off := uint64(0); off < size; off += blockSize {
		logical := uint32(off / blockSize)
		phys, err := fs.resolveLogicalBlock(in, logical)
		if err != nil {
			return nil, err
		}
		n := blockSize
		if off+n > size {
			n = size - off
		}
		if phys == 0 {
			continue // hole: leave zero-filled
		}
		b, err := fs.cache.Get(phys, true)
		if err != nil {
			return nil, err
		}
		copy(out[off:off+n], b.Data[:n])
		fs.cache.Put(b, false)
	}
	return out, nil
}
