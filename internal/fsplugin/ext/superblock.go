// Package ext reads ext2/ext3/ext4 filesystems: superblock and
// block-group descriptor parsing, inode lookup through direct and
// indirect block pointers, and directory traversal. It is one of the
// two filesystem plug-ins (component C5) sitting on
// internal/blockcache's shared block abstraction.
package ext

import (
	"encoding/binary"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

const extSuperMagic = 0xEF53

const superblockOffset = 1024
const superblockSize = 1024

// Superblock is the subset of the ext2/3/4 superblock this reader
// needs, decoded field by field from the 1024-byte structure starting
// at byte offset 1024.
type Superblock struct {
	InodesCount      uint32
	BlocksCount      uint32
	RBlocksCount     uint32
	FreeBlocksCount  uint32
	FreeInodesCount  uint32
	FirstDataBlock   uint32
	LogBlockSize     uint32
	LogFragSize      uint32
	BlocksPerGroup   uint32
	FragsPerGroup    uint32
	InodesPerGroup   uint32
	Magic            uint16
	RevLevel         uint32
	InodeSize        uint16
	FeatureCompat    uint32
	FeatureIncompat  uint32
	FeatureROIncompat uint32
}

// BlockSize is 1024 << LogBlockSize, the filesystem's block granularity.
func (s *Superblock) BlockSize() uint32 { return 1024 << s.LogBlockSize }

// InodeByteSize is the on-disk inode record size: 128 bytes for
// revision 0 filesystems, s.InodeSize otherwise.
func (s *Superblock) InodeByteSize() uint32 {
	if s.RevLevel == 0 {
		return 128
	}
	return uint32(s.InodeSize)
}

// groupCountByBlocks and groupCountByInodes derive the number of block
// groups independently from the block count and the inode count; both
// must agree for the superblock to be considered well formed.
func (s *Superblock) groupCountByBlocks() uint32 {
	n := s.BlocksCount / s.BlocksPerGroup
	if s.BlocksCount%s.BlocksPerGroup != 0 {
		n++
	}
	return n
}

func (s *Superblock) groupCountByInodes() uint32 {
	n := s.InodesCount / s.InodesPerGroup
	if s.InodesCount%s.InodesPerGroup != 0 {
		n++
	}
	return n
}

// GroupCount returns the filesystem's block group count.
func (s *Superblock) GroupCount() uint32 { return s.groupCountByBlocks() }

// ParseSuperblock decodes a 1024-byte superblock record (as read from
// byte offset 1024 on the partition) and validates its magic and group
// count consistency.
func ParseSuperblock(data []byte) (*Superblock, error) {
	if len(data) < 90 {
		return nil, kerr.New(kerr.Malformed, "ext.ParseSuperblock: truncated")
	}
	le := binary.LittleEndian
	s := &Superblock{
		InodesCount:     le.Uint32(data[0:4]),
		BlocksCount:     le.Uint32(data[4:8]),
		RBlocksCount:    le.Uint32(data[8:12]),
		FreeBlocksCount: le.Uint32(data[12:16]),
		FreeInodesCount: le.Uint32(data[16:20]),
		FirstDataBlock:  le.Uint32(data[20:24]),
		LogBlockSize:    le.Uint32(data[24:28]),
		LogFragSize:     le.Uint32(data[28:32]),
		BlocksPerGroup:  le.Uint32(data[32:36]),
		FragsPerGroup:   le.Uint32(data[36:40]),
		InodesPerGroup:  le.Uint32(data[40:44]),
		Magic:           le.Uint16(data[56:58]),
		RevLevel:        le.Uint32(data[76:80]),
	}
	if len(data) >= 90 {
		s.InodeSize = le.Uint16(data[88:90])
	}
	if len(data) >= 104 {
		s.FeatureCompat = le.Uint32(data[92:96])
		s.FeatureIncompat = le.Uint32(data[96:100])
		s.FeatureROIncompat = le.Uint32(data[100:104])
	}

	if s.Magic != extSuperMagic {
		return nil, kerr.New(kerr.Malformed, "ext.ParseSuperblock: bad magic")
	}
	if s.groupCountByBlocks() != s.groupCountByInodes() {
		return nil, kerr.New(kerr.Malformed, "ext.ParseSuperblock: block/inode group count mismatch")
	}
	return s, nil
}
