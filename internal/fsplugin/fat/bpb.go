// Package fat reads FAT12/16/32 filesystems: BIOS parameter block
// parsing, cluster-chain walking through the file allocation table, and
// 8.3/long-file-name directory entry decoding. It is the second
// filesystem plug-in (component C5), sitting on the same
// internal/blockcache abstraction ext does.
package fat

import (
	"encoding/binary"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// Type identifies which FAT width governs cluster addressing.
type Type int

const (
	Type12 Type = iota
	Type16
	Type32
)

func (t Type) String() string {
	switch t {
	case Type12:
		return "FAT12"
	case Type16:
		return "FAT16"
	default:
		return "FAT32"
	}
}

const bpbSize = 512

// BPB is the decoded BIOS parameter block. SectorCountSmall is 0 on
// FAT32 volumes, which always carry the real count in SectorCountLarge
// instead.
type BPB struct {
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	FATCount            uint8
	RootEntryCount      uint16
	SectorCountSmall    uint16
	SectorsPerFATSmall  uint16
	SectorCountLarge    uint32
	SectorsPerFAT32     uint32
	RootClusterFAT32    uint32
}

// ParseBPB decodes a 512-byte boot sector.
func ParseBPB(data []byte) (*BPB, error) {
	if len(data) < bpbSize {
		return nil, kerr.New(kerr.Malformed, "fat.ParseBPB: truncated")
	}
	le := binary.LittleEndian
	b := &BPB{
		BytesPerSector:      le.Uint16(data[11:13]),
		SectorsPerCluster:   data[13],
		ReservedSectorCount: le.Uint16(data[14:16]),
		FATCount:            data[16],
		RootEntryCount:      le.Uint16(data[17:19]),
		SectorCountSmall:    le.Uint16(data[19:21]),
		SectorsPerFATSmall:  le.Uint16(data[22:24]),
		SectorCountLarge:    le.Uint32(data[32:36]),
	}
	if b.SectorsPerFATSmall == 0 {
		// FAT32 extended boot record.
		b.SectorsPerFAT32 = le.Uint32(data[36:40])
		b.RootClusterFAT32 = le.Uint32(data[44:48])
	}
	if b.BytesPerSector == 0 || b.SectorsPerCluster == 0 {
		return nil, kerr.New(kerr.Malformed, "fat.ParseBPB: zero geometry field")
	}
	return b, nil
}

// SectorsPerFAT is whichever of the 16-/32-bit fields actually holds
// the FAT size on this volume.
func (b *BPB) SectorsPerFAT() uint32 {
	if b.SectorsPerFATSmall != 0 {
		return uint32(b.SectorsPerFATSmall)
	}
	return b.SectorsPerFAT32
}

// TotalSectors is whichever of the 16-/32-bit fields actually holds the
// volume's total sector count.
func (b *BPB) TotalSectors() uint32 {
	if b.SectorCountSmall != 0 {
		return uint32(b.SectorCountSmall)
	}
	return b.SectorCountLarge
}

// RootDirSectors is how many sectors the fixed-size FAT12/16 root
// directory region occupies (0 on FAT32, which roots through a normal
// cluster chain instead).
func (b *BPB) RootDirSectors() uint32 {
	return (uint32(b.RootEntryCount)*32 + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector)
}

// FirstDataSector is the sector the cluster-numbered data region
// begins at, following the reserved area, the FAT copies, and (on
// FAT12/16) the fixed root directory.
func (b *BPB) FirstDataSector() uint32 {
	return uint32(b.ReservedSectorCount) + uint32(b.FATCount)*b.SectorsPerFAT() + b.RootDirSectors()
}

// ClusterCount determines the FAT width per the Microsoft algorithm:
// classify by how many data clusters the volume actually has, not by a
// stored type field (FAT encodes no such field).
func (b *BPB) ClusterCount() uint32 {
	dataSectors := b.TotalSectors() - b.FirstDataSector()
	return dataSectors / uint32(b.SectorsPerCluster)
}

// FATType classifies the volume by cluster count, per the standard
// Microsoft thresholds.
func (b *BPB) FATType() Type {
	switch {
	case b.ClusterCount() < 4085:
		return Type12
	case b.ClusterCount() < 65525:
		return Type16
	default:
		return Type32
	}
}

// ClusterToSector converts a cluster number (clusters are numbered from
// 2) to its first absolute sector.
func (b *BPB) ClusterToSector(cluster uint32) uint32 {
	return b.FirstDataSector() + (cluster-2)*uint32(b.SectorsPerCluster)
}
