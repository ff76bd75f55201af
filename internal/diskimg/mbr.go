// Package diskimg reads the MBR partition table off a raw disk image so
// a filesystem daemon can mount a named partition instead of an entire
// device, supplementing spec.md's single-backing-device mount model with
// the original's mbr_filesystem_to_type mapping (Partition.FSTypeName).
// Partitions are selected by table index; there is no parsing of a
// partition number out of a device path.
package diskimg

import (
	"encoding/binary"
	"io"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

const (
	partitionTableOffset    = 446
	partitionTableEntrySize = 16
	partitionTableCount     = 4
	signatureOffset         = 510
	signature               = 0xAA55
)

// Partition type ids, the subset the plug-ins in this tree care about.
const (
	TypeFAT12CHS    = 0x01
	TypeFAT16CHS    = 0x04
	TypeFAT16BCHS   = 0x06
	TypeFAT32CHS    = 0x0B
	TypeFAT32LBA    = 0x0C
	TypeFAT16BLBA   = 0x0E
	TypeLinuxNative = 0x83
)

// Partition is one entry of the MBR's four-entry partition table.
type Partition struct {
	Bootable        bool
	SystemID        byte
	RelativeSector  uint32
	TotalSectors    uint32
}

// FSTypeName maps a well-known partition type id to the fsType string
// vfs.Server.Mount expects, the Go rendition of the original's
// mbr_filesystem_to_type.
func (p Partition) FSTypeName() (string, bool) {
	switch p.SystemID {
	case TypeLinuxNative:
		return "ext2", true
	case TypeFAT12CHS, TypeFAT16CHS, TypeFAT16BCHS, TypeFAT32CHS, TypeFAT32LBA, TypeFAT16BLBA:
		return "fat32", true
	default:
		return "", false
	}
}

// ReadMBR parses the 512-byte boot sector read from r and returns every
// non-empty partition table entry, in table order.
func ReadMBR(r io.ReaderAt) ([]Partition, error) {
	sector := make([]byte, 512)
	if _, err := r.ReadAt(sector, 0); err != nil {
		return nil, kerr.Wrap(kerr.IoError, "diskimg.ReadMBR", err)
	}

	if sig := binary.LittleEndian.Uint16(sector[signatureOffset:]); sig != signature {
		return nil, kerr.New(kerr.Malformed, "diskimg.ReadMBR: missing boot signature")
	}

	var partitions []Partition
	for i := 0; i < partitionTableCount; i++ {
		entry := sector[partitionTableOffset+i*partitionTableEntrySize:]
		systemID := entry[4]
		if systemID == 0 {
			continue
		}
		partitions = append(partitions, Partition{
			Bootable:       entry[0]&0x80 != 0,
			SystemID:       systemID,
			RelativeSector: binary.LittleEndian.Uint32(entry[8:12]),
			TotalSectors:   binary.LittleEndian.Uint32(entry[12:16]),
		})
	}
	return partitions, nil
}
