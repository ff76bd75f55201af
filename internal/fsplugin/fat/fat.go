package fat

import (
	"encoding/binary"

	"github.com/lpae-kernel/kernel/internal/blockcache"
	"github.com/lpae-kernel/kernel/internal/kerr"
)

const (
	fat12EOCMin = 0xFF8
	fat16EOCMin = 0xFFF8
	fat32EOCMin = 0x0FFFFFF8
	fat32Mask   = 0x0FFFFFFF
)

// FS is one mounted FAT12/16/32 volume.
type FS struct {
	bpb   *BPB
	typ   Type
	cache *blockcache.Cache
}

// Mount reads the boot sector from dev and returns a ready-to-use
// volume handle. The shared block cache is sized to one sector per
// block; cluster-sized reads compose SectorsPerCluster cache blocks.
func Mount(dev blockcache.Device) (*FS, error) {
	c := blockcache.New(dev, uint32(dev.SectorSize()), 0)
	b, err := c.Get(0, true)
	if err != nil {
		return nil, err
	}
	bpb, err := ParseBPB(b.Data)
	c.Put(b, false)
	if err != nil {
		return nil, err
	}
	return &FS{bpb: bpb, typ: bpb.FATType(), cache: c}, nil
}

// Type reports which FAT width this volume uses.
func (fs *FS) Type() Type { return fs.typ }

// BPB exposes the mounted volume's boot parameter block, read-only.
func (fs *FS) BPB() *BPB { return fs.bpb }

// fatEntry reads the raw next-cluster value at the given cluster index
// from the first FAT table copy.
func (fs *FS) fatEntry(cluster uint32) (uint32, error) {
	switch fs.typ {
	case Type12:
		return fs.fatEntry12(cluster)
	case Type16:
		return fs.fatEntryFixed(cluster, 2)
	default:
		v, err := fs.fatEntryFixed(cluster, 4)
		return v & fat32Mask, err
	}
}

func (fs *FS) fatSectorFor(byteOffset uint32) (sector uint32, offsetInSector uint32) {
	sector = uint32(fs.bpb.ReservedSectorCount) + byteOffset/uint32(fs.bpb.BytesPerSector)
	offsetInSector = byteOffset % uint32(fs.bpb.BytesPerSector)
	return
}

func (fs *FS) fatEntryFixed(cluster, width uint32) (uint32, error) {
	byteOffset := cluster * width
	sector, off := fs.fatSectorFor(byteOffset)
	b, err := fs.cache.Get(sector, true)
	if err != nil {
		return 0, err
	}
	defer fs.cache.Put(b, false)
	if int(off)+int(width) > len(b.Data) {
		// Straddles a sector boundary: read the second sector too.
		next, err := fs.cache.Get(sector+1, true)
		if err != nil {
			return 0, err
		}
		defer fs.cache.Put(next, false)
		buf := append(append([]byte{}, b.Data[off:]...), next.Data...)
		if width == 2 {
			return uint32(binary.LittleEndian.Uint16(buf[:2])), nil
		}
		return binary.LittleEndian.Uint32(buf[:4]), nil
	}
	if width == 2 {
		return uint32(binary.LittleEndian.Uint16(b.Data[off : off+2])), nil
	}
	return binary.LittleEndian.Uint32(b.Data[off : off+4]), nil
}

// fatEntry12 decodes a 12-bit packed entry, which always straddles byte
// boundaries and sometimes sector boundaries.
func (fs *FS) fatEntry12(cluster uint32) (uint32, error) {
	byteOffset := cluster + cluster/2
	sector, off := fs.fatSectorFor(byteOffset)
	b, err := fs.cache.Get(sector, true)
	if err != nil {
		return 0, err
	}
	defer fs.cache.Put(b, false)

	var lo, hi byte
	if int(off)+1 < len(b.Data) {
		lo, hi = b.Data[off], b.Data[off+1]
	} else {
		next, err := fs.cache.Get(sector+1, true)
		if err != nil {
			return 0, err
		}
		defer fs.cache.Put(next, false)
		lo, hi = b.Data[off], next.Data[0]
	}
	v := uint32(lo) | uint32(hi)<<8
	if cluster%2 == 0 {
		return v & 0x0FFF, nil
	}
	return v >> 4, nil
}

func (fs *FS) isEOC(entry uint32) bool {
	switch fs.typ {
	case Type12:
		return entry >= fat12EOCMin
	case Type16:
		return entry >= fat16EOCMin
	default:
		return entry >= fat32EOCMin
	}
}

// ClusterChain returns every cluster number in the chain starting at
// start, in order, stopping at the end-of-chain marker.
func (fs *FS) ClusterChain(start uint32) ([]uint32, error) {
	var chain []uint32
	cluster := start
	seen := map[uint32]bool{}
	for cluster != 0 && !fs.isEOC(cluster) {
		if seen[cluster] {
			return nil, kerr.New(kerr.Malformed, "fat.ClusterChain: cycle detected")
		}
		seen[cluster] = true
		chain = append(chain, cluster)
		next, err := fs.fatEntry(cluster)
		if err != nil {
			return nil, err
		}
		cluster = next
	}
	return chain, nil
}

// ReadCluster returns the raw bytes of one cluster (SectorsPerCluster
// sectors, concatenated).
func (fs *FS) ReadCluster(cluster uint32) ([]byte, error) {
	startSector := fs.bpb.ClusterToSector(cluster)
	out := make([]byte, 0, uint32(fs.bpb.SectorsPerCluster)*uint32(fs.bpb.BytesPerSector))
	for i := uint32(0); i < uint32(fs.bpb.SectorsPerCluster); i++ {
		b, err := fs.cache.Get(startSector+i, true)
		if err != nil {
			return nil, err
		}
		out = append(out, b.Data...)
		fs.cache.Put(b, false)
	}
	return out, nil
}

// ReadChain concatenates every cluster in a chain starting at start.
func (fs *FS) ReadChain(start uint32) ([]byte, error) {
	chain, err := fs.ClusterChain(start)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, c := range chain {
		data, err := fs.ReadCluster(c)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// Sync flushes every dirty cached sector to the device.
func (fs *FS) Sync() error { return fs.cache.Sync() }
