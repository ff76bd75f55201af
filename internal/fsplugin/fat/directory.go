package fat

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

const (
	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLFN      = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	dirEntrySize = 32

	lfnLastEntryMask = 0x40
	entryFree        = 0xE5
	entryEnd         = 0x00
)

// Entry is one decoded directory entry: a short 8.3 name, or the
// reassembled long name when LFN entries preceded it.
type Entry struct {
	Name         string
	IsDir        bool
	Size         uint32
	FirstCluster uint32
}

// lfnAccumulator collects long-name fragments as they're encountered,
// most-significant-order-number first, so they can be reassembled once
// the terminating short entry is reached. LFN entries for one name can
// straddle a directory-block boundary, so the accumulator is threaded
// across calls to decodeDirBlock rather than reset per block.
type lfnAccumulator struct {
	parts    map[uint8]string
	checksum byte
	active   bool
}

func (a *lfnAccumulator) reset() {
	a.parts = nil
	a.active = false
}

func (a *lfnAccumulator) add(order uint8, checksum byte, text string) {
	if !a.active || checksum != a.checksum {
		a.parts = map[uint8]string{}
		a.checksum = checksum
		a.active = true
	}
	a.parts[order&0x1F] = text
}

func (a *lfnAccumulator) assemble() string {
	var b strings.Builder
	for i := 1; i <= len(a.parts); i++ {
		b.WriteString(a.parts[uint8(i)])
	}
	return b.String()
}

func decodeLFNText(data []byte) string {
	var units []uint16
	collect := func(off, n int) {
		for i := 0; i < n; i++ {
			u := binary.LittleEndian.Uint16(data[off+i*2:])
			if u == 0 || u == 0xFFFF {
				return
			}
			units = append(units, u)
		}
	}
	collect(1, 5)
	collect(14, 6)
	collect(28, 2)
	return string(utf16.Decode(units))
}

func shortChecksum(nameField [11]byte) byte {
	var sum byte
	for _, c := range nameField {
		sum = (sum>>1 | sum<<7) + c
	}
	return sum
}

func decodeShortName(name, ext [8]byte, extLen int) string {
	n := strings.TrimRight(string(name[:]), " ")
	e := strings.TrimRight(string(ext[:extLen]), " ")
	if e == "" {
		return n
	}
	return n + "." + e
}

// decodeDirBlock scans one cluster's worth of 32-byte directory entries,
// threading LFN accumulation state in acc across calls since a long
// name's entries may span the boundary between two clusters/blocks.
func decodeDirBlock(data []byte, acc *lfnAccumulator, entries *[]Entry) (stop bool) {
	le := binary.LittleEndian
	for pos := 0; pos+dirEntrySize <= len(data); pos += dirEntrySize {
		e := data[pos : pos+dirEntrySize]
		first := e[0]
		if first == entryEnd {
			return true
		}
		if first == entryFree {
			acc.reset()
			continue
		}
		attr := e[11]
		if attr&attrLFN == attrLFN {
			order := e[0]
			checksum := e[13]
			text := decodeLFNText(e)
			if order&lfnLastEntryMask != 0 {
				acc.reset()
				acc.active = true
				acc.checksum = checksum
				acc.parts = map[uint8]string{}
			}
			acc.add(order, checksum, text)
			continue
		}

		var nameField, extField [8]byte
		var ext3 [3]byte
		copy(nameField[:], e[0:8])
		copy(ext3[:], e[8:11])
		copy(extField[:], ext3[:])

		name := ""
		if acc.active {
			var combined [11]byte
			copy(combined[:8], nameField[:])
			copy(combined[8:], ext3[:])
			if shortChecksum(combined) == acc.checksum {
				name = acc.assemble()
			}
		}
		acc.reset()
		if name == "" {
			name = decodeShortName(nameField, extField, 3)
		}

		if attr&attrVolumeID != 0 {
			continue
		}
		if name == "." || name == ".." {
			continue
		}

		firstClusterHi := uint32(le.Uint16(e[20:22]))
		firstClusterLo := uint32(le.Uint16(e[26:28]))
		size := le.Uint32(e[28:32])

		*entries = append(*entries, Entry{
			Name:         name,
			IsDir:        attr&attrDir != 0,
			Size:         size,
			FirstCluster: firstClusterHi<<16 | firstClusterLo,
		})
	}
	return false
}

// ReadRootDirectory returns the entries of the volume's root directory.
// On FAT12/16 this is the fixed-size region preceding the data area; on
// FAT32 it is an ordinary cluster chain rooted at RootClusterFAT32.
func (fs *FS) ReadRootDirectory() ([]Entry, error) {
	if fs.typ == Type32 {
		return fs.readDirChain(fs.bpb.RootClusterFAT32)
	}

	sector := uint32(fs.bpb.ReservedSectorCount) + uint32(fs.bpb.FATCount)*fs.bpb.SectorsPerFAT()
	sectors := fs.bpb.RootDirSectors()

	var entries []Entry
	acc := &lfnAccumulator{}
	for i := uint32(0); i < sectors; i++ {
		b, err := fs.cache.Get(sector+i, true)
		if err != nil {
			return nil, err
		}
		done := decodeDirBlock(b.Data, acc, &entries)
		fs.cache.Put(b, false)
		if done {
			break
		}
	}
	return entries, nil
}

// readDirChain decodes a cluster-chain directory (any FAT32 directory,
// or any FAT12/16 subdirectory).
func (fs *FS) readDirChain(startCluster uint32) ([]Entry, error) {
	chain, err := fs.ClusterChain(startCluster)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	acc := &lfnAccumulator{}
	for _, cluster := range chain {
		data, err := fs.ReadCluster(cluster)
		if err != nil {
			return nil, err
		}
		if decodeDirBlock(data, acc, &entries) {
			break
		}
	}
	return entries, nil
}

// lookupPath resolves a '/'-separated absolute path to its directory
// entry, matching names case-sensitively against decoded (short or
// long) names.
func (fs *FS) lookupPath(path string) (*Entry, error) {
	path = strings.Trim(path, "/")
	entries, err := fs.ReadRootDirectory()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &Entry{Name: "/", IsDir: true, FirstCluster: fs.bpb.RootClusterFAT32}, nil
	}

	parts := strings.Split(path, "/")
	var cur *Entry
	for i, part := range parts {
		found := false
		for j := range entries {
			if entries[j].Name == part {
				cur = &entries[j]
				found = true
				break
			}
		}
		if !found {
			return nil, kerr.WithPath(kerr.NotFound, "fat.lookupPath", path, nil)
		}
		if i < len(parts)-1 {
			if !cur.IsDir {
				return nil, kerr.WithPath(kerr.NotDirectory, "fat.lookupPath", path, nil)
			}
			entries, err = fs.readDirChain(cur.FirstCluster)
			if err != nil {
				return nil, err
			}
		}
	}
	return cur, nil
}

// Stat resolves path to its directory entry.
func (fs *FS) Stat(path string) (*Entry, error) {
	return fs.lookupPath(path)
}

// Open resolves path and returns the full contents of the regular file
// it names.
func (fs *FS) Open(path string) ([]byte, error) {
	e, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if e.IsDir {
		return nil, kerr.WithPath(kerr.IsDirectory, "fat.Open", path, nil)
	}
	data, err := fs.ReadChain(e.FirstCluster)
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) > e.Size {
		data = data[:e.Size]
	}
	return data, nil
}

// ReadDir lists the entries of the directory named by path, the
// getdents counterpart to Open/Stat.
func (fs *FS) ReadDir(path string) ([]Entry, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return fs.ReadRootDirectory()
	}
	e, err := fs.lookupPath(path)
	if err != nil {
		return nil, err
	}
	if !e.IsDir {
		return nil, kerr.WithPath(kerr.NotDirectory, "fat.ReadDir", path, nil)
	}
	return fs.readDirChain(e.FirstCluster)
}
