package ext

import (
	"encoding/binary"
	"strings"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// DirEntry is one decoded directory entry.
type DirEntry struct {
	Inode uint32
	Name  string
}

// listDirectory decodes every entry across a directory inode's blocks.
// A rec_len of 0 or a block fully consumed ends that block's entries;
// ext2 packs entries back-to-back within a block with no cross-block
// continuation, unlike FAT's long-name scheme.
func (fs *FS) listDirectory(in *Inode) ([]DirEntry, error) {
	if !in.IsDir() {
		return nil, kerr.New(kerr.NotDirectory, "ext.listDirectory")
	}
	var entries []DirEntry
	blockSize := uint64(fs.sb.BlockSize())
	size := in.Size()

	for off := uint64(0); off < size; off += blockSize {
		logical := uint32(off / blockSize)
		phys, err := fs.resolveLogicalBlock(in, logical)
		if err != nil {
			return nil, err
		}
		if phys == 0 {
			continue
		}
		b, err := fs.cache.Get(phys, true)
		if err != nil {
			return nil, err
		}
		decodeDirBlock(b.Data, &entries)
		fs.cache.Put(b, false)
	}
	return entries, nil
}

func decodeDirBlock(data []byte, entries *[]DirEntry) {
	le := binary.LittleEndian
	pos := 0
	for pos+8 <= len(data) {
		inodeNum := le.Uint32(data[pos : pos+4])
		recLen := le.Uint16(data[pos+4 : pos+6])
		nameLen := data[pos+6]
		if recLen == 0 {
			break
		}
		if inodeNum != 0 && int(pos)+8+int(nameLen) <= len(data) {
			name := string(data[pos+8 : pos+8+int(nameLen)])
			if name != "." && name != ".." {
				*entries = append(*entries, DirEntry{Inode: inodeNum, Name: name})
			}
		}
		pos += int(recLen)
	}
}

// lookupPath resolves a '/'-separated absolute path to an inode number,
// starting from the filesystem root.
func (fs *FS) lookupPath(path string) (uint32, error) {
	cur := uint32(rootInode)
	path = strings.Trim(path, "/")
	if path == "" {
		return cur, nil
	}
	for _, part := range strings.Split(path, "/") {
		in, err := fs.readInode(cur)
		if err != nil {
			return 0, err
		}
		entries, err := fs.listDirectory(in)
		if err != nil {
			return 0, err
		}
		found := false
		for _, e := range entries {
			if e.Name == part {
				cur = e.Inode
				found = true
				break
			}
		}
		if !found {
			return 0, kerr.WithPath(kerr.NotFound, "ext.lookupPath", path, nil)
		}
	}
	return cur, nil
}
