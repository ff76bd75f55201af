package ext

import (
	"github.com/lpae-kernel/kernel/internal/blockcache"
	"github.com/lpae-kernel/kernel/internal/kerr"
)

// FS is one mounted ext2/3 filesystem: its superblock, block-group
// descriptor table, and the shared block cache it reads through.
type FS struct {
	sb     *Superblock
	groups []GroupDescriptor
	cache  *blockcache.Cache
}

// Mount reads the superblock and block-group descriptor table from dev
// and returns a ready-to-use filesystem handle.
func Mount(dev blockcache.Device) (*FS, error) {
	// The superblock is read through a throwaway cache over 1024-byte
	// blocks before the filesystem's real block size is known.
	probe := blockcache.New(dev, superblockSize, 0)
	b, err := probe.Get(superblockOffset/superblockSize, true)
	if err != nil {
		return nil, err
	}
	sb, err := ParseSuperblock(b.Data)
	if err != nil {
		return nil, err
	}
	probe.Put(b, false)

	fs := &FS{sb: sb, cache: blockcache.New(dev, sb.BlockSize(), 0)}

	gdBlock := groupDescriptorBlock(sb)
	gdSize := sb.GroupCount() * groupDescriptorSize
	blocksNeeded := (gdSize + sb.BlockSize() - 1) / sb.BlockSize()

	gdData := make([]byte, 0, blocksNeeded*sb.BlockSize())
	for i := uint32(0); i < blocksNeeded; i++ {
		b, err := fs.cache.Get(gdBlock+i, true)
		if err != nil {
			return nil, err
		}
		gdData = append(gdData, b.Data...)
		fs.cache.Put(b, false)
	}
	groups, err := ParseGroupDescriptors(gdData, sb.GroupCount())
	if err != nil {
		return nil, err
	}
	fs.groups = groups
	return fs, nil
}

// Superblock exposes the mounted filesystem's superblock, read-only.
func (fs *FS) Superblock() *Superblock { return fs.sb }

// Sync flushes every dirty cached block to the device.
func (fs *FS) Sync() error { return fs.cache.Sync() }

// Stat looks up path (a '/'-separated absolute path from the
// filesystem root) and returns its inode.
func (fs *FS) Stat(path string) (*Inode, error) {
	num, err := fs.lookupPath(path)
	if err != nil {
		return nil, err
	}
	return fs.readInode(num)
}

// Open looks up path and returns its full contents if it names a
// regular file.
func (fs *FS) Open(path string) ([]byte, error) {
	in, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if in.IsDir() {
		return nil, kerr.WithPath(kerr.IsDirectory, "ext.Open", path, nil)
	}
	return fs.ReadFile(in)
}

// ReadDir looks up path and lists the directory it names, the getdents
// counterpart to Open/Stat.
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	num, err := fs.lookupPath(path)
	if err != nil {
		return nil, err
	}
	in, err := fs.readInode(num)
	if err != nil {
		return nil, err
	}
	return fs.listDirectory(in)
}
