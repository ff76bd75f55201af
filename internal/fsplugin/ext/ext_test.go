package ext

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lpae-kernel/kernel/internal/blockcache"
)

const testBlockSize = 1024

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

func writeDirEntry(block []byte, pos int, inode uint32, name string) int {
	recLen := 8 + len(name)
	if pad := recLen % 4; pad != 0 {
		recLen += 4 - pad
	}
	putU32(block, pos, inode)
	putU16(block, pos+4, uint16(recLen))
	block[pos+6] = byte(len(name))
	block[pos+7] = 0
	copy(block[pos+8:], name)
	return pos + recLen
}

// buildTestImage assembles a tiny single-group ext2 filesystem with a
// root directory containing one regular file, "hello.txt".
func buildTestImage(t *testing.T, content string) *blockcache.MemDevice {
	t.Helper()
	const (
		inodesPerGroup = 32
		inodeSize      = 128
		blocksCount    = 64
		fileInode      = 11
		rootDirBlock   = 9
		fileDataBlock  = 10
		inodeTableBlk  = 5
	)

	dev := blockcache.NewMemDevice(testBlockSize, blocksCount)
	raw := dev.Raw()

	// Superblock at byte 1024.
	sb := raw[1024 : 1024+1024]
	putU32(sb, 0, inodesPerGroup)    // s_inodes_count
	putU32(sb, 4, blocksCount)       // s_blocks_count
	putU32(sb, 20, 1)                // s_first_data_block
	putU32(sb, 24, 0)                // s_log_block_size (1024 << 0)
	putU32(sb, 32, blocksCount)      // s_blocks_per_group
	putU32(sb, 40, inodesPerGroup)   // s_inodes_per_group
	putU16(sb, 56, extSuperMagic)    // s_magic
	putU32(sb, 76, 1)                // s_rev_level
	putU16(sb, 88, inodeSize)        // s_inode_size

	// Group descriptor table at block 2.
	gd := raw[2*testBlockSize : 2*testBlockSize+groupDescriptorSize]
	putU32(gd, 8, inodeTableBlk) // bg_inode_table

	// Inode table starts at block 5: inode 2 (root) is index 1, inode
	// 11 (file) is index 10.
	inodeTable := raw[inodeTableBlk*testBlockSize:]
	rootOff := 1 * inodeSize
	putU16(inodeTable, rootOff+0, 0x41ed) // S_IFDIR
	putU32(inodeTable, rootOff+4, testBlockSize)
	putU32(inodeTable, rootOff+40, rootDirBlock) // block[0]

	fileOff := (fileInode - 1) * inodeSize
	putU16(inodeTable, fileOff+0, 0x81a4) // S_IFREG
	putU32(inodeTable, fileOff+4, uint32(len(content)))
	putU32(inodeTable, fileOff+40, fileDataBlock)

	// Root directory block.
	dirBlock := raw[rootDirBlock*testBlockSize : rootDirBlock*testBlockSize+testBlockSize]
	pos := writeDirEntry(dirBlock, 0, rootInode, ".")
	pos = writeDirEntry(dirBlock, pos, rootInode, "..")
	writeDirEntry(dirBlock, pos, fileInode, "hello.txt")

	// File data block.
	copy(raw[fileDataBlock*testBlockSize:], content)

	return dev
}

func TestMountAndReadFile(t *testing.T) {
	dev := buildTestImage(t, "hello from ext2")
	fs, err := Mount(dev)
	require.NoError(t, err)
	require.EqualValues(t, testBlockSize, fs.Superblock().BlockSize())

	data, err := fs.Open("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, "hello from ext2", string(data))
}

func TestStatDirectory(t *testing.T) {
	dev := buildTestImage(t, "x")
	fs, err := Mount(dev)
	require.NoError(t, err)

	in, err := fs.Stat("/")
	require.NoError(t, err)
	require.True(t, in.IsDir())
}

func TestOpenMissingFileFails(t *testing.T) {
	dev := buildTestImage(t, "x")
	fs, err := Mount(dev)
	require.NoError(t, err)

	_, err = fs.Open("/nope.txt")
	require.Error(t, err)
}

func TestReadDirListsRoot(t *testing.T) {
	dev := buildTestImage(t, "hello from ext2")
	fs, err := Mount(dev)
	require.NoError(t, err)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)
}
