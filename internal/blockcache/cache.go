// Package blockcache is the cache abstraction shared by every
// filesystem plug-in (component C5): a handle keyed by block number
// that the ext and FAT readers allocate blocks from, mark dirty, and
// flush back to the underlying device on sync.
package blockcache

import (
	"sort"
	"sync"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// Device is the narrow interface a filesystem plug-in's backing storage
// must satisfy — a partition or raw disk image addressed by sector.
type Device interface {
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
	SectorSize() uint32
}

// Block is one cached block: blockSize bytes of data keyed by a
// filesystem-level block number (which need not equal a device sector
// number — see addressing below).
type Block struct {
	Number uint32
	Data   []byte
	dirty  bool

	cache *Cache
}

// Dirty marks the block as having been modified in memory; Sync and
// Put(true) write it back before it leaves the cache.
func (b *Block) Dirty() { b.dirty = true }

// IsDirty reports whether the block has unwritten modifications.
func (b *Block) IsDirty() bool { return b.dirty }

// Cache is a handle over one filesystem's blocks. Blocks are kept in a
// map for O(1) lookup plus a sorted index of block numbers (the
// arena+index rendition of the original's block-number-ordered linked
// list), which Sync walks in ascending order so writeback is
// deterministic.
type Cache struct {
	mu sync.Mutex

	dev       Device
	blockSize uint32

	// partitionOffset and partitionBlockSize translate a filesystem
	// block number into the device sector the block starts at:
	// sector = partitionOffset + blockNumber*blockSize/partitionBlockSize.
	partitionOffset    uint32
	partitionBlockSize uint32

	blocks  map[uint32]*Block
	ordered []uint32
}

// New returns a cache reading/writing blockSize-byte blocks from dev,
// starting partitionOffset sectors into the device.
func New(dev Device, blockSize, partitionOffset uint32) *Cache {
	return &Cache{
		dev:                dev,
		blockSize:          blockSize,
		partitionOffset:    partitionOffset,
		partitionBlockSize: dev.SectorSize(),
		blocks:             make(map[uint32]*Block),
	}
}

func (c *Cache) sectorFor(blockNumber uint32) uint32 {
	return c.partitionOffset + blockNumber*c.blockSize/c.partitionBlockSize
}

func (c *Cache) insertOrdered(number uint32) {
	i := sort.Search(len(c.ordered), func(i int) bool { return c.ordered[i] >= number })
	c.ordered = append(c.ordered, 0)
	copy(c.ordered[i+1:], c.ordered[i:])
	c.ordered[i] = number
}

func (c *Cache) removeOrdered(number uint32) {
	i := sort.Search(len(c.ordered), func(i int) bool { return c.ordered[i] >= number })
	if i < len(c.ordered) && c.ordered[i] == number {
		c.ordered = append(c.ordered[:i], c.ordered[i+1:]...)
	}
}

// Get returns the block, allocating and (if read is true) populating it
// from the device on first access. Repeated Get calls for the same
// block number return the same cached block.
func (c *Cache) Get(blockNumber uint32, read bool) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.blocks[blockNumber]; ok {
		return b, nil
	}

	b := &Block{Number: blockNumber, Data: make([]byte, c.blockSize), cache: c}
	if read {
		sectorsPerBlock := c.blockSize / c.partitionBlockSize
		if sectorsPerBlock == 0 {
			sectorsPerBlock = 1
		}
		sector := c.sectorFor(blockNumber)
		for i := uint32(0); i < sectorsPerBlock; i++ {
			chunk := b.Data[i*c.partitionBlockSize : (i+1)*c.partitionBlockSize]
			if err := c.dev.ReadSector(sector+i, chunk); err != nil {
				return nil, kerr.Wrap(kerr.IoError, "blockcache.Get", err)
			}
		}
	}
	c.blocks[blockNumber] = b
	c.insertOrdered(blockNumber)
	return b, nil
}

// writeBack flushes one block to the device, regardless of its dirty
// flag, and clears the flag on success.
func (c *Cache) writeBack(b *Block) error {
	sectorsPerBlock := c.blockSize / c.partitionBlockSize
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	sector := c.sectorFor(b.Number)
	for i := uint32(0); i < sectorsPerBlock; i++ {
		chunk := b.Data[i*c.partitionBlockSize : (i+1)*c.partitionBlockSize]
		if err := c.dev.WriteSector(sector+i, chunk); err != nil {
			return kerr.Wrap(kerr.IoError, "blockcache.writeBack", err)
		}
	}
	b.dirty = false
	return nil
}

// Put releases the cache's reference to a block. When writeBack is true
// and the block is dirty, it is flushed to the device first.
func (c *Cache) Put(b *Block, writeBack bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if writeBack && b.dirty {
		if err := c.writeBack(b); err != nil {
			return err
		}
	}
	delete(c.blocks, b.Number)
	c.removeOrdered(b.Number)
	return nil
}

// Sync flushes every dirty block to the device, in ascending block
// number order, without evicting any of them from the cache.
func (c *Cache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, num := range c.ordered {
		b := c.blocks[num]
		if b.dirty {
			if err := c.writeBack(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len reports how many blocks are currently resident, for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}
