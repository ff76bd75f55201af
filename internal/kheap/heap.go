package kheap

import "sync"

// Extender backs the normal state's growth/shrink: it maps or unmaps a
// virtual span through C1 when the heap needs to grow past its current
// mapped region or can give memory back. The early state has no
// Extender — it never grows.
type Extender interface {
	MapRegion(addr, size uint32) error
	UnmapRegion(addr, size uint32) error
}

// Heap is the block allocator. Its state — early (fixed static arena)
// or normal (grows through an Extender) — is a sum type (state field)
// per the design notes, rather than a boolean flag threaded through
// every method.
type Heap struct {
	mu sync.Mutex

	state state

	regionStart uint32
	regionSize  uint32 // currently mapped extent

	freeByAddr map[uint32]Block
	usedByAddr map[uint32]Block
	freeSize   *sizeIndex
}

type state interface {
	// extend grows the heap by one unit; early state always fails.
	extend(h *Heap) error
	// shrink gives back whole units past the minimum, if eligible.
	shrink(h *Heap)
}

func newHeap(start, size uint32, st state) *Heap {
	h := &Heap{
		state:       st,
		regionStart: start,
		regionSize:  size,
		freeByAddr:  make(map[uint32]Block),
		usedByAddr:  make(map[uint32]Block),
		freeSize:    newSizeIndex(),
	}
	h.insertFree(Block{Addr: start, Size: size})
	return h
}

// NewEarly returns a heap serving allocations from a fixed static arena
// of the given size starting at start. It never grows: Allocate returns
// ErrOutOfMemory once the arena is exhausted.
func NewEarly(start, size uint32) *Heap {
	return newHeap(start, size, earlyState{})
}

// NewNormal returns a heap backed by ext, beginning with minSize bytes
// mapped and able to grow in unit-sized steps up to maxSize.
func NewNormal(ext Extender, start, minSize, maxSize, unit uint32) (*Heap, error) {
	if err := ext.MapRegion(start, minSize); err != nil {
		return nil, err
	}
	return newHeap(start, minSize, normalState{ext: ext, minSize: minSize, maxSize: maxSize, unit: unit}), nil
}

func (h *Heap) insertFree(b Block) {
	h.freeByAddr[b.Addr] = b
	h.freeSize.insert(b)
}

func (h *Heap) removeFree(addr uint32) {
	delete(h.freeByAddr, addr)
	h.freeSize.remove(addr)
}

// Allocate reserves size bytes aligned to alignment (a power of two)
// and returns the payload address.
func (h *Heap) Allocate(size, alignment uint32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if alignment == 0 {
		alignment = 1
	}
	total := size

	for {
		if b, ok := h.tryAllocate(total, alignment); ok {
			return b, nil
		}
		if err := h.state.extend(h); err != nil {
			return 0, err
		}
	}
}

// tryAllocate attempts one allocation pass without growing the heap.
func (h *Heap) tryAllocate(size, alignment uint32) (uint32, bool) {
	if exact, ok := h.freeSize.exact(size); ok && exact.Addr%alignment == 0 {
		h.commit(exact, exact.Addr, size)
		return exact.Addr, true
	}

	best, ok := h.freeSize.largest()
	if !ok || best.Size < size {
		return 0, false
	}

	allocAddr := best.Addr
	if rem := allocAddr % alignment; rem != 0 {
		offset := alignment - rem
		for offset < HeaderSize+1 {
			offset += alignment
		}
		allocAddr = best.Addr + offset
	}
	if allocAddr+size > best.End() {
		return 0, false
	}
	h.commit(best, allocAddr, size)
	return allocAddr, true
}

// commit removes free from the free indexes, splits off a preceding
// remnant (if the alignment offset left one) and a following remnant
// (if at least HeaderSize+1 bytes remain; a shorter tail stays part of
// the used block), and records the used block.
func (h *Heap) commit(free Block, allocAddr, size uint32) {
	h.removeFree(free.Addr)

	if pre := allocAddr - free.Addr; pre >= HeaderSize+1 {
		h.insertFree(Block{Addr: free.Addr, Size: pre})
	}
	end := allocAddr + size
	if post := free.End() - end; post >= HeaderSize+1 {
		h.insertFree(Block{Addr: end, Size: post})
	} else {
		size += post
	}
	h.usedByAddr[allocAddr] = Block{Addr: allocAddr, Size: size}
}

// Free releases a previously allocated block, merges it with adjacent
// free neighbours, and gives memory back to the Extender when eligible.
func (h *Heap) Free(addr uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.usedByAddr[addr]
	if !ok {
		return ErrDoubleFree
	}
	delete(h.usedByAddr, addr)
	h.insertFree(b)
	h.mergeNeighbours(b.Addr)
	h.state.shrink(h)
	return nil
}

// mergeNeighbours repeatedly merges the free block at addr with its
// immediate left and right free neighbours in address order, until no
// further merge is possible.
func (h *Heap) mergeNeighbours(addr uint32) {
	for {
		cur, ok := h.freeByAddr[addr]
		if !ok {
			return
		}
		merged := false

		for other := range h.freeByAddr {
			if other == addr {
				continue
			}
			o := h.freeByAddr[other]
			if o.End() == cur.Addr {
				h.removeFree(other)
				h.removeFree(cur.Addr)
				cur = Block{Addr: o.Addr, Size: o.Size + cur.Size}
				h.insertFree(cur)
				addr = cur.Addr
				merged = true
				break
			}
			if cur.End() == o.Addr {
				h.removeFree(other)
				h.removeFree(cur.Addr)
				cur = Block{Addr: cur.Addr, Size: cur.Size + o.Size}
				h.insertFree(cur)
				addr = cur.Addr
				merged = true
				break
			}
		}
		if !merged {
			return
		}
	}
}

// Stats reports the live extent, for Property P3 checks.
type Stats struct {
	RegionStart uint32
	RegionSize  uint32
	Free        []Block
	Used        []Block
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{RegionStart: h.regionStart, RegionSize: h.regionSize}
	s.Free = h.freeSize.all()
	for _, b := range h.usedByAddr {
		s.Used = append(s.Used, b)
	}
	return s
}

// MappedSize reports the heap's currently mapped extent, for Property P4.
func (h *Heap) MappedSize() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.regionSize
}
