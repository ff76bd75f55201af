package kheap

// earlyState serves a fixed static arena and never grows or shrinks —
// used before C1/the page allocator is available during boot.
type earlyState struct{}

func (earlyState) extend(h *Heap) error { return ErrOutOfMemory }
func (earlyState) shrink(h *Heap)       {}

// normalState grows the mapped region in unit-sized steps, up to
// maxSize, and shrinks back toward minSize once the rightmost free
// block gives back more than one unit.
type normalState struct {
	ext              Extender
	minSize, maxSize uint32
	unit             uint32
}

func (n normalState) extend(h *Heap) error {
	if h.regionSize+n.unit > n.maxSize {
		return ErrOutOfMemory
	}
	newSpanAddr := h.regionStart + h.regionSize
	if err := n.ext.MapRegion(newSpanAddr, n.unit); err != nil {
		return err
	}
	h.regionSize += n.unit

	// The new span either extends the existing rightmost free block or
	// becomes its own free block.
	if existing, ok := h.freeByAddr[newSpanAddr]; ok {
		h.removeFree(newSpanAddr)
		h.insertFree(Block{Addr: existing.Addr, Size: existing.Size + n.unit})
	} else {
		h.insertFree(Block{Addr: newSpanAddr, Size: n.unit})
	}
	return nil
}

func (n normalState) shrink(h *Heap) {
	regionEnd := h.regionStart + h.regionSize
	minEnd := h.regionStart + n.minSize

	// Find the free block that ends exactly at the current region end,
	// if any — only the rightmost free block can be trimmed.
	var rightmost Block
	found := false
	for _, b := range h.freeByAddr {
		if b.End() == regionEnd {
			rightmost = b
			found = true
			break
		}
	}
	if !found || rightmost.End() <= minEnd {
		return
	}

	trimmable := rightmost.End() - maxU32(rightmost.Addr, minEnd)
	units := trimmable / n.unit
	if units == 0 {
		return
	}
	trimSize := units * n.unit
	trimStart := regionEnd - trimSize

	if err := n.ext.UnmapRegion(trimStart, trimSize); err != nil {
		return
	}

	h.removeFree(rightmost.Addr)
	remaining := trimStart - rightmost.Addr
	if remaining > 0 {
		h.insertFree(Block{Addr: rightmost.Addr, Size: remaining})
	}
	h.regionSize -= trimSize
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
