package vmm

import (
	"sync"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// frame is one physical page's storage. Keeping real backing bytes
// (rather than just accounting for the frame as "allocated") is what
// lets fork's byte-for-byte leaf copy, and a later write diverging the
// two copies, actually be observable in tests — Property P2.
type frame [PageSize]byte

// PhysicalMemory is the simulated physical frame pool C1 allocates
// table pages and leaf pages from. It is a flat arena indexed by frame
// number; PhysAddr = frameNumber * PageSize, so every table or leaf in
// the system is reachable by address alone, with no pointer chasing.
type PhysicalMemory struct {
	mu        sync.Mutex
	frames    map[uint64]*frame
	allocated map[uint64]bool
	nextFrame uint64
	freeList  []uint64
	capacity  uint64 // max frame number, 0 = no limit
}

// NewPhysicalMemory returns a frame pool with room for capacity frames.
// capacity == 0 means the pool grows without a limit; AllocFrame does
// not check addresses against the 40-bit physical range.
func NewPhysicalMemory(capacity uint64) *PhysicalMemory {
	return &PhysicalMemory{
		frames:    make(map[uint64]*frame),
		allocated: make(map[uint64]bool),
		capacity:  capacity,
	}
}

// AllocFrame reserves one physical page, zeroes it, and returns its
// address. Frees are taken from the free list first (address reuse),
// then the pool grows.
func (p *PhysicalMemory) AllocFrame() (PhysAddr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var num uint64
	if n := len(p.freeList); n > 0 {
		num = p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
	} else {
		if p.capacity != 0 && p.nextFrame >= p.capacity {
			return 0, kerr.New(kerr.OutOfMemory, "vmm.AllocFrame")
		}
		num = p.nextFrame
		p.nextFrame++
	}
	p.frames[num] = &frame{}
	p.allocated[num] = true
	return PhysAddr(num * PageSize), nil
}

// FreeFrame releases a physical page back to the pool.
func (p *PhysicalMemory) FreeFrame(addr PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	num := uint64(addr) / PageSize
	if !p.allocated[num] {
		return
	}
	delete(p.allocated, num)
	delete(p.frames, num)
	p.freeList = append(p.freeList, num)
}

// AllocatedCount reports how many frames are currently allocated, used
// by Property P1's leak check.
func (p *PhysicalMemory) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

func (p *PhysicalMemory) get(addr PhysAddr) *frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[uint64(addr)/PageSize]
}

// ReadAt copies min(len(dst), PageSize-off) bytes from frame addr.
func (p *PhysicalMemory) ReadAt(addr PhysAddr, off int, dst []byte) {
	f := p.get(addr)
	if f == nil {
		return
	}
	copy(dst, f[off:])
}

// WriteAt copies src into frame addr starting at off.
func (p *PhysicalMemory) WriteAt(addr PhysAddr, off int, src []byte) {
	f := p.get(addr)
	if f == nil {
		return
	}
	copy(f[off:], src)
}

// CopyFrame duplicates the full contents of src into a freshly
// allocated frame and returns its address, used by fork's byte-for-byte
// leaf copy.
func (p *PhysicalMemory) CopyFrame(src PhysAddr) (PhysAddr, error) {
	dst, err := p.AllocFrame()
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	srcFrame := p.frames[uint64(src)/PageSize]
	dstFrame := p.frames[uint64(dst)/PageSize]
	if srcFrame != nil && dstFrame != nil {
		*dstFrame = *srcFrame
	}
	p.mu.Unlock()
	return dst, nil
}
