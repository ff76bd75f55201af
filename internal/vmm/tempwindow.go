package vmm

import (
	"sync"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// temporaryWindowSlots is the fixed size of the kernel's temporary
// mapping window's bitmap.
const temporaryWindowSlots = 512

// TemporaryWindow models the fixed virtual range the kernel uses to
// transiently map an arbitrary physical page so it can edit it. There
// is no real second address space to map into here (PhysicalMemory is
// directly addressable), so the window exists purely to enforce and
// test the invariant: allocation is first-fit over a bounded bitmap,
// and every lease must be released before the caller that acquired it
// returns.
type TemporaryWindow struct {
	mu   sync.Mutex
	used [temporaryWindowSlots]bool
	bound [temporaryWindowSlots]PhysAddr
}

// NewTemporaryWindow returns an empty window.
func NewTemporaryWindow() *TemporaryWindow {
	return &TemporaryWindow{}
}

// Lease is a held slot in the window; it must be released exactly once.
type Lease struct {
	w    *TemporaryWindow
	slot int
}

// Acquire binds phys to the first free slot, first-fit.
func (w *TemporaryWindow) Acquire(phys PhysAddr) (*Lease, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < temporaryWindowSlots; i++ {
		if !w.used[i] {
			w.used[i] = true
			w.bound[i] = phys
			return &Lease{w: w, slot: i}, nil
		}
	}
	return nil, kerr.New(kerr.OutOfMemory, "vmm.TemporaryWindow.Acquire")
}

// Addr returns the physical page this lease is currently bound to.
func (l *Lease) Addr() PhysAddr {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	return l.w.bound[l.slot]
}

// Release frees the slot. Releasing twice is a no-op.
func (l *Lease) Release() {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	l.w.used[l.slot] = false
}

// InUse reports how many slots are currently leased, for tests.
func (w *TemporaryWindow) InUse() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, u := range w.used {
		if u {
			n++
		}
	}
	return n
}
