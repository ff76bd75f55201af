// Package vmm implements the LPAE virtual memory core (component C1):
// a three-level ARMv7 LPAE-style page table walk (global directory →
// middle directory → page table → 4 KiB leaf), the kernel's temporary
// mapping window, and context create/map/unmap/fork/destroy.
//
// There is no real MMU underneath this process, so "physical memory" is
// a simulated frame pool (phys.go) and every page table is a plain Go
// struct kept in an arena indexed by its simulated physical address —
// the arena+index rendition of the intrusive, pointer-linked tables the
// design notes ask for in place of the original's container_of idiom.
package vmm

import "fmt"

// MemType is the mapping's memory type, corresponding to one of the
// four MAIR0 indices the LPAE descriptor's AttrIndx field selects.
type MemType int

const (
	MemStronglyOrdered MemType = iota // MAIR index 0
	MemDevice                         // MAIR index 1
	MemNormalNonCacheable              // MAIR index 2
	MemNormal                          // MAIR index 3
)

func (m MemType) String() string {
	switch m {
	case MemStronglyOrdered:
		return "strongly-ordered"
	case MemDevice:
		return "device"
	case MemNormalNonCacheable:
		return "normal-noncacheable"
	case MemNormal:
		return "normal"
	default:
		return fmt.Sprintf("MemType(%d)", int(m))
	}
}

// Perm is a mapping's permission descriptor.
type Perm struct {
	Read    bool
	Write   bool
	Execute bool
}

// CtxType distinguishes a kernel context (shared tables) from a user
// context (owns its own tables).
type CtxType int

const (
	CtxKernel CtxType = iota
	CtxUser
)

func (t CtxType) String() string {
	if t == CtxKernel {
		return "kernel"
	}
	return "user"
}

// PhysAddr is a simulated physical address. It is always page-aligned
// and, per the data model, representable in 40 bits.
type PhysAddr uint64

// VirtAddr is a virtual address within a context.
type VirtAddr uint64

const (
	PageShift = 12
	PageSize  = 1 << PageShift // 4 KiB
	PTECount  = 512            // entries per table level

	maxPhysBits = 40
	maxPhysAddr = PhysAddr(1)<<maxPhysBits - 1
)

// Level identifies one of the three LPAE table levels.
type Level int

const (
	LevelGlobalDirectory Level = iota // top level
	LevelMiddleDirectory
	LevelPageTable
	levelCount
)

func (l Level) shift() uint {
	switch l {
	case LevelGlobalDirectory:
		return 30 // one GD entry covers 1GiB in this 3-level rendition
	case LevelMiddleDirectory:
		return 21 // one MD entry covers 2MiB
	case LevelPageTable:
		return 12 // one PT entry covers 4KiB
	default:
		panic("vmm: invalid level")
	}
}

func indexAt(v VirtAddr, l Level) int {
	return int((uint64(v) >> l.shift()) & (PTECount - 1))
}
