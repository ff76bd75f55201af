package vmm

import (
	"github.com/lpae-kernel/kernel/internal/kerr"
)

// walkStep descends one level, returning the child table's address and
// whether it already existed.
func (v *VMM) walkStep(parent PhysAddr, idx int, create bool, installed *[]PhysAddr) (PhysAddr, error) {
	t := v.arena.get(parent)
	e := t.entries[idx]
	if e.valid() {
		return e.physAddr(), nil
	}
	if !create {
		return 0, kerr.New(kerr.NotFound, "vmm.walk")
	}

	child, err := v.Phys.AllocFrame()
	if err != nil {
		return 0, kerr.Wrap(kerr.OutOfMemory, "vmm.walk", err)
	}
	// Zero the new table page through the temporary window, per the
	// design: transient physical edits are leased and released before
	// returning. AllocFrame already returns a zeroed frame; the lease
	// here exists to exercise and enforce that discipline.
	lease, err := v.window.Acquire(child)
	if err != nil {
		v.Phys.FreeFrame(child)
		return 0, err
	}
	var zero [PageSize]byte
	v.Phys.WriteAt(lease.Addr(), 0, zero[:])
	lease.Release()

	v.arena.put(child, &table{})
	t.entries[idx] = makeTableEntry(child)
	*installed = append(*installed, child)
	return child, nil
}

// resolvePageTable walks GD → MD → PT for vaddr, creating intermediate
// tables as needed when create is true. On any allocation failure it
// rolls back every intermediate table it installed during this call,
// leaving the context exactly as it was found.
func (v *VMM) resolvePageTable(ctx *Context, vaddr VirtAddr, create bool) (ptAddr PhysAddr, err error) {
	var installed []PhysAddr
	rollback := func() {
		for i := len(installed) - 1; i >= 0; i-- {
			addr := installed[i]
			v.arena.remove(addr)
			v.Phys.FreeFrame(addr)
		}
	}

	md, err := v.walkStep(ctx.Root, indexAt(vaddr, LevelGlobalDirectory), create, &installed)
	if err != nil {
		rollback()
		return 0, err
	}
	pt, err := v.walkStep(md, indexAt(vaddr, LevelMiddleDirectory), create, &installed)
	if err != nil {
		rollback()
		return 0, err
	}
	return pt, nil
}

// Map installs a leaf mapping vaddr → paddr in ctx. Mapping an
// already-mapped virtual address fails.
func (v *VMM) Map(ctx *Context, vaddr VirtAddr, paddr PhysAddr, mt MemType, perm Perm) error {
	v.mapMu.Lock()
	defer v.mapMu.Unlock()

	pt, err := v.resolvePageTable(ctx, vaddr, true)
	if err != nil {
		return err
	}
	t := v.arena.get(pt)
	idx := indexAt(vaddr, LevelPageTable)
	if t.entries[idx].valid() {
		return kerr.New(kerr.Exists, "vmm.Map")
	}
	t.entries[idx] = makeLeafEntry(paddr, ctx.Type, mt, perm)
	return nil
}

// MapRandom allocates a fresh physical page and maps it at vaddr.
func (v *VMM) MapRandom(ctx *Context, vaddr VirtAddr, mt MemType, perm Perm) (PhysAddr, error) {
	paddr, err := v.Phys.AllocFrame()
	if err != nil {
		return 0, kerr.Wrap(kerr.OutOfMemory, "vmm.MapRandom", err)
	}
	if err := v.Map(ctx, vaddr, paddr, mt, perm); err != nil {
		v.Phys.FreeFrame(paddr)
		return 0, err
	}
	return paddr, nil
}

// Unmap removes the leaf mapping at vaddr. Unmapping an already-absent
// entry is a no-op success. When freePhys is true the backing frame is
// released back to the pool. A page table, and then a middle directory,
// left with no valid entry is released too.
func (v *VMM) Unmap(ctx *Context, vaddr VirtAddr, freePhys bool) error {
	v.mapMu.Lock()
	defer v.mapMu.Unlock()

	pt, err := v.resolvePageTable(ctx, vaddr, false)
	if err != nil {
		if kerr.KindOf(err) == kerr.NotFound {
			return nil // already absent: no-op success
		}
		return err
	}
	t := v.arena.get(pt)
	idx := indexAt(vaddr, LevelPageTable)
	e := t.entries[idx]
	if !e.valid() {
		return nil
	}
	if freePhys {
		v.Phys.FreeFrame(e.physAddr())
	}
	t.entries[idx] = 0
	var empty [PTECount]entry
	if t.entries == empty {
		gd := v.arena.get(ctx.Root)
		gdIdx := indexAt(vaddr, LevelGlobalDirectory)
		mdAddr := gd.entries[gdIdx].physAddr()
		md := v.arena.get(mdAddr)
		md.entries[indexAt(vaddr, LevelMiddleDirectory)] = 0
		v.arena.remove(pt)
		v.Phys.FreeFrame(pt)
		if md.entries == empty {
			gd.entries[gdIdx] = 0
			v.arena.remove(mdAddr)
			v.Phys.FreeFrame(mdAddr)
		}
	}
	v.FlushAddress(ctx, vaddr)
	return nil
}

// IsMapped reports whether vaddr has a valid leaf mapping in ctx.
func (v *VMM) IsMapped(ctx *Context, vaddr VirtAddr) bool {
	_, ok := v.Resolve(ctx, vaddr)
	return ok
}

// Resolve returns the physical address vaddr is mapped to in ctx.
func (v *VMM) Resolve(ctx *Context, vaddr VirtAddr) (PhysAddr, bool) {
	pt, err := v.resolvePageTable(ctx, vaddr, false)
	if err != nil {
		return 0, false
	}
	e := v.arena.get(pt).entries[indexAt(vaddr, LevelPageTable)]
	if !e.valid() {
		return 0, false
	}
	return e.physAddr(), true
}
