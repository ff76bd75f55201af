package vmm

import "github.com/lpae-kernel/kernel/internal/kerr"

// DestroyContext walks ctx top-down, releasing every table page
// including the root and, unless unmapOnly is set, every leaf page;
// with unmapOnly the leaf frames stay allocated. Destroying the
// currently-active context fails with InUse unless unmapOnly is set,
// in which case the call returns nil and leaves the context intact.
func (v *VMM) DestroyContext(ctx *Context, unmapOnly bool) error {
	v.mapMu.Lock()
	defer v.mapMu.Unlock()

	if v.current == ctx {
		if !unmapOnly {
			return kerr.New(kerr.InUse, "vmm.DestroyContext")
		}
		// The active context's tables stay in place.
		return nil
	}
	v.destroyTableTree(ctx.Root, LevelGlobalDirectory, !unmapOnly)
	return nil
}

// destroyTableTree recursively releases a table and (if freeLeaves) the
// leaf pages it ultimately points at, then removes the table itself
// from the arena and frees its backing frame.
func (v *VMM) destroyTableTree(addr PhysAddr, level Level, freeLeaves bool) {
	t := v.arena.get(addr)
	if t == nil {
		return
	}
	if level == LevelPageTable {
		if freeLeaves {
			for _, e := range t.entries {
				if e.valid() {
					v.Phys.FreeFrame(e.physAddr())
				}
			}
		}
	} else {
		childLevel := LevelMiddleDirectory
		if level == LevelMiddleDirectory {
			childLevel = LevelPageTable
		}
		for _, e := range t.entries {
			if e.valid() {
				v.destroyTableTree(e.physAddr(), childLevel, freeLeaves)
			}
		}
	}
	v.arena.remove(addr)
	v.Phys.FreeFrame(addr)
}
