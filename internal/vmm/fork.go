package vmm

import "github.com/lpae-kernel/kernel/internal/kerr"

// ForkContext performs a depth-first traversal of src, allocating a
// parallel set of tables and copying every mapped leaf byte-for-byte
// into a freshly allocated frame (there is no copy-on-write in this
// design). The result is a fully independent context: writes through
// one copy never affect the other (Property P2).
func (v *VMM) ForkContext(src *Context) (*Context, error) {
	v.mapMu.Lock()
	defer v.mapMu.Unlock()

	dstRoot, err := v.Phys.AllocFrame()
	if err != nil {
		return nil, kerr.Wrap(kerr.OutOfMemory, "vmm.ForkContext", err)
	}
	v.arena.put(dstRoot, &table{})

	if err := v.forkLevel(src.Root, dstRoot, LevelGlobalDirectory); err != nil {
		v.destroyTableTree(dstRoot, LevelGlobalDirectory, true)
		return nil, err
	}
	return &Context{Type: src.Type, Root: dstRoot}, nil
}

// forkLevel copies every valid entry in srcAddr's table into dstAddr's
// table, recursing into child tables and deep-copying leaf frames.
func (v *VMM) forkLevel(srcAddr, dstAddr PhysAddr, level Level) error {
	srcTable := v.arena.get(srcAddr)
	dstTable := v.arena.get(dstAddr)

	for i := 0; i < PTECount; i++ {
		e := srcTable.entries[i]
		if !e.valid() {
			continue
		}
		if level == LevelPageTable {
			// Leaf: deep-copy the physical page.
			newPhys, err := v.Phys.CopyFrame(e.physAddr())
			if err != nil {
				return err
			}
			dstTable.entries[i] = (e &^ entry(pteAddrMask)) | entry(newPhys&pteAddrMask)
			continue
		}
		// Intermediate: allocate a child table and recurse.
		childPhys, err := v.Phys.AllocFrame()
		if err != nil {
			return err
		}
		v.arena.put(childPhys, &table{})
		dstTable.entries[i] = makeTableEntry(childPhys)

		childLevel := LevelMiddleDirectory
		if level == LevelMiddleDirectory {
			childLevel = LevelPageTable
		}
		if err := v.forkLevel(e.physAddr(), childPhys, childLevel); err != nil {
			return err
		}
	}
	return nil
}
