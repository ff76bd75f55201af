package kheap

import "github.com/lpae-kernel/kernel/internal/vmm"

// VMMExtender adapts a vmm.VMM/vmm.Context pair to the Extender
// interface, so the normal-state heap actually grows and shrinks
// through the C1 virtual memory core rather than a test double.
type VMMExtender struct {
	VMM  *vmm.VMM
	Ctx  *vmm.Context
	Perm vmm.Perm
}

func (e *VMMExtender) MapRegion(addr, size uint32) error {
	for off := uint32(0); off < size; off += vmm.PageSize {
		va := vmm.VirtAddr(addr + off)
		if _, err := e.VMM.MapRandom(e.Ctx, va, vmm.MemNormal, e.Perm); err != nil {
			return err
		}
	}
	return nil
}

func (e *VMMExtender) UnmapRegion(addr, size uint32) error {
	for off := uint32(0); off < size; off += vmm.PageSize {
		va := vmm.VirtAddr(addr + off)
		if err := e.VMM.Unmap(e.Ctx, va, true); err != nil {
			return err
		}
	}
	return nil
}
