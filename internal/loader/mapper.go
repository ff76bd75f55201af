package loader

import (
	"github.com/lpae-kernel/kernel/internal/kerr"
	"github.com/lpae-kernel/kernel/internal/vmm"
)

// ImageMapper places a loaded image's segments into an address space.
// The production implementation backs onto C1 (internal/vmm); tests use
// a flat byte-arena double that needs no virtual memory core at all.
type ImageMapper interface {
	// Reserve picks a base address for an image of the given size and
	// returns it; the loader then maps each segment relative to it.
	Reserve(size uint32) (uint32, error)
	// MapSegment maps memsz bytes at base+segOff, copying file[:filesz]
	// in and zero-filling the remainder (the .bss tail).
	MapSegment(base, segOff uint32, file []byte, filesz, memsz uint32, perm vmm.Perm) error
	Unmap(base, size uint32) error
	// Read/Write access mapped image memory, used for relocation and
	// for the data the loaded image would actually execute against.
	ReadAt(addr uint32, n int) ([]byte, error)
	WriteAt(addr uint32, data []byte) error
}

// VMMImageMapper maps loader images through the C1 virtual memory core,
// giving every dlopen'd image real (simulated) pages rather than a flat
// test buffer.
type VMMImageMapper struct {
	VMM *vmm.VMM
	Ctx *vmm.Context

	imageBase uint32 // next free base for image placement
	imageTop  uint32
}

// NewVMMImageMapper places images in [base, limit) of the given
// context's address space, growing upward as images are reserved.
func NewVMMImageMapper(v *vmm.VMM, ctx *vmm.Context, base, limit uint32) *VMMImageMapper {
	return &VMMImageMapper{VMM: v, Ctx: ctx, imageBase: base, imageTop: limit}
}

func pageAlignUp(n uint32) uint32 {
	const mask = vmm.PageSize - 1
	return (n + mask) &^ mask
}

func (m *VMMImageMapper) Reserve(size uint32) (uint32, error) {
	aligned := pageAlignUp(size)
	if m.imageBase+aligned > m.imageTop {
		return 0, kerr.New(kerr.OutOfMemory, "loader.Reserve: image address space exhausted")
	}
	base := m.imageBase
	m.imageBase += aligned
	return base, nil
}

func (m *VMMImageMapper) MapSegment(base, segOff uint32, file []byte, filesz, memsz uint32, perm vmm.Perm) error {
	start := base + segOff
	end := start + memsz
	for page := start &^ (vmm.PageSize - 1); page < end; page += vmm.PageSize {
		addr, err := m.VMM.MapRandom(m.Ctx, vmm.VirtAddr(page), vmm.MemNormal, perm)
		if err != nil {
			return err
		}
		_ = addr
	}
	if filesz > 0 {
		if err := m.WriteAt(start, file); err != nil {
			return err
		}
	}
	if memsz > filesz {
		zeros := make([]byte, memsz-filesz)
		if err := m.WriteAt(start+filesz, zeros); err != nil {
			return err
		}
	}
	return nil
}

func (m *VMMImageMapper) Unmap(base, size uint32) error {
	end := base + size
	for page := base &^ (vmm.PageSize - 1); page < end; page += vmm.PageSize {
		if err := m.VMM.Unmap(m.Ctx, vmm.VirtAddr(page), true); err != nil {
			return err
		}
	}
	return nil
}

func (m *VMMImageMapper) ReadAt(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; {
		va := vmm.VirtAddr(addr) + vmm.VirtAddr(i)
		page := uint32(va) &^ (vmm.PageSize - 1)
		pageOff := uint32(va) - page
		phys, ok := m.VMM.Resolve(m.Ctx, vmm.VirtAddr(page))
		if !ok {
			return nil, kerr.New(kerr.NotFound, "loader.ReadAt: unmapped")
		}
		chunk := vmm.PageSize - int(pageOff)
		if chunk > n-i {
			chunk = n - i
		}
		buf := make([]byte, chunk)
		m.VMM.Phys.ReadAt(phys, int(pageOff), buf)
		copy(out[i:], buf)
		i += chunk
	}
	return out, nil
}

func (m *VMMImageMapper) WriteAt(addr uint32, data []byte) error {
	for i := 0; i < len(data); {
		va := vmm.VirtAddr(addr) + vmm.VirtAddr(i)
		page := uint32(va) &^ (vmm.PageSize - 1)
		pageOff := uint32(va) - page
		phys, ok := m.VMM.Resolve(m.Ctx, vmm.VirtAddr(page))
		if !ok {
			return kerr.New(kerr.NotFound, "loader.WriteAt: unmapped")
		}
		chunk := vmm.PageSize - int(pageOff)
		if chunk > len(data)-i {
			chunk = len(data) - i
		}
		m.VMM.Phys.WriteAt(phys, int(pageOff), data[i:i+chunk])
		i += chunk
	}
	return nil
}
