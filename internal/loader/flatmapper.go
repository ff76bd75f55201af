package loader

import "github.com/lpae-kernel/kernel/internal/vmm"

// flatMapper is a test double for ImageMapper: a single growable byte
// arena addressed directly by the loader's uint32 addresses, with no
// paging underneath. The production path uses VMMImageMapper instead.
type flatMapper struct {
	mem  []byte
	next uint32
}

func newFlatMapper(base uint32) *flatMapper {
	return &flatMapper{mem: make([]byte, base), next: base}
}

func (m *flatMapper) Reserve(size uint32) (uint32, error) {
	base := m.next
	needed := base + size
	if uint32(len(m.mem)) < needed {
		grown := make([]byte, needed)
		copy(grown, m.mem)
		m.mem = grown
	}
	m.next = needed
	return base, nil
}

func (m *flatMapper) MapSegment(base, segOff uint32, file []byte, filesz, memsz uint32, perm vmm.Perm) error {
	start := base + segOff
	if uint32(len(m.mem)) < start+memsz {
		grown := make([]byte, start+memsz)
		copy(grown, m.mem)
		m.mem = grown
	}
	copy(m.mem[start:start+filesz], file)
	for i := start + filesz; i < start+memsz; i++ {
		m.mem[i] = 0
	}
	return nil
}

func (m *flatMapper) Unmap(base, size uint32) error { return nil }

func (m *flatMapper) ReadAt(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	copy(out, m.mem[addr:])
	return out, nil
}

func (m *flatMapper) WriteAt(addr uint32, data []byte) error {
	copy(m.mem[addr:], data)
	return nil
}
