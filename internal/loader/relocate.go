package loader

import (
	"encoding/binary"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// resolver resolves a symbol name against the global load-order scope,
// returning its already-relocated absolute address.
type resolver func(name string) (uint32, bool)

// lazyResolveTrampoline is the sentinel value written into PLTGOT[2].
// On real hardware this slot holds the address of the lazy-binding
// stub the PLT jumps through; this loader relocates everything eagerly
// and never executes mapped code, so the slot is filled with a fixed
// value that marks it as "the trampoline", not a callable address.
const lazyResolveTrampoline = 0xffffffff

// applyRelocations walks h's REL and JMPREL (PLT) tables and patches
// the mapped image in place, then fixes up PLTGOT[0..2]. Only the
// relocation types the specification names are handled; anything else
// is rejected rather than silently ignored. A DT_RELA table, whether
// named directly or via DT_PLTREL, is rejected outright: ARM EABI
// images use REL exclusively, so a RELA table means either a
// malformed image or a target this loader does not support.
func applyRelocations(h *Handle, m ImageMapper, resolve resolver) error {
	if h.dyn.relaOff != 0 || h.dyn.relaSz != 0 || h.dyn.pltRelIsRela {
		return kerr.New(kerr.NotImplemented, "loader.applyRelocations: DT_RELA unsupported")
	}
	if err := applyRelTable(h, m, resolve, h.dyn.relOff, h.dyn.relSz); err != nil {
		return err
	}
	if err := applyRelTable(h, m, resolve, h.dyn.jmprelOff, h.dyn.jmprelSz); err != nil {
		return err
	}
	return fixupPLTGOT(h, m)
}

// fixupPLTGOT writes the self-handle and lazy-resolve trampoline slots
// the image-handle invariant requires. PLTGOT[0] holds the link-time
// address of _DYNAMIC and only needs the load slide added when the
// image didn't map at its preferred address; PLTGOT[1] is stamped with
// the handle's own base address as a self-identifying value, since
// this loader has no separate handle-table pointer to hand back to a
// (never executed) resolve stub; PLTGOT[2] gets the trampoline
// sentinel.
func fixupPLTGOT(h *Handle, m ImageMapper) error {
	if h.dyn.pltGot == 0 {
		return nil
	}
	got := h.Base + h.dyn.pltGot

	if h.Relocated {
		cur, err := m.ReadAt(got, 4)
		if err != nil {
			return err
		}
		if err := writeWord(m, got, binary.LittleEndian.Uint32(cur)+h.Base); err != nil {
			return err
		}
	}
	if err := writeWord(m, got+4, h.Base); err != nil {
		return err
	}
	return writeWord(m, got+8, lazyResolveTrampoline)
}

func applyRelTable(h *Handle, m ImageMapper, resolve resolver, off, size uint32) error {
	for o := off; o+8 <= off+size; o += 8 {
		rel, err := parseRel(h.data, o)
		if err != nil {
			return err
		}
		if err := applyOne(h, m, resolve, rel); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(h *Handle, m ImageMapper, resolve resolver, rel elf32Rel) error {
	target := h.Base + rel.Offset
	typ := relType(rel.Info)
	symIdx := relSymIndex(rel.Info)

	symbolAddr := func() (uint32, string, bool) {
		sym, err := parseSym(h.data, h.dyn.symtabOff+symIdx*elf32SymSize)
		if err != nil {
			return 0, "", false
		}
		name := h.string(sym.Name)
		if name == "" {
			return h.Base + sym.Value, name, true
		}
		if addr, ok := resolve(name); ok {
			return addr, name, true
		}
		return 0, name, false
	}

	switch typ {
	case rARMNone:
		return nil

	case rARMRelative:
		cur, err := m.ReadAt(target, 4)
		if err != nil {
			return err
		}
		val := binary.LittleEndian.Uint32(cur) + h.Base
		return writeWord(m, target, val)

	case rARMAbs32:
		addr, _, ok := symbolAddr()
		if !ok {
			return kerr.New(kerr.NotFound, "loader.applyOne: R_ARM_ABS32 symbol unresolved")
		}
		cur, err := m.ReadAt(target, 4)
		if err != nil {
			return err
		}
		val := binary.LittleEndian.Uint32(cur) + addr
		return writeWord(m, target, val)

	case rARMGlobDat, rARMJumpSlot:
		addr, _, ok := symbolAddr()
		if !ok {
			return kerr.New(kerr.NotFound, "loader.applyOne: symbol unresolved")
		}
		return writeWord(m, target, addr)

	case rARMCopy:
		addr, name, ok := symbolAddr()
		if !ok {
			return kerr.New(kerr.NotFound, "loader.applyOne: R_ARM_COPY symbol unresolved")
		}
		sym, err := parseSym(h.data, h.dyn.symtabOff+symIdx*elf32SymSize)
		if err != nil {
			return err
		}
		data, err := m.ReadAt(addr, int(sym.Size))
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return nil
		}
		_ = name
		return m.WriteAt(target, data)

	default:
		return kerr.New(kerr.NotImplemented, "loader.applyOne: unsupported relocation type")
	}
}

func writeWord(m ImageMapper, addr uint32, val uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	return m.WriteAt(addr, b[:])
}
