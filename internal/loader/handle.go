package loader

// Mode mirrors the dlopen() mode flags the specification names.
type Mode int

const (
	ModeLazy Mode = 1 << iota
	ModeNow
	ModeGlobal
	ModeLocal
)

// dynInfo is the subset of the dynamic section this loader acts on,
// resolved to absolute offsets into the handle's own file image.
type dynInfo struct {
	strtabOff, strtabSz uint32
	symtabOff           uint32
	hashOff             uint32
	gnuHashOff          uint32
	relOff, relSz       uint32
	relaOff, relaSz     uint32
	jmprelOff, jmprelSz uint32
	pltRelIsRela        bool
	pltGot              uint32
	initAddr, finiAddr  uint32
	initArrayOff        uint32
	initArraySz         uint32
	finiArrayOff        uint32
	finiArraySz         uint32
	needed              []uint32 // DT_NEEDED string table offsets
}

// Handle is one loaded image, analogous to the opaque handle dlopen
// returns. The loader keeps handles in a flat load-order slice plus a
// name index instead of an intrusive linked list.
type Handle struct {
	Name     string
	Mode     Mode
	RefCount int

	data []byte // raw file image, retained for string/symbol lookup

	header  elf32Header
	segs    []programHeader
	dyn     dynInfo
	sysv    sysvHashTable
	hasSysv bool

	Base     uint32 // address the loader actually mapped this image at
	Size     uint32
	Relocated bool // Base != the image's preferred (lowest PT_LOAD) vaddr

	Needed []string // resolved DT_NEEDED names
	Deps   []*Handle

	initCalled bool
	finiCalled bool
}

func (h *Handle) string(off uint32) string {
	s, err := cstring(h.data, h.dyn.strtabOff+off)
	if err != nil {
		return ""
	}
	return s
}

// lookupLocal resolves a symbol name against this handle's own symtab,
// without consulting dependencies — used for the handle-scoped form of
// dlsym (scope=handle rather than the global/default scope). Undefined
// entries (st_shndx 0) are skipped, so an import never matches.
func (h *Handle) lookupLocal(name string) (elf32Sym, bool) {
	symAt := func(idx uint32) (elf32Sym, string, bool) {
		sym, err := parseSym(h.data, h.dyn.symtabOff+idx*elf32SymSize)
		if err != nil || sym.Shndx == 0 {
			return elf32Sym{}, "", false
		}
		return sym, h.string(sym.Name), true
	}

	if h.hasSysv {
		if sym, ok := h.sysv.lookup(name, symAt); ok {
			return sym, true
		}
		return elf32Sym{}, false
	}

	// No hash table recorded: linear scan over the symtab until it runs
	// past the end of the image data.
	for idx := uint32(0); ; idx++ {
		sym, ok, done := h.symAtChecked(idx)
		if done {
			return elf32Sym{}, false
		}
		if ok && sym.Shndx != 0 && h.string(sym.Name) == name {
			return sym, true
		}
	}
}

// symAtChecked is the bounds-checked linear-scan step; it reports done
// once the symtab runs past the end of the data it was decoded from.
func (h *Handle) symAtChecked(idx uint32) (elf32Sym, bool, bool) {
	off := h.dyn.symtabOff + idx*elf32SymSize
	if int(off)+elf32SymSize > len(h.data) {
		return elf32Sym{}, false, true
	}
	sym, err := parseSym(h.data, off)
	if err != nil {
		return elf32Sym{}, false, true
	}
	return sym, true, false
}
