package loader

import "encoding/binary"

// symDef describes one symtab entry to synthesize: an exported
// definition when defined is true, an undefined import otherwise.
type symDef struct {
	name    string
	value   uint32
	defined bool
}

// relocSpec describes one REL entry. sym == "" synthesizes
// R_ARM_RELATIVE (no symbol index).
type relocSpec struct {
	offset uint32
	typ    uint32
	sym    string
}

// buildImage assembles a minimal but structurally real ELF32 ARM shared
// image: one PT_LOAD segment covering the whole file (identity
// vaddr==offset) and one PT_DYNAMIC segment with STRTAB/SYMTAB/HASH/REL.
// It returns the file bytes and the offset of a trailing data area,
// sized extraSize, that relocSpec offsets may target.
func buildImage(syms []symDef, needed []string, relocs []relocSpec, extraSize uint32) ([]byte, uint32) {
	le := binary.LittleEndian

	dynstr := []byte{0}
	strOff := map[string]uint32{}
	addStr := func(s string) uint32 {
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(len(dynstr))
		dynstr = append(dynstr, []byte(s)...)
		dynstr = append(dynstr, 0)
		strOff[s] = off
		return off
	}
	neededOffs := make([]uint32, len(needed))
	for i, n := range needed {
		neededOffs[i] = addStr(n)
	}
	symNameOffs := make([]uint32, len(syms))
	for i, s := range syms {
		symNameOffs[i] = addStr(s.name)
	}

	symIndex := map[string]uint32{}
	symtab := make([]byte, 16) // index 0: null entry
	for i, s := range syms {
		symIndex[s.name] = uint32(i + 1)
		entry := make([]byte, 16)
		le.PutUint32(entry[0:4], symNameOffs[i])
		var value uint32
		var shndx uint16
		if s.defined {
			value, shndx = s.value, 1
		}
		le.PutUint32(entry[4:8], value)
		entry[12] = 0x12 // STB_GLOBAL<<4 | STT_FUNC
		le.PutUint16(entry[14:16], shndx)
		symtab = append(symtab, entry...)
	}
	nsyms := uint32(len(syms) + 1)

	nbucket := uint32(len(syms))
	if nbucket == 0 {
		nbucket = 1
	}
	buckets := make([]uint32, nbucket)
	chains := make([]uint32, nsyms)
	for i, s := range syms {
		idx := uint32(i + 1)
		b := elfHash(s.name) % nbucket
		chains[idx] = buckets[b]
		buckets[b] = idx
	}
	var hash []byte
	hdr := make([]byte, 8)
	le.PutUint32(hdr[0:4], nbucket)
	le.PutUint32(hdr[4:8], nsyms)
	hash = append(hash, hdr...)
	for _, b := range buckets {
		w := make([]byte, 4)
		le.PutUint32(w, b)
		hash = append(hash, w...)
	}
	for _, c := range chains {
		w := make([]byte, 4)
		le.PutUint32(w, c)
		hash = append(hash, w...)
	}

	var rel []byte
	for _, r := range relocs {
		entry := make([]byte, 8)
		le.PutUint32(entry[0:4], r.offset)
		var symIdx uint32
		if r.sym != "" {
			symIdx = symIndex[r.sym]
		}
		le.PutUint32(entry[4:8], (symIdx<<8)|r.typ)
		rel = append(rel, entry...)
	}

	const ehdrSize = 52
	const phdrSize = 32
	const nphdr = 2
	headersEnd := uint32(ehdrSize + phdrSize*nphdr)

	dynstrOff := headersEnd
	symtabOff := dynstrOff + uint32(len(dynstr))
	if pad := symtabOff % 4; pad != 0 {
		symtabOff += 4 - pad
	}
	hashOff := symtabOff + uint32(len(symtab))
	relOff := hashOff + uint32(len(hash))
	dynOff := relOff + uint32(len(rel))

	var dyn []byte
	addDyn := func(tag, val uint32) {
		e := make([]byte, 8)
		le.PutUint32(e[0:4], tag)
		le.PutUint32(e[4:8], val)
		dyn = append(dyn, e...)
	}
	for _, off := range neededOffs {
		addDyn(dtNeeded, off)
	}
	addDyn(dtHash, hashOff)
	addDyn(dtStrtab, dynstrOff)
	addDyn(dtStrSz, uint32(len(dynstr)))
	addDyn(dtSymtab, symtabOff)
	if len(rel) > 0 {
		addDyn(dtRel, relOff)
		addDyn(dtRelSz, uint32(len(rel)))
		addDyn(dtRelEnt, 8)
	}
	addDyn(dtNull, 0)

	dataOff := dynOff + uint32(len(dyn))
	if pad := dataOff % 4; pad != 0 {
		dataOff += 4 - pad
	}
	total := dataOff + extraSize
	if pad := total % 4; pad != 0 {
		total += 4 - pad
	}

	buf := make([]byte, total)
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 1
	le.PutUint16(buf[16:18], 3)
	le.PutUint16(buf[18:20], 40)
	le.PutUint32(buf[20:24], 1)
	le.PutUint32(buf[28:32], ehdrSize)
	le.PutUint16(buf[40:42], ehdrSize)
	le.PutUint16(buf[42:44], phdrSize)
	le.PutUint16(buf[44:46], nphdr)
	le.PutUint16(buf[46:48], 40)

	ph0 := buf[ehdrSize : ehdrSize+phdrSize]
	le.PutUint32(ph0[0:4], ptLoad)
	le.PutUint32(ph0[16:20], total)
	le.PutUint32(ph0[20:24], total)
	le.PutUint32(ph0[24:28], 7)
	le.PutUint32(ph0[28:32], 4)

	ph1 := buf[ehdrSize+phdrSize : ehdrSize+2*phdrSize]
	le.PutUint32(ph1[0:4], ptDynamic)
	le.PutUint32(ph1[4:8], dynOff)
	le.PutUint32(ph1[8:12], dynOff)
	le.PutUint32(ph1[12:16], dynOff)
	le.PutUint32(ph1[16:20], uint32(len(dyn)))
	le.PutUint32(ph1[20:24], uint32(len(dyn)))
	le.PutUint32(ph1[24:28], 6)
	le.PutUint32(ph1[28:32], 4)

	copy(buf[dynstrOff:], dynstr)
	copy(buf[symtabOff:], symtab)
	copy(buf[hashOff:], hash)
	copy(buf[relOff:], rel)
	copy(buf[dynOff:], dyn)

	return buf, dataOff
}
