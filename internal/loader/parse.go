package loader

import "github.com/lpae-kernel/kernel/internal/kerr"

// parse decodes data into a Handle: ELF header, program headers, and
// the dynamic section's tags resolved into dynInfo. Segment mapping and
// relocation happen later, once an address has been chosen.
func (l *Loader) parse(name string, data []byte, mode Mode) (*Handle, error) {
	eh, err := parseELFHeader(data)
	if err != nil {
		return nil, err
	}
	segs, err := parseProgramHeaders(data, eh)
	if err != nil {
		return nil, err
	}

	h := &Handle{Name: name, Mode: mode, data: data, header: eh, segs: segs}

	var dynOff, dynSize uint32
	for _, s := range segs {
		if s.Type == ptDynamic {
			dynOff, dynSize = s.Offset, s.Filesz
			break
		}
	}
	if dynSize == 0 {
		return nil, kerr.New(kerr.Malformed, "loader.parse: no PT_DYNAMIC segment")
	}
	tags, err := parseDynamic(data, dynOff, dynSize)
	if err != nil {
		return nil, err
	}

	var neededOffs []uint32
	for _, d := range tags {
		switch d.Tag {
		case dtStrtab:
			h.dyn.strtabOff = d.Val
		case dtStrSz:
			h.dyn.strtabSz = d.Val
		case dtSymtab:
			h.dyn.symtabOff = d.Val
		case dtHash:
			h.dyn.hashOff = d.Val
		case dtGNUHash:
			h.dyn.gnuHashOff = d.Val
		case dtRel:
			h.dyn.relOff = d.Val
		case dtRelSz:
			h.dyn.relSz = d.Val
		case dtRela:
			h.dyn.relaOff = d.Val
		case dtRelaSz:
			h.dyn.relaSz = d.Val
		case dtJmpRel:
			h.dyn.jmprelOff = d.Val
		case dtPltRelSz:
			h.dyn.jmprelSz = d.Val
		case dtPltRel:
			h.dyn.pltRelIsRela = d.Val == dtRela
		case dtPltGot:
			h.dyn.pltGot = d.Val
		case dtInit:
			h.dyn.initAddr = d.Val
		case dtFini:
			h.dyn.finiAddr = d.Val
		case dtInitArray:
			h.dyn.initArrayOff = d.Val
		case dtInitArrSz:
			h.dyn.initArraySz = d.Val
		case dtFiniArray:
			h.dyn.finiArrayOff = d.Val
		case dtFiniArrSz:
			h.dyn.finiArraySz = d.Val
		case dtNeeded:
			neededOffs = append(neededOffs, d.Val)
		}
	}
	if h.dyn.strtabOff == 0 || h.dyn.symtabOff == 0 {
		return nil, kerr.New(kerr.Malformed, "loader.parse: missing STRTAB/SYMTAB")
	}

	for _, off := range neededOffs {
		s, err := cstring(data, h.dyn.strtabOff+off)
		if err != nil {
			return nil, err
		}
		h.Needed = append(h.Needed, s)
	}

	if h.dyn.hashOff != 0 {
		sysv, err := parseSysVHash(data, h.dyn.hashOff)
		if err == nil {
			h.sysv = sysv
			h.hasSysv = true
		}
	}

	return h, nil
}
