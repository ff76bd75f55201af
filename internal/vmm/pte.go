package vmm

// Page/table descriptor bit layout, following the bit-flag naming the
// teacher uses for its own (ARM64) descriptors in mmu.go, adapted to
// the three-level ARMv7 LPAE rendition this package implements.
const (
	pteValid = 1 << 0
	pteTable = 1 << 1 // set on GD/MD entries that point at the next level

	pteAF = 1 << 10 // access flag, always set for entries we install

	pteAPUser  = 1 << 6 // accessible at user privilege (EL0-equivalent)
	pteAPRO    = 1 << 7 // read-only
	pteUXN     = 1 << 54
	pteAttrLSB = 2 // AttrIndx (memory type) occupies bits [4:2]
	pteAttrLen = 3

	pteAddrMask = (PhysAddr(1)<<maxPhysBits - 1) &^ (PageSize - 1)
)

// entry is the raw 64-bit descriptor stored in a table slot, matching
// the specification's "entry's physical address field is always
// page-aligned and ≤ 40 bits" invariant.
type entry uint64

func (e entry) valid() bool   { return e&pteValid != 0 }
func (e entry) isTable() bool { return e&pteTable != 0 }

func (e entry) physAddr() PhysAddr {
	return PhysAddr(e) & pteAddrMask
}

func (e entry) memType() MemType {
	return MemType((uint64(e) >> pteAttrLSB) & ((1 << pteAttrLen) - 1))
}

func (e entry) perm() Perm {
	ro := e&pteAPRO != 0
	return Perm{
		Read:    true, // every valid entry is at least readable
		Write:   !ro,
		Execute: e&pteUXN == 0,
	}
}

func (e entry) userAccessible() bool { return e&pteAPUser != 0 }

// makeTableEntry encodes a descriptor pointing at the next-level table
// at phys.
func makeTableEntry(phys PhysAddr) entry {
	return entry(phys&pteAddrMask) | pteValid | pteTable | pteAF
}

// makeLeafEntry encodes a leaf descriptor for a context of the given
// type, memory type and permission.
func makeLeafEntry(phys PhysAddr, ctxType CtxType, mt MemType, perm Perm) entry {
	e := entry(phys&pteAddrMask) | pteValid | pteAF
	e |= entry(mt&((1<<pteAttrLen)-1)) << pteAttrLSB
	if !perm.Write {
		e |= pteAPRO
	}
	if !perm.Execute {
		e |= pteUXN
	}
	if ctxType == CtxUser {
		e |= pteAPUser
	}
	return e
}
