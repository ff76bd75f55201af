package loader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixupPLTGOTStampsSelfHandleAndTrampoline(t *testing.T) {
	m := newFlatMapper(0x3000)
	h := &Handle{Base: 0x2000, Relocated: false}
	h.dyn.pltGot = 0x40

	require.NoError(t, fixupPLTGOT(h, m))

	got, err := m.ReadAt(h.Base+h.dyn.pltGot, 12)
	require.NoError(t, err)
	require.Equal(t, h.Base, binary.LittleEndian.Uint32(got[4:8]), "PLTGOT[1] must hold the handle's own base as its self-handle value")
	require.Equal(t, uint32(lazyResolveTrampoline), binary.LittleEndian.Uint32(got[8:12]), "PLTGOT[2] must hold the lazy-resolve trampoline sentinel")
}

func TestFixupPLTGOTAddsSlideWhenRelocated(t *testing.T) {
	m := newFlatMapper(0x4000)
	h := &Handle{Base: 0x3000, Relocated: true}
	h.dyn.pltGot = 0x10

	// PLTGOT[0] starts out holding the link-time _DYNAMIC address,
	// which the image linked at address 0 for this test.
	seed := make([]byte, 4)
	binary.LittleEndian.PutUint32(seed, 0x500)
	require.NoError(t, m.WriteAt(h.Base+h.dyn.pltGot, seed))

	require.NoError(t, fixupPLTGOT(h, m))

	got, err := m.ReadAt(h.Base+h.dyn.pltGot, 4)
	require.NoError(t, err)
	require.Equal(t, h.Base+0x500, binary.LittleEndian.Uint32(got))
}

func TestFixupPLTGOTNoopWithoutPLTGOT(t *testing.T) {
	m := newFlatMapper(0x1000)
	h := &Handle{Base: 0x4000}
	require.NoError(t, fixupPLTGOT(h, m))
}

func TestApplyRelocationsRejectsDTRelaTable(t *testing.T) {
	m := newFlatMapper(0x1000)
	h := &Handle{Base: 0x5000}
	h.dyn.relaOff = 0x20
	h.dyn.relaSz = 8

	err := applyRelocations(h, m, func(string) (uint32, bool) { return 0, false })
	require.Error(t, err)
}

func TestApplyRelocationsRejectsRelaPLT(t *testing.T) {
	m := newFlatMapper(0x1000)
	h := &Handle{Base: 0x6000}
	h.dyn.pltRelIsRela = true

	err := applyRelocations(h, m, func(string) (uint32, bool) { return 0, false })
	require.Error(t, err)
}
