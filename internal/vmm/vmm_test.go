package vmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVMM(t *testing.T) (*VMM, *Context) {
	t.Helper()
	v := New(NewPhysicalMemory(0))
	ctx, err := v.CreateContext(CtxUser)
	require.NoError(t, err)
	return v, ctx
}

// Property P1: map-unmap idempotence and no leaks across paired
// map_random/unmap(free=true) operations.
func TestMapUnmapIdempotence(t *testing.T) {
	v, ctx := newTestVMM(t)
	const vaddr = VirtAddr(0x1000)

	paddr, err := v.MapRandom(ctx, vaddr, MemNormal, Perm{Read: true, Write: true})
	require.NoError(t, err)
	require.True(t, v.IsMapped(ctx, vaddr))

	require.NoError(t, v.Unmap(ctx, vaddr, false))
	_, ok := v.Resolve(ctx, vaddr)
	require.False(t, ok)

	// Unmapping again is a no-op success.
	require.NoError(t, v.Unmap(ctx, vaddr, false))

	v.Phys.FreeFrame(paddr) // return the leaked frame from the first unmap(free=false)
}

func TestMapRandomUnmapFreeNoLeak(t *testing.T) {
	v, ctx := newTestVMM(t)
	before := v.Phys.AllocatedCount()

	for i := 0; i < 200; i++ {
		vaddr := VirtAddr(0x2000 + i*PageSize)
		_, err := v.MapRandom(ctx, vaddr, MemNormal, Perm{Read: true, Write: true})
		require.NoError(t, err)
		require.NoError(t, v.Unmap(ctx, vaddr, true))
	}

	require.Equal(t, before, v.Phys.AllocatedCount())
}

func TestMapAlreadyMappedFails(t *testing.T) {
	v, ctx := newTestVMM(t)
	const vaddr = VirtAddr(0x3000)
	_, err := v.MapRandom(ctx, vaddr, MemNormal, Perm{Read: true})
	require.NoError(t, err)

	paddr2, err := v.Phys.AllocFrame()
	require.NoError(t, err)
	err = v.Map(ctx, vaddr, paddr2, MemNormal, Perm{Read: true})
	require.Error(t, err)
}

// Property P2: fork equivalence.
func TestForkEquivalence(t *testing.T) {
	v, parent := newTestVMM(t)
	const vaddr = VirtAddr(0x4000)

	paddr, err := v.MapRandom(parent, vaddr, MemNormal, Perm{Read: true, Write: true})
	require.NoError(t, err)
	v.Phys.WriteAt(paddr, 0, []byte("hello"))

	child, err := v.ForkContext(parent)
	require.NoError(t, err)

	childPaddr, ok := v.Resolve(child, vaddr)
	require.True(t, ok)
	require.NotEqual(t, paddr, childPaddr)

	buf := make([]byte, 5)
	v.Phys.ReadAt(childPaddr, 0, buf)
	require.Equal(t, []byte("hello"), buf)

	// Writing through the parent must not affect the child's copy.
	v.Phys.WriteAt(paddr, 0, []byte("WRITE"))
	v.Phys.ReadAt(childPaddr, 0, buf)
	require.Equal(t, []byte("hello"), buf)
}

func TestDestroyActiveContextWithoutUnmapOnlyFails(t *testing.T) {
	v, ctx := newTestVMM(t)
	v.SetContext(ctx)
	err := v.DestroyContext(ctx, false)
	require.Error(t, err)

	require.NoError(t, v.DestroyContext(ctx, true))
}

func TestDestroyContextReleasesEverything(t *testing.T) {
	v, ctx := newTestVMM(t)
	before := v.Phys.AllocatedCount()

	for i := 0; i < 10; i++ {
		_, err := v.MapRandom(ctx, VirtAddr(0x100000+i*PageSize), MemNormal, Perm{Read: true})
		require.NoError(t, err)
	}
	require.NoError(t, v.DestroyContext(ctx, false))
	require.Equal(t, before-1, v.Phys.AllocatedCount(), "the root table frame is released too")
}

func TestTemporaryWindowFirstFitAndRelease(t *testing.T) {
	w := NewTemporaryWindow()
	l1, err := w.Acquire(0x1000)
	require.NoError(t, err)
	require.Equal(t, 1, w.InUse())

	l1.Release()
	require.Equal(t, 0, w.InUse())

	l2, err := w.Acquire(0x2000)
	require.NoError(t, err)
	defer l2.Release()
	require.Equal(t, PhysAddr(0x2000), l2.Addr())
}
