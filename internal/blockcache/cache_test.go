package blockcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A dirty block written back through Sync is visible on the device, and
// a fresh Get after Put re-reads what was written.
func TestSyncWritesBackDirtyBlocks(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c := New(dev, 1024, 0)

	b, err := c.Get(3, false)
	require.NoError(t, err)
	copy(b.Data, []byte("hello block three"))
	b.Dirty()

	require.NoError(t, c.Sync())
	require.False(t, b.IsDirty())

	require.NoError(t, c.Put(b, false))
	require.Equal(t, 0, c.Len())

	reread, err := c.Get(3, true)
	require.NoError(t, err)
	require.Equal(t, "hello block three", string(reread.Data[:len("hello block three")]))
}

func TestGetReturnsSameBlockOnRepeatedAccess(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c := New(dev, 512, 0)

	a, err := c.Get(1, false)
	require.NoError(t, err)
	b, err := c.Get(1, false)
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, c.Len())
}

func TestPutWithoutWriteBackDropsChanges(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c := New(dev, 512, 0)

	b, err := c.Get(0, false)
	require.NoError(t, err)
	copy(b.Data, []byte("unsaved"))
	b.Dirty()

	require.NoError(t, c.Put(b, false))

	fresh, err := c.Get(0, true)
	require.NoError(t, err)
	require.NotEqual(t, "unsaved", string(fresh.Data[:7]))
}

// Property P10: the cache's block index stays sorted by ascending block
// number whatever order blocks were allocated in.
func TestSyncOrdersByBlockNumberAscending(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c := New(dev, 512, 0)

	for _, n := range []uint32{5, 1, 3} {
		b, err := c.Get(n, false)
		require.NoError(t, err)
		b.Dirty()
	}
	require.Equal(t, []uint32{1, 3, 5}, c.ordered)
	require.NoError(t, c.Sync())
}
