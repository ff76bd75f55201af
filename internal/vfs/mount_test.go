package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMountTableListSortedByPath(t *testing.T) {
	mt := NewMountTable()
	require.NoError(t, mt.Add("/", 0, Stat{Mode: ModeDir}))
	require.NoError(t, mt.Add("/mnt/z", 2, Stat{Mode: ModeDir}))
	require.NoError(t, mt.Add("/mnt/a", 1, Stat{Mode: ModeDir}))

	entries := mt.List()
	require.Len(t, entries, 3)
	require.Equal(t, []string{"/", "/mnt/a", "/mnt/z"}, []string{entries[0].Path, entries[1].Path, entries[2].Path})
}
