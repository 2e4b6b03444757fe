package trees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentIndex(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"InsertLookupRemove", testIdentIndexInsertLookupRemove},
		{"NumericWalkOrder", testIdentIndexNumericWalkOrder},
		{"MaxID", testIdentIndexMaxID},
		{"Clone", testIdentIndexClone},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testIdentIndexInsertLookupRemove(t *testing.T) {
	idx := NewIdentIndex()

	_, err := idx.Insert(fileEntry(7, "a.txt"))
	require.NoError(t, err)

	entry, ok := idx.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, "a.txt", entry.Path)

	// Re-inserting the same id returns the previous occupant
	prev, err := idx.Insert(fileEntry(7, "b.txt"))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "a.txt", prev.Path)
	assert.Equal(t, 1, idx.Len())

	removed, ok := idx.Remove(7)
	require.True(t, ok)
	assert.Equal(t, "b.txt", removed.Path)
	assert.Equal(t, 0, idx.Len())

	_, ok = idx.Remove(7)
	assert.False(t, ok)
}

func testIdentIndexNumericWalkOrder(t *testing.T) {
	idx := NewIdentIndex()

	// Ids straddling hex-width boundaries, inserted out of order. Fixed-width
	// keys make lexicographic walk order coincide with numeric order.
	ids := []EntryID{256, 2, 4096, 9, 255, 1, 16, 10}
	for _, id := range ids {
		_, err := idx.Insert(fileEntry(id, "p"))
		require.NoError(t, err)
	}

	var walked []EntryID
	idx.Walk(func(entry *Entry) bool {
		walked = append(walked, entry.ID)
		return false
	})
	assert.Equal(t, []EntryID{1, 2, 9, 10, 16, 255, 256, 4096}, walked)

	assert.Empty(t, idx.Validate())
}

func testIdentIndexMaxID(t *testing.T) {
	idx := NewIdentIndex()

	_, ok := idx.MaxID()
	assert.False(t, ok, "empty index has no max id")

	for _, id := range []EntryID{3, 300, 30} {
		_, err := idx.Insert(fileEntry(id, "p"))
		require.NoError(t, err)
	}

	max, ok := idx.MaxID()
	require.True(t, ok)
	assert.Equal(t, EntryID(300), max)

	idx.Remove(300)
	max, ok = idx.MaxID()
	require.True(t, ok)
	assert.Equal(t, EntryID(30), max)
}

func testIdentIndexClone(t *testing.T) {
	idx := NewIdentIndex()
	_, err := idx.Insert(fileEntry(1, "a"))
	require.NoError(t, err)

	clone := idx.Clone()
	_, err = idx.Insert(fileEntry(2, "b"))
	require.NoError(t, err)
	idx.Remove(1)

	assert.Equal(t, 1, clone.Len())
	entry, ok := clone.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "a", entry.Path)

	original, _ := idx.Lookup(2)
	assert.NotNil(t, original)
	cloned, _ := clone.Lookup(1)
	source, _ := idx.Lookup(1)
	assert.Nil(t, source)
	assert.NotNil(t, cloned)
}
