package trees

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileEntry(id EntryID, path string) *Entry {
	return &Entry{
		ID:          id,
		Kind:        EntryFile,
		Path:        path,
		Fingerprint: NameFingerprint(PathName(path)),
	}
}

func dirEntry(id EntryID, path string) *Entry {
	return &Entry{ID: id, Kind: EntryDir, Path: path}
}

func TestPathIndex(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"BasicInsertAndLookup", testPathIndexBasicInsertAndLookup},
		{"WalkOrder", testPathIndexWalkOrder},
		{"Children", testPathIndexChildren},
		{"RemoveSubtree", testPathIndexRemoveSubtree},
		{"Statistics", testPathIndexStatistics},
		{"Clone", testPathIndexClone},
		{"ConcurrentAccess", testPathIndexConcurrentAccess},
		{"Validation", testPathIndexValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testPathIndexBasicInsertAndLookup(t *testing.T) {
	idx := NewPathIndex()

	paths := []string{"", "docs", "docs/readme.md", "src", "src/main.go"}
	for i, path := range paths {
		entry := fileEntry(EntryID(i+1), path)
		if path == "" || path == "docs" || path == "src" {
			entry = dirEntry(EntryID(i+1), path)
		}
		replaced, err := idx.Insert(entry)
		require.NoError(t, err, "insert should succeed for %q", path)
		assert.Nil(t, replaced, "fresh insert should replace nothing for %q", path)
	}

	for _, path := range paths {
		entry, ok := idx.Lookup(path)
		assert.True(t, ok, "path should exist: %q", path)
		assert.Equal(t, path, entry.Path)
	}

	_, ok := idx.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, int64(len(paths)), idx.Len())

	// Replacing a path returns the previous occupant
	replaced, err := idx.Insert(fileEntry(99, "src/main.go"))
	require.NoError(t, err)
	require.NotNil(t, replaced)
	assert.Equal(t, EntryID(5), replaced.ID)
	assert.Equal(t, int64(len(paths)), idx.Len(), "replacement must not grow the index")
}

func testPathIndexWalkOrder(t *testing.T) {
	idx := NewPathIndex()

	// Inserted out of order on purpose
	for i, path := range []string{"b/z", "a", "b", "a/x", "c", "b/a"} {
		kind := EntryFile
		if path == "a" || path == "b" {
			kind = EntryDir
		}
		_, err := idx.Insert(&Entry{ID: EntryID(i + 1), Kind: kind, Path: path})
		require.NoError(t, err)
	}

	var walked []string
	idx.Walk(func(entry *Entry) bool {
		walked = append(walked, entry.Path)
		return false
	})
	assert.Equal(t, []string{"a", "a/x", "b", "b/a", "b/z", "c"}, walked)

	var from []string
	idx.WalkFrom("b", func(entry *Entry) bool {
		from = append(from, entry.Path)
		return false
	})
	assert.Equal(t, []string{"b", "b/a", "b/z", "c"}, from)
}

func testPathIndexChildren(t *testing.T) {
	idx := NewPathIndex()

	layout := map[string]EntryKind{
		"":               EntryDir,
		"a":              EntryDir,
		"a/one.txt":      EntryFile,
		"a/two.txt":      EntryFile,
		"a/nested":       EntryDir,
		"a/nested/three": EntryFile,
		"ab.txt":         EntryFile,
	}
	id := EntryID(0)
	for path, kind := range layout {
		id++
		_, err := idx.Insert(&Entry{ID: id, Kind: kind, Path: path})
		require.NoError(t, err)
	}

	childPaths := func(parent string) []string {
		var paths []string
		for _, child := range idx.Children(parent) {
			paths = append(paths, child.Path)
		}
		return paths
	}

	assert.ElementsMatch(t, []string{"a", "ab.txt"}, childPaths(""),
		"root children must not include grandchildren or the root itself")
	assert.ElementsMatch(t, []string{"a/one.txt", "a/two.txt", "a/nested"}, childPaths("a"),
		"prefix sibling ab.txt must not leak into a's children")
	assert.Empty(t, childPaths("a/one.txt"))
}

func testPathIndexRemoveSubtree(t *testing.T) {
	idx := NewPathIndex()

	for i, path := range []string{"", "d", "d/x", "d/y", "dz", "e"} {
		kind := EntryFile
		if path == "" || path == "d" {
			kind = EntryDir
		}
		_, err := idx.Insert(&Entry{ID: EntryID(i + 1), Kind: kind, Path: path})
		require.NoError(t, err)
	}

	removed := idx.RemoveSubtree("d")
	require.Len(t, removed, 3, "d, d/x, d/y")
	assert.Equal(t, "d", removed[0].Path, "subtree root comes first")

	_, ok := idx.Lookup("d")
	assert.False(t, ok)
	_, ok = idx.Lookup("d/x")
	assert.False(t, ok)
	_, ok = idx.Lookup("dz")
	assert.True(t, ok, "prefix sibling dz must survive removing d")
	assert.Equal(t, int64(3), idx.Len())

	// Removing the root empties the index
	removed = idx.RemoveSubtree("")
	assert.Len(t, removed, 3)
	assert.Equal(t, int64(0), idx.Len())
}

func testPathIndexStatistics(t *testing.T) {
	idx := NewPathIndex()

	_, err := idx.Insert(dirEntry(1, ""))
	require.NoError(t, err)
	_, err = idx.Insert(fileEntry(2, "visible.txt"))
	require.NoError(t, err)

	hidden := fileEntry(3, "hidden.log")
	hidden.IsIgnored = true
	_, err = idx.Insert(hidden)
	require.NoError(t, err)

	assert.Equal(t, int64(3), idx.Len())
	assert.Equal(t, int64(2), idx.FileCount(), "directories are not files")
	assert.Equal(t, int64(1), idx.VisibleFileCount())

	// Re-tagging a file in place adjusts the visible count, not the totals
	visible := hidden.Clone()
	visible.IsIgnored = false
	_, err = idx.Insert(visible)
	require.NoError(t, err)
	assert.Equal(t, int64(2), idx.FileCount())
	assert.Equal(t, int64(2), idx.VisibleFileCount())

	_, ok := idx.Remove("visible.txt")
	require.True(t, ok)
	assert.Equal(t, int64(1), idx.FileCount())
	assert.Equal(t, int64(1), idx.VisibleFileCount())

	stats := idx.GetStats()
	assert.Equal(t, int64(4), stats.Insertions)
	assert.Equal(t, int64(1), stats.Deletions)
}

func testPathIndexClone(t *testing.T) {
	idx := NewPathIndex()
	_, err := idx.Insert(dirEntry(1, ""))
	require.NoError(t, err)
	_, err = idx.Insert(fileEntry(2, "a.txt"))
	require.NoError(t, err)

	clone := idx.Clone()

	// Mutating the original must not show through the clone
	_, err = idx.Insert(fileEntry(3, "b.txt"))
	require.NoError(t, err)
	idx.Remove("a.txt")

	assert.Equal(t, int64(2), clone.Len())
	cloned, ok := clone.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(t, EntryID(2), cloned.ID)

	original, _ := idx.Lookup("")
	cloned, _ = clone.Lookup("")
	assert.NotSame(t, original, cloned, "clone must own its entry values")
	assert.Empty(t, clone.Validate())
}

func testPathIndexConcurrentAccess(t *testing.T) {
	idx := NewPathIndex()
	_, err := idx.Insert(dirEntry(1, ""))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		worker := worker
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				path := fmt.Sprintf("w%d-%d.txt", worker, i)
				_, err := idx.Insert(fileEntry(EntryID(worker*1000+i+2), path))
				assert.NoError(t, err)
				_, ok := idx.Lookup(path)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(8*50+1), idx.Len())
	assert.Empty(t, idx.Validate())
}

func testPathIndexValidation(t *testing.T) {
	idx := NewPathIndex()
	_, err := idx.Insert(dirEntry(1, ""))
	require.NoError(t, err)
	_, err = idx.Insert(fileEntry(2, "ok.txt"))
	require.NoError(t, err)

	assert.Empty(t, idx.Validate())

	// Corrupt the aggregate counts behind the index's back
	idx.stats.mu.Lock()
	idx.stats.TotalFiles++
	idx.stats.mu.Unlock()
	assert.NotEmpty(t, idx.Validate(), "stat drift must be detected")
}
