package trees

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/armon/go-radix"
)

// PathIndexStats tracks performance metrics for the path index
type PathIndexStats struct {
	TotalEntries int64
	TotalFiles   int64
	VisibleFiles int64
	Lookups      int64
	Insertions   int64
	Deletions    int64
	mu           sync.RWMutex
}

// PathIndex orders entries lexicographically by worktree-relative path using
// a compressed trie (patricia tree). Lookups are O(k) in the path length and
// a directory's subtree occupies a contiguous prefix range, which makes
// subtree removal a single prefix walk.
type PathIndex struct {
	tree    *radix.Tree       // core patricia tree keyed by path
	mu      sync.RWMutex      // read-write mutex for concurrent access
	stats   *PathIndexStats   // aggregate counts and performance tracking
	entries map[string]*Entry // direct path -> entry mapping for verification
}

// NewPathIndex creates an empty path-ordered index.
func NewPathIndex() *PathIndex {
	return &PathIndex{
		tree:    radix.New(),
		stats:   &PathIndexStats{},
		entries: make(map[string]*Entry),
	}
}

// Insert adds or replaces the entry at its path and returns the entry it
// replaced, if any.
func (idx *PathIndex) Insert(entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, fmt.Errorf("invalid input: entry cannot be nil")
	}

	path := NormalizePath(entry.Path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, updated := idx.tree.Insert(path, entry)
	idx.entries[path] = entry

	var replaced *Entry
	if updated {
		replaced = prev.(*Entry)
	}

	idx.stats.mu.Lock()
	if !updated {
		idx.stats.TotalEntries++
	} else {
		idx.discountLocked(replaced)
	}
	idx.countLocked(entry)
	idx.stats.Insertions++
	idx.stats.mu.Unlock()

	slog.Debug("path index insertion completed",
		"path", path,
		"was_update", updated)

	return replaced, nil
}

// Lookup finds the entry at the exact path.
func (idx *PathIndex) Lookup(path string) (*Entry, bool) {
	normalized := NormalizePath(path)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	idx.stats.mu.Lock()
	idx.stats.Lookups++
	idx.stats.mu.Unlock()

	value, found := idx.tree.Get(normalized)
	if !found {
		return nil, false
	}
	return value.(*Entry), true
}

// Remove deletes the entry at exactly path, returning it if present.
func (idx *PathIndex) Remove(path string) (*Entry, bool) {
	normalized := NormalizePath(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.removeLocked(normalized)
}

func (idx *PathIndex) removeLocked(path string) (*Entry, bool) {
	prev, deleted := idx.tree.Delete(path)
	if !deleted {
		return nil, false
	}
	entry := prev.(*Entry)
	delete(idx.entries, path)

	idx.stats.mu.Lock()
	idx.stats.TotalEntries--
	idx.stats.Deletions++
	idx.discountLocked(entry)
	idx.stats.mu.Unlock()

	return entry, true
}

// RemoveSubtree deletes the entry at path together with every descendant,
// a contiguous range in path order. The removed entries are returned in
// path order, the subtree root first.
func (idx *PathIndex) RemoveSubtree(path string) []*Entry {
	normalized := NormalizePath(path)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var doomed []string
	if _, ok := idx.tree.Get(normalized); ok {
		doomed = append(doomed, normalized)
	}
	prefix := normalized + "/"
	if normalized == "" {
		prefix = ""
	}
	idx.tree.WalkPrefix(prefix, func(key string, value interface{}) bool {
		if key != normalized {
			doomed = append(doomed, key)
		}
		return false
	})

	removed := make([]*Entry, 0, len(doomed))
	for _, key := range doomed {
		if entry, ok := idx.removeLocked(key); ok {
			removed = append(removed, entry)
		}
	}

	slog.Debug("path index subtree removal completed",
		"path", normalized,
		"removed", len(removed))

	return removed
}

// Children returns the direct children of the directory at parentPath in
// path order.
func (idx *PathIndex) Children(parentPath string) []*Entry {
	normalized := NormalizePath(parentPath)
	prefix := normalized + "/"
	if normalized == "" {
		prefix = ""
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var children []*Entry
	idx.tree.WalkPrefix(prefix, func(key string, value interface{}) bool {
		if key == normalized {
			return false
		}
		if ParentPath(key) == normalized {
			children = append(children, value.(*Entry))
		}
		return false
	})

	return children
}

// Walk visits every entry in path order until fn returns true.
func (idx *PathIndex) Walk(fn func(entry *Entry) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	idx.tree.Walk(func(key string, value interface{}) bool {
		return fn(value.(*Entry))
	})
}

// WalkFrom visits entries in path order starting at the first path >= start.
// The radix tree offers no ordered seek, so this walks from the front and
// discards keys below start; cost is linear in the number of preceding
// entries rather than a logarithmic descent.
func (idx *PathIndex) WalkFrom(start string, fn func(entry *Entry) bool) {
	normalized := NormalizePath(start)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	idx.tree.Walk(func(key string, value interface{}) bool {
		if key < normalized {
			return false
		}
		return fn(value.(*Entry))
	})
}

// Len returns the number of indexed entries.
func (idx *PathIndex) Len() int64 {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()
	return idx.stats.TotalEntries
}

// FileCount returns the number of file entries, ignored files included.
func (idx *PathIndex) FileCount() int64 {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()
	return idx.stats.TotalFiles
}

// VisibleFileCount returns the number of non-ignored file entries.
func (idx *PathIndex) VisibleFileCount() int64 {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()
	return idx.stats.VisibleFiles
}

// GetStats returns a copy of the current path index statistics.
func (idx *PathIndex) GetStats() PathIndexStats {
	idx.stats.mu.RLock()
	defer idx.stats.mu.RUnlock()

	return PathIndexStats{
		TotalEntries: idx.stats.TotalEntries,
		TotalFiles:   idx.stats.TotalFiles,
		VisibleFiles: idx.stats.VisibleFiles,
		Lookups:      idx.stats.Lookups,
		Insertions:   idx.stats.Insertions,
		Deletions:    idx.stats.Deletions,
	}
}

// Clone returns an independent copy of the index with cloned entry values.
func (idx *PathIndex) Clone() *PathIndex {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	clone := NewPathIndex()
	idx.tree.Walk(func(key string, value interface{}) bool {
		entry := value.(*Entry).Clone()
		clone.tree.Insert(key, entry)
		clone.entries[key] = entry
		return false
	})

	clone.stats.mu.Lock()
	idx.stats.mu.RLock()
	clone.stats.TotalEntries = idx.stats.TotalEntries
	clone.stats.TotalFiles = idx.stats.TotalFiles
	clone.stats.VisibleFiles = idx.stats.VisibleFiles
	idx.stats.mu.RUnlock()
	clone.stats.mu.Unlock()

	return clone
}

// Validate performs integrity checking between the patricia tree, the direct
// mapping, and the aggregate counts.
func (idx *PathIndex) Validate() []error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var errs []error

	treeCount := 0
	files := int64(0)
	visible := int64(0)
	idx.tree.Walk(func(key string, value interface{}) bool {
		treeCount++

		entry, ok := value.(*Entry)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid_entry_type: invalid value type in patricia tree: %s", key))
			return false
		}
		if _, exists := idx.entries[key]; !exists {
			errs = append(errs, fmt.Errorf("mapping_missing: path exists in patricia tree but missing from direct mapping: %s", key))
		}
		if NormalizePath(entry.Path) != key {
			errs = append(errs, fmt.Errorf("path_mismatch: entry path %q stored under key %q", entry.Path, key))
		}
		if entry.IsFile() {
			files++
			if !entry.IsIgnored {
				visible++
			}
		}
		return false
	})

	if treeCount != len(idx.entries) {
		errs = append(errs, fmt.Errorf("count_mismatch: patricia tree and direct mapping have different counts"))
	}

	idx.stats.mu.RLock()
	if idx.stats.TotalEntries != int64(treeCount) {
		errs = append(errs, fmt.Errorf("stats_mismatch: entry count statistic doesn't match actual count"))
	}
	if idx.stats.TotalFiles != files || idx.stats.VisibleFiles != visible {
		errs = append(errs, fmt.Errorf("stats_mismatch: file count statistics don't match actual counts"))
	}
	idx.stats.mu.RUnlock()

	if len(errs) > 0 {
		slog.Warn("path index validation found issues", "error_count", len(errs))
	}

	return errs
}

// countLocked adds an entry's contribution to the aggregate counts
// (stats mutex held).
func (idx *PathIndex) countLocked(entry *Entry) {
	if entry.IsFile() {
		idx.stats.TotalFiles++
		if !entry.IsIgnored {
			idx.stats.VisibleFiles++
		}
	}
}

// discountLocked removes an entry's contribution from the aggregate counts
// (stats mutex held).
func (idx *PathIndex) discountLocked(entry *Entry) {
	if entry != nil && entry.IsFile() {
		idx.stats.TotalFiles--
		if !entry.IsIgnored {
			idx.stats.VisibleFiles--
		}
	}
}
