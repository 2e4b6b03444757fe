package trees

import (
	"fmt"
	"sync"

	"github.com/armon/go-radix"
)

// IdentIndex orders entries by stable id. Keys are fixed-width hex encodings
// of the id, so the patricia tree's lexicographic order coincides with
// numeric id order; Maximum() answers the "max id seen" query used to detect
// missing entries in diffs.
type IdentIndex struct {
	tree    *radix.Tree
	mu      sync.RWMutex
	entries map[EntryID]*Entry // direct id -> entry mapping for verification
}

// NewIdentIndex creates an empty id-ordered index.
func NewIdentIndex() *IdentIndex {
	return &IdentIndex{
		tree:    radix.New(),
		entries: make(map[EntryID]*Entry),
	}
}

// idKey encodes an id as a fixed-width, lexicographically ordered key.
func idKey(id EntryID) string {
	return fmt.Sprintf("%016x", uint64(id))
}

// Insert adds or replaces the entry under its id and returns the entry it
// replaced, if any.
func (idx *IdentIndex) Insert(entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, fmt.Errorf("invalid input: entry cannot be nil")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, updated := idx.tree.Insert(idKey(entry.ID), entry)
	idx.entries[entry.ID] = entry

	if updated {
		return prev.(*Entry), nil
	}
	return nil, nil
}

// Lookup finds the entry with the given id.
func (idx *IdentIndex) Lookup(id EntryID) (*Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	value, found := idx.tree.Get(idKey(id))
	if !found {
		return nil, false
	}
	return value.(*Entry), true
}

// Remove deletes the entry with the given id, returning it if present.
func (idx *IdentIndex) Remove(id EntryID) (*Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prev, deleted := idx.tree.Delete(idKey(id))
	if !deleted {
		return nil, false
	}
	delete(idx.entries, id)
	return prev.(*Entry), true
}

// MaxID returns the largest id in the index.
func (idx *IdentIndex) MaxID() (EntryID, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	_, value, found := idx.tree.Maximum()
	if !found {
		return 0, false
	}
	return value.(*Entry).ID, true
}

// Walk visits every entry in ascending id order until fn returns true.
func (idx *IdentIndex) Walk(fn func(entry *Entry) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	idx.tree.Walk(func(key string, value interface{}) bool {
		return fn(value.(*Entry))
	})
}

// Len returns the number of indexed entries.
func (idx *IdentIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}

// Clone returns an independent copy of the index with cloned entry values.
func (idx *IdentIndex) Clone() *IdentIndex {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	clone := NewIdentIndex()
	idx.tree.Walk(func(key string, value interface{}) bool {
		entry := value.(*Entry).Clone()
		clone.tree.Insert(key, entry)
		clone.entries[entry.ID] = entry
		return false
	})
	return clone
}

// Validate performs integrity checking between the tree and the direct
// mapping.
func (idx *IdentIndex) Validate() []error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var errs []error

	treeCount := 0
	idx.tree.Walk(func(key string, value interface{}) bool {
		treeCount++

		entry, ok := value.(*Entry)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid_entry_type: invalid value type under key %s", key))
			return false
		}
		if idKey(entry.ID) != key {
			errs = append(errs, fmt.Errorf("key_mismatch: entry id %d stored under key %s", entry.ID, key))
		}
		if _, exists := idx.entries[entry.ID]; !exists {
			errs = append(errs, fmt.Errorf("mapping_missing: id %d missing from direct mapping", entry.ID))
		}
		return false
	})

	if treeCount != len(idx.entries) {
		errs = append(errs, fmt.Errorf("count_mismatch: tree and direct mapping have different counts"))
	}

	return errs
}
