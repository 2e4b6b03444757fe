package trees

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownEntry is returned when an edit refers to an id the snapshot has
// never seen, meaning the peers' states have diverged.
var ErrUnknownEntry = errors.New("unknown entry id")

// Snapshot is a point-in-time, dual-indexed view of a worktree: one ordering
// by path, one ordering by stable id. Both indexes contain exactly the same
// entry set at all times; every mutation touches them in lockstep under the
// coordination lock, so a reader never observes a half-applied edit.
type Snapshot struct {
	ID       uuid.UUID
	RootName string

	byPath *PathIndex
	byID   *IdentIndex
	mu     sync.RWMutex // coordination lock across both indexes
}

// NewSnapshot creates an empty snapshot. The owning worktree inserts the
// root entry before handing the snapshot out.
func NewSnapshot(rootName string) *Snapshot {
	return &Snapshot{
		ID:       uuid.New(),
		RootName: rootName,
		byPath:   NewPathIndex(),
		byID:     NewIdentIndex(),
	}
}

// InsertEntry adds or replaces the entry in both indexes and returns the
// entry previously stored at its path, if any. When the insertion changes the
// id stored at a path, or the path stored under an id, the stale twin is
// evicted so the indexes never diverge.
func (s *Snapshot) InsertEntry(entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, fmt.Errorf("cannot insert nil entry")
	}
	entry.Path = NormalizePath(entry.Path)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertEntryLocked(entry)
}

func (s *Snapshot) insertEntryLocked(entry *Entry) (*Entry, error) {
	replaced, err := s.byPath.Insert(entry)
	if err != nil {
		return nil, fmt.Errorf("path index insertion failed: %w", err)
	}
	if replaced != nil && replaced.ID != entry.ID {
		s.byID.Remove(replaced.ID)
	}

	prev, err := s.byID.Insert(entry)
	if err != nil {
		return nil, fmt.Errorf("id index insertion failed: %w", err)
	}
	if prev != nil && prev.Path != entry.Path {
		s.byPath.Remove(prev.Path)
	}

	return replaced, nil
}

// RemoveSubtree removes the entry at path and every descendant from both
// indexes. The removed entries are returned in path order.
func (s *Snapshot) RemoveSubtree(path string) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeSubtreeLocked(path)
}

func (s *Snapshot) removeSubtreeLocked(path string) []*Entry {
	removed := s.byPath.RemoveSubtree(path)
	for _, entry := range removed {
		s.byID.Remove(entry.ID)
	}

	slog.Debug("snapshot subtree removed",
		"path", path,
		"removed", len(removed))

	return removed
}

// ApplyUpdate applies a batch of removals and upserts atomically: either the
// whole batch lands or the snapshot is left untouched. Removing an id the
// snapshot does not contain fails with ErrUnknownEntry before any mutation.
func (s *Snapshot) ApplyUpdate(removedIDs []EntryID, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range removedIDs {
		if _, ok := s.byID.Lookup(id); !ok {
			return fmt.Errorf("cannot remove entry %d: %w", id, ErrUnknownEntry)
		}
	}

	for _, id := range removedIDs {
		if entry, ok := s.byID.Remove(id); ok {
			s.byPath.Remove(entry.Path)
		}
	}
	for _, entry := range entries {
		if _, err := s.insertEntryLocked(entry); err != nil {
			return err
		}
	}
	return nil
}

// EntryForPath finds the entry at the exact worktree-relative path.
func (s *Snapshot) EntryForPath(path string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath.Lookup(path)
}

// EntryForID finds the entry with the given stable id.
func (s *Snapshot) EntryForID(id EntryID) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID.Lookup(id)
}

// Root returns the root entry if the snapshot has one.
func (s *Snapshot) Root() (*Entry, bool) {
	return s.EntryForPath("")
}

// Children returns the direct children of the directory at parentPath in
// path order.
func (s *Snapshot) Children(parentPath string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath.Children(parentPath)
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath.Len()
}

// FileCount returns the total number of file entries, ignored included.
func (s *Snapshot) FileCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath.FileCount()
}

// VisibleFileCount returns the number of non-ignored file entries.
func (s *Snapshot) VisibleFileCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath.VisibleFileCount()
}

// MaxID returns the largest stable id the snapshot has seen.
func (s *Snapshot) MaxID() (EntryID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID.MaxID()
}

// WalkByID visits every entry in ascending id order until fn returns true.
func (s *Snapshot) WalkByID(fn func(entry *Entry) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.byID.Walk(fn)
}

// TraverseOptions filter an ordered traversal of the snapshot.
type TraverseOptions struct {
	StartPath      string // begin at the first path >= StartPath
	Offset         int    // skip this many matching entries first
	IncludeIgnored bool
	IncludeDirs    bool
}

// Cursor iterates entries in path order, amortized O(1) per step.
type Cursor struct {
	entries []*Entry
	pos     int
}

// Next returns the next entry, or false when the traversal is exhausted.
func (c *Cursor) Next() (*Entry, bool) {
	if c.pos >= len(c.entries) {
		return nil, false
	}
	entry := c.entries[c.pos]
	c.pos++
	return entry, true
}

// Remaining returns how many entries the cursor has left.
func (c *Cursor) Remaining() int {
	return len(c.entries) - c.pos
}

// Traverse returns a cursor over the snapshot's entries in path order,
// filtered by opts. The root entry itself is not yielded.
func (s *Snapshot) Traverse(opts TraverseOptions) *Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := opts.Offset
	var entries []*Entry
	collect := func(entry *Entry) bool {
		if entry.Path == "" {
			return false
		}
		if entry.IsIgnored && !opts.IncludeIgnored {
			return false
		}
		if entry.IsDir() && !opts.IncludeDirs {
			return false
		}
		if skip > 0 {
			skip--
			return false
		}
		entries = append(entries, entry)
		return false
	}

	if opts.StartPath != "" {
		s.byPath.WalkFrom(opts.StartPath, collect)
	} else {
		s.byPath.Walk(collect)
	}

	return &Cursor{entries: entries}
}

// Clone returns an independent copy of the snapshot. Clones own their entry
// values, so they stay valid after the source snapshot mutates or is torn
// down.
func (s *Snapshot) Clone() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Snapshot{
		ID:       s.ID,
		RootName: s.RootName,
		byPath:   s.byPath.Clone(),
		byID:     s.byID.Clone(),
	}
}

// Validate performs integrity checking across both indexes: same entry set,
// same cardinality, and the no-orphan invariant (every non-root entry's
// parent path is present).
func (s *Snapshot) Validate() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	errs = append(errs, s.byPath.Validate()...)
	errs = append(errs, s.byID.Validate()...)

	if s.byPath.Len() != int64(s.byID.Len()) {
		errs = append(errs, fmt.Errorf("lockstep_violation: path index has %d entries, id index has %d",
			s.byPath.Len(), s.byID.Len()))
	}

	s.byPath.Walk(func(entry *Entry) bool {
		if byID, ok := s.byID.Lookup(entry.ID); !ok {
			errs = append(errs, fmt.Errorf("lockstep_violation: entry %q (id %d) missing from id index", entry.Path, entry.ID))
		} else if byID.Path != entry.Path {
			errs = append(errs, fmt.Errorf("lockstep_violation: id %d maps to %q in id index but %q in path index",
				entry.ID, byID.Path, entry.Path))
		}
		if entry.Path != "" {
			if _, ok := s.byPath.Lookup(ParentPath(entry.Path)); !ok {
				errs = append(errs, fmt.Errorf("orphan_entry: %q has no parent entry", entry.Path))
			}
		}
		return false
	})

	if len(errs) > 0 {
		slog.Warn("snapshot validation found issues", "error_count", len(errs))
	}

	return errs
}
