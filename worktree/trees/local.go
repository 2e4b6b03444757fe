package trees

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	assert "github.com/ZanzyTHEbar/assert-lib"

	"github.com/zed-industries/zed-sub013/worktree/ignore"
)

// IgnoreRecord is a directory's loaded ignore ruleset tagged with the scan
// generation in which it was last (re)loaded.
type IgnoreRecord struct {
	Rules  *ignore.Ruleset
	ScanID uint64
}

// LocalSnapshot extends Snapshot with the local-only bookkeeping the
// background scanner needs: loaded ignore rulesets per directory, the
// batch-scoped inode table that powers rename detection, the shared id
// counter, and the scan generation cursor.
type LocalSnapshot struct {
	*Snapshot

	localMu         sync.Mutex
	ignores         map[string]*IgnoreRecord
	removedEntryIDs map[uint64]EntryID // inode -> id, cleared after each event batch
	nextEntryID     *atomic.Uint64
	scanID          atomic.Uint64

	asserts *assert.AssertHandler
}

// NewLocalSnapshot creates a local snapshot containing only the root entry,
// which starts out pending until the initial scan populates it.
func NewLocalSnapshot(rootName string) *LocalSnapshot {
	ls := &LocalSnapshot{
		Snapshot:        NewSnapshot(rootName),
		ignores:         make(map[string]*IgnoreRecord),
		removedEntryIDs: make(map[uint64]EntryID),
		nextEntryID:     &atomic.Uint64{},
		asserts:         assert.NewAssertHandler(),
	}
	ls.scanID.Store(1)

	root := &Entry{
		ID:   ls.NextEntryID(),
		Kind: EntryPendingDir,
		Path: "",
	}
	if _, err := ls.InsertEntry(root); err != nil {
		// Inserting into two empty indexes cannot fail
		panic(err)
	}
	return ls
}

// NextEntryID mints a fresh stable id from the shared atomic counter.
func (ls *LocalSnapshot) NextEntryID() EntryID {
	return EntryID(ls.nextEntryID.Add(1))
}

// ScanID returns the current scan generation.
func (ls *LocalSnapshot) ScanID() uint64 {
	return ls.scanID.Load()
}

// BumpScanID advances the scan generation; called once per event batch.
func (ls *LocalSnapshot) BumpScanID() uint64 {
	return ls.scanID.Add(1)
}

// ReuseEntryID rewrites the entry's freshly minted id when the entry is the
// "same" filesystem object as one just removed: first by inode (a rename or
// move within the batch), then by exact path (an in-place content update).
func (ls *LocalSnapshot) ReuseEntryID(entry *Entry) {
	ls.localMu.Lock()
	if id, ok := ls.removedEntryIDs[entry.Inode]; ok && entry.Inode != 0 {
		entry.ID = id
		ls.localMu.Unlock()
		return
	}
	ls.localMu.Unlock()

	if existing, ok := ls.EntryForPath(entry.Path); ok {
		entry.ID = existing.ID
	}
}

// RemoveSubtree removes the subtree at path from both indexes, records every
// removed entry's inode for rename reuse within the current batch, and drops
// any ignore rulesets registered at or beneath path.
func (ls *LocalSnapshot) RemoveSubtree(path string) []*Entry {
	path = NormalizePath(path)
	removed := ls.Snapshot.RemoveSubtree(path)

	ls.localMu.Lock()
	for _, entry := range removed {
		if entry.Inode != 0 {
			ls.removedEntryIDs[entry.Inode] = entry.ID
		}
	}
	for dir := range ls.ignores {
		if PathWithin(dir, path) {
			delete(ls.ignores, dir)
		}
	}
	ls.localMu.Unlock()

	return removed
}

// ClearRemovedEntryIDs forgets the batch-scoped inode table. The rename
// matching window is exactly one event batch.
func (ls *LocalSnapshot) ClearRemovedEntryIDs() {
	ls.localMu.Lock()
	ls.removedEntryIDs = make(map[uint64]EntryID)
	ls.localMu.Unlock()
}

// SetIgnoreRules registers a directory's compiled ruleset, tagged with the
// current scan generation.
func (ls *LocalSnapshot) SetIgnoreRules(dir string, rules *ignore.Ruleset) {
	dir = NormalizePath(dir)
	ls.localMu.Lock()
	ls.ignores[dir] = &IgnoreRecord{Rules: rules, ScanID: ls.ScanID()}
	ls.localMu.Unlock()

	slog.Debug("ignore ruleset registered", "dir", dir, "scan_id", ls.ScanID())
}

// DropIgnoreRules forgets the ruleset registered for dir, if any.
func (ls *LocalSnapshot) DropIgnoreRules(dir string) {
	ls.localMu.Lock()
	delete(ls.ignores, NormalizePath(dir))
	ls.localMu.Unlock()
}

// IgnoreRules returns the ruleset record registered for dir.
func (ls *LocalSnapshot) IgnoreRules(dir string) (*IgnoreRecord, bool) {
	ls.localMu.Lock()
	defer ls.localMu.Unlock()
	rec, ok := ls.ignores[NormalizePath(dir)]
	return rec, ok
}

// IgnoreDirsTouchedIn returns the directories whose ruleset was (re)loaded in
// the given scan generation.
func (ls *LocalSnapshot) IgnoreDirsTouchedIn(scanID uint64) []string {
	ls.localMu.Lock()
	defer ls.localMu.Unlock()

	var dirs []string
	for dir, rec := range ls.ignores {
		if rec.ScanID == scanID {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// IgnoreStackFor composes the ignore stack governing the given path from its
// ancestors' rulesets, outermost to innermost. An ancestor directory matched
// by an outer ruleset collapses the stack to All, which suppresses every
// nested ruleset beneath it (standard git semantics).
func (ls *LocalSnapshot) IgnoreStackFor(path string) *ignore.Stack {
	path = NormalizePath(path)

	stack := ignore.None()
	for _, ancestor := range PathAncestors(path) {
		if ancestor != "" && stack.IsIgnored(ancestor, true) {
			return ignore.All()
		}
		if rec, ok := ls.IgnoreRules(ancestor); ok {
			stack = stack.Append(rec.Rules)
		}
	}
	return stack
}

// PopulateDir bulk-inserts a scanned directory's children, registers the
// directory's ruleset when one was found, and flips the parent from pending
// to scanned. Calling it on a parent that is not pending is a scanner bug
// and fails loudly rather than corrupting the index.
func (ls *LocalSnapshot) PopulateDir(parentPath string, children []*Entry, rules *ignore.Ruleset) error {
	parentPath = NormalizePath(parentPath)

	parent, ok := ls.EntryForPath(parentPath)
	ls.asserts.Assert(context.Background(), ok, "populate of a directory missing from the snapshot")
	if !ok {
		return fmt.Errorf("populate %q: directory not present in snapshot", parentPath)
	}
	ls.asserts.Assert(context.Background(), parent.Kind == EntryPendingDir,
		"populate of a directory that is not pending")
	if parent.Kind != EntryPendingDir {
		return fmt.Errorf("populate %q: directory is %s, not pending", parentPath, parent.Kind)
	}

	if rules != nil {
		ls.SetIgnoreRules(parentPath, rules)
	}

	scanned := parent.Clone()
	scanned.Kind = EntryDir
	scanned.ScanID = ls.ScanID()
	if _, err := ls.InsertEntry(scanned); err != nil {
		return err
	}

	for _, child := range children {
		child.ScanID = ls.ScanID()
		if _, err := ls.InsertEntry(child); err != nil {
			return err
		}
	}

	slog.Debug("directory populated",
		"path", parentPath,
		"children", len(children),
		"scan_id", ls.ScanID())

	return nil
}
