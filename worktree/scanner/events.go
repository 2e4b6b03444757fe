package scanner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"

	"github.com/zed-industries/zed-sub013/worktree/ignore"
	"github.com/zed-industries/zed-sub013/worktree/trees"
	"github.com/zed-industries/zed-sub013/worktree/watcher"
)

// ProcessEvents applies one batch of filesystem-change events to the
// snapshot. Flags are ignored: every path is re-statted, which subsumes
// whatever the backend claimed happened. Within the batch, removal of every
// stale path happens strictly before any insertion, so a rename that swaps
// two paths never transiently shows both entries under their old identities.
func (s *Scanner) ProcessEvents(ctx context.Context, batch []watcher.PathEvent) {
	if len(batch) == 0 {
		return
	}

	scanID := s.snap.BumpScanID()
	paths := s.coalesce(batch)

	slog.Debug("processing event batch",
		"events", len(batch),
		"paths", len(paths),
		"scan_id", scanID)

	// Phase 1: drop every touched subtree, recording inodes for rename reuse
	s.mu.Lock()
	for _, path := range paths {
		s.snap.RemoveSubtree(path)
	}
	s.mu.Unlock()

	// Phase 2: re-stat each path and rebuild what still exists
	var jobs []scanJob
	var droppedIgnoreDirs []string
	for _, path := range paths {
		abs := s.absPath(path)
		info, err := os.Lstat(abs)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("failed to stat event path", "path", path, "error", err)
			}
			// Path is gone; the removal in phase 1 stands. A deleted ignore
			// file still forces a re-tag of its directory's subtree.
			if trees.PathName(path) == ".gitignore" {
				dir := trees.ParentPath(path)
				if _, ok := s.snap.IgnoreRules(dir); ok {
					s.snap.DropIgnoreRules(dir)
					droppedIgnoreDirs = append(droppedIgnoreDirs, dir)
				}
			}
			continue
		}
		isSymlink := info.Mode()&os.ModeSymlink != 0

		entry := trees.NewEntry(path, info, isSymlink)
		entry.ID = s.snap.NextEntryID()
		entry.ScanID = scanID

		s.mu.Lock()
		if path != "" {
			if _, ok := s.snap.EntryForPath(trees.ParentPath(path)); !ok {
				s.mu.Unlock()
				slog.Warn("dropping event for path with unindexed parent", "path", path)
				continue
			}
		}
		stack := s.snap.IgnoreStackFor(path)
		entry.IsIgnored = stack.IsIgnored(path, entry.IsDir())
		s.snap.ReuseEntryID(entry)
		if _, err := s.snap.InsertEntry(entry); err != nil {
			s.mu.Unlock()
			slog.Error("failed to insert entry", "path", path, "error", err)
			continue
		}
		s.mu.Unlock()

		if entry.IsFile() && entry.Name() == ".gitignore" {
			s.reloadIgnoreRules(trees.ParentPath(path), abs)
		}

		if entry.IsDir() {
			childStack := stack
			if entry.IsIgnored {
				childStack = ignore.All()
			}
			jobs = append(jobs, scanJob{path: path, stack: childStack})
		}
	}

	// Phase 3: rescan re-created directories with the shared worker pool
	if len(jobs) > 0 {
		if err := s.scanDirs(ctx, jobs, false); err != nil {
			slog.Error("event rescan aborted", "error", err)
		}
	}

	// The rename-matching window is exactly one event batch
	s.snap.ClearRemovedEntryIDs()

	// Phase 4: re-derive ignore status downstream of touched rule files
	s.rederiveIgnoreStatus(ctx, scanID, droppedIgnoreDirs)
}

// coalesce relativizes, sorts, and deduplicates the batch: an event whose
// path lies beneath another event's path is dropped, since the coarser
// event's re-stat subsumes it.
func (s *Scanner) coalesce(batch []watcher.PathEvent) []string {
	paths := make([]string, 0, len(batch))
	for _, event := range batch {
		rel, ok := s.relPath(event.Path)
		if !ok {
			slog.Debug("dropping event outside worktree root", "path", event.Path)
			continue
		}
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	kept := paths[:0]
	for _, path := range paths {
		covered := false
		for _, k := range kept {
			if trees.PathWithin(path, k) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, path)
		}
	}
	return kept
}

// reloadIgnoreRules recompiles the ruleset for dir after its ignore file
// changed. A malformed or unreadable file means the directory simply has no
// rules.
func (s *Scanner) reloadIgnoreRules(dir, absIgnoreFile string) {
	rules, err := ignore.LoadRuleset(dir, absIgnoreFile)
	if err != nil {
		slog.Warn("failed to reload ignore file", "dir", dir, "error", err)
		s.snap.DropIgnoreRules(dir)
		return
	}
	s.snap.SetIgnoreRules(dir, rules)
}

// rederiveIgnoreStatus re-tags entries beneath every directory whose ignore
// ruleset was touched in the given scan generation. Rulesets whose backing
// file disappeared are dropped first. The walk is decoupled from the scan
// loop so an ignore-file edit that adds or removes no entries still re-tags
// its subtree.
func (s *Scanner) rederiveIgnoreStatus(ctx context.Context, scanID uint64, extraDirs []string) {
	dirs := s.snap.IgnoreDirsTouchedIn(scanID)
	for _, dir := range dirs {
		ignoreFile := filepath.Join(s.absPath(dir), ".gitignore")
		if _, err := os.Lstat(ignoreFile); os.IsNotExist(err) {
			s.snap.DropIgnoreRules(dir)
		}
	}
	for _, dir := range extraDirs {
		if !lo.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		return
	}

	rederivePool := pool.New().WithMaxGoroutines(s.maxWorkers).WithContext(ctx)
	for _, dir := range dirs {
		dir := dir
		rederivePool.Go(func(ctx context.Context) error {
			s.retagSubtree(dir, scanID)
			return nil
		})
	}
	if err := rederivePool.Wait(); err != nil {
		slog.Error("ignore re-derivation aborted", "error", err)
	}
}

// retagSubtree recomputes the ignore stack for dir fresh from the root and
// walks its subtree, writing back only entries whose flag actually changed.
// Purely in-memory: no filesystem I/O happens here.
func (s *Scanner) retagSubtree(root string, scanID uint64) {
	type retagJob struct {
		path  string
		stack *ignore.Stack
	}

	s.mu.Lock()
	rootStack := s.snap.IgnoreStackFor(root)
	s.mu.Unlock()

	stack := rootStack
	if root != "" && rootStack.IsIgnored(root, true) {
		stack = ignore.All()
	} else if rec, ok := s.snap.IgnoreRules(root); ok {
		stack = stack.Append(rec.Rules)
	}

	queue := []retagJob{{path: root, stack: stack}}
	changed := 0
	for len(queue) > 0 {
		job := queue[0]
		queue = queue[1:]

		s.mu.Lock()
		children := s.snap.Children(job.path)
		for _, child := range children {
			ignored := job.stack.IsIgnored(child.Path, child.IsDir())
			if ignored != child.IsIgnored {
				updated := child.Clone()
				updated.IsIgnored = ignored
				updated.ScanID = scanID
				if _, err := s.snap.InsertEntry(updated); err != nil {
					slog.Error("failed to retag entry", "path", child.Path, "error", err)
					continue
				}
				changed++
			}
			if child.IsDir() {
				childStack := job.stack
				if ignored {
					childStack = ignore.All()
				} else if rec, ok := s.snap.IgnoreRules(child.Path); ok {
					childStack = childStack.Append(rec.Rules)
				}
				queue = append(queue, retagJob{path: child.Path, stack: childStack})
			}
		}
		s.mu.Unlock()
	}

	if changed > 0 {
		slog.Debug("ignore status re-derived", "dir", root, "changed", changed)
	}
}
