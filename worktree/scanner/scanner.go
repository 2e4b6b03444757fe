package scanner

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/zed-industries/zed-sub013/worktree/config"
	"github.com/zed-industries/zed-sub013/worktree/ignore"
	"github.com/zed-industries/zed-sub013/worktree/trees"
	"github.com/zed-industries/zed-sub013/worktree/watcher"
)

// Status is the scanner's externally visible state.
type Status int

const (
	// StatusScanning means a scan or event batch is in flight
	StatusScanning Status = iota
	// StatusIdle means the snapshot is caught up with the filesystem
	StatusIdle
	// StatusError means the root could not be scanned; Err holds the cause
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusScanning:
		return "scanning"
	case StatusIdle:
		return "idle"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Scanner owns the authoritative mutable copy of a LocalSnapshot. It performs
// the initial parallel recursive scan, consumes batched filesystem-change
// events, and re-derives ignore status after ignore-rule changes. The only
// locking discipline that matters: no filesystem I/O while the snapshot lock
// is held. Workers stat and list unlocked, then take the lock just long
// enough to publish an incremental edit.
type Scanner struct {
	root       string // absolute root directory
	snap       *trees.LocalSnapshot
	maxWorkers int

	mu sync.Mutex // serializes snapshot mutation

	statusMu   sync.RWMutex
	status     Status
	lastErr    error
	statusChan chan Status

	published atomic.Pointer[trees.Snapshot]
}

// scanJob is one directory awaiting listing, carrying the ignore stack
// inherited from its ancestors.
type scanJob struct {
	path  string // worktree-relative directory path
	stack *ignore.Stack
}

// New creates a scanner bound to the given root directory and snapshot.
func New(root string, snap *trees.LocalSnapshot, cfg config.ScannerConfig) *Scanner {
	return &Scanner{
		root:       filepath.Clean(root),
		snap:       snap,
		maxWorkers: cfg.EffectiveWorkerCount(),
		status:     StatusScanning,
		statusChan: make(chan Status, 1),
	}
}

// Status returns a single-slot notification channel of status transitions.
// A slow consumer only ever observes the latest status; the producer never
// blocks on it.
func (s *Scanner) Status() <-chan Status {
	return s.statusChan
}

// CurrentStatus returns the scanner's current status.
func (s *Scanner) CurrentStatus() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Err returns the last unrecoverable scan error, if any.
func (s *Scanner) Err() error {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.lastErr
}

// Snapshot returns the most recently published read-only clone. Consumers
// query it freely without contending with the scanner's mutable copy.
func (s *Scanner) Snapshot() *trees.Snapshot {
	if snap := s.published.Load(); snap != nil {
		return snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// LocalSnapshot exposes the authoritative snapshot for callers that
// coordinate with the scanner directly (tests, the sync source).
func (s *Scanner) LocalSnapshot() *trees.LocalSnapshot {
	return s.snap
}

// setStatus records a transition and publishes it with last-value-wins
// semantics: the single-slot channel is drained before the send so a slow
// consumer never backs up the scanner.
func (s *Scanner) setStatus(status Status, err error) {
	s.statusMu.Lock()
	s.status = status
	if status == StatusError {
		s.lastErr = err
	}
	s.statusMu.Unlock()

	select {
	case <-s.statusChan:
	default:
	}
	select {
	case s.statusChan <- status:
	default:
	}
}

// publish installs a fresh clone for consumers.
func (s *Scanner) publish() {
	s.mu.Lock()
	clone := s.snap.Clone()
	s.mu.Unlock()
	s.published.Store(clone)
}

// Run performs the initial scan and then processes event batches until the
// channel closes or the context is cancelled. In-flight scan jobs for the
// current batch always finish, so no directory is left pending forever.
func (s *Scanner) Run(ctx context.Context, batches <-chan []watcher.PathEvent) error {
	s.setStatus(StatusScanning, nil)
	if err := s.initialScan(ctx); err != nil {
		slog.Error("initial scan failed", "root", s.root, "error", err)
		s.setStatus(StatusError, err)
	} else {
		s.publish()
		s.setStatus(StatusIdle, nil)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				slog.Info("event stream closed, scanner shutting down", "root", s.root)
				return nil
			}
			s.setStatus(StatusScanning, nil)
			s.ProcessEvents(ctx, batch)
			s.publish()
			s.setStatus(StatusIdle, nil)
		}
	}
}

// initialScan populates the snapshot from a cold start. A root listing
// failure is the only unrecoverable error; everything else is logged and
// skipped.
func (s *Scanner) initialScan(ctx context.Context) error {
	slog.Info("initial scan started", "root", s.root, "workers", s.maxWorkers)

	err := s.scanDirs(ctx, []scanJob{{path: "", stack: ignore.None()}}, true)
	if err != nil {
		return err
	}

	slog.Info("initial scan completed",
		"root", s.root,
		"entries", s.snap.Len(),
		"files", s.snap.FileCount(),
		"visible_files", s.snap.VisibleFileCount())
	return nil
}

// scanDirs drains a directory job queue breadth-first, one bounded worker
// pool per level. When failOnRoot is set, a failure listing the root job is
// surfaced instead of logged.
func (s *Scanner) scanDirs(ctx context.Context, jobs []scanJob, failOnRoot bool) error {
	level := jobs
	for len(level) > 0 {
		var nextLevel []scanJob
		var nextMu sync.Mutex

		levelPool := pool.New().WithMaxGoroutines(s.maxWorkers).WithContext(ctx)
		for _, job := range level {
			job := job
			levelPool.Go(func(ctx context.Context) error {
				childJobs, err := s.scanDir(ctx, job)
				if err != nil {
					if failOnRoot && job.path == "" {
						return err
					}
					// One unreadable directory must not stall its siblings
					slog.Error("error scanning directory", "path", job.path, "error", err)
					return nil
				}
				nextMu.Lock()
				nextLevel = append(nextLevel, childJobs...)
				nextMu.Unlock()
				return nil
			})
		}
		if err := levelPool.Wait(); err != nil {
			return err
		}

		level = nextLevel
		failOnRoot = false
	}
	return nil
}

// scanDir lists one directory, builds entries for its children, and
// publishes them with a single populate edit. Returns jobs for child
// directories.
func (s *Scanner) scanDir(ctx context.Context, job scanJob) ([]scanJob, error) {
	abs := s.absPath(job.path)

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	// Load this directory's ignore file before classifying children, since
	// directory entries arrive in filesystem order with no guarantee the
	// ignore file is listed first. Rule files beneath ignored trees are
	// never loaded.
	var rules *ignore.Ruleset
	if !job.stack.IsAll() {
		for _, de := range dirEntries {
			if !de.IsDir() && de.Name() == ".gitignore" {
				rules, err = ignore.LoadRuleset(job.path, filepath.Join(abs, ".gitignore"))
				if err != nil {
					slog.Warn("failed to load ignore file", "dir", job.path, "error", err)
					rules = nil
				}
				break
			}
		}
	}
	stack := job.stack.Append(rules)

	children := make([]*trees.Entry, 0, len(dirEntries))
	var childJobs []scanJob
	for _, de := range dirEntries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		childPath := trees.JoinPath(job.path, de.Name())
		info, err := de.Info()
		if err != nil {
			slog.Warn("skipping unreadable entry", "path", childPath, "error", err)
			continue
		}
		isSymlink := info.Mode()&os.ModeSymlink != 0

		entry := trees.NewEntry(childPath, info, isSymlink)
		entry.ID = s.snap.NextEntryID()
		entry.IsIgnored = stack.IsIgnored(childPath, entry.IsDir())

		if entry.IsDir() {
			childStack := stack
			if entry.IsIgnored {
				childStack = ignore.All()
			}
			childJobs = append(childJobs, scanJob{path: childPath, stack: childStack})
		}
		children = append(children, entry)
	}

	// Publish under the lock; the listing and stats above ran unlocked
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, child := range children {
		s.snap.ReuseEntryID(child)
	}
	if err := s.snap.PopulateDir(job.path, children, rules); err != nil {
		return nil, err
	}
	return childJobs, nil
}

// absPath maps a worktree-relative path onto the filesystem.
func (s *Scanner) absPath(path string) string {
	if path == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// relPath maps an absolute event path into worktree-relative form.
func (s *Scanner) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return trees.NormalizePath(rel), true
}
