package trees

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// EntryID is a process-local, monotonically increasing identity that survives
// renames. It is the diff/sync key between peers.
type EntryID uint64

// EntryKind classifies an indexed filesystem object.
type EntryKind int

const (
	// EntryPendingDir is a directory discovered but not yet scanned
	EntryPendingDir EntryKind = iota
	// EntryDir is a fully scanned directory
	EntryDir
	// EntryFile is a regular file
	EntryFile
)

func (k EntryKind) String() string {
	switch k {
	case EntryPendingDir:
		return "pending-dir"
	case EntryDir:
		return "dir"
	case EntryFile:
		return "file"
	default:
		return "unknown"
	}
}

// IsDir reports whether the kind denotes a directory, scanned or not.
func (k EntryKind) IsDir() bool {
	return k == EntryPendingDir || k == EntryDir
}

// Entry is one indexed filesystem object. Paths are worktree-relative,
// slash-separated; the root entry's path is "".
type Entry struct {
	ID          EntryID
	Kind        EntryKind
	Path        string
	Inode       uint64
	MTime       time.Time
	IsSymlink   bool
	IsIgnored   bool
	Fingerprint uint64 // fuzzy-match key over the entry name, files only
	ScanID      uint64 // scan generation that last wrote this entry
}

// IsDir reports whether the entry is a directory (scanned or pending).
func (e *Entry) IsDir() bool {
	return e.Kind.IsDir()
}

// IsFile reports whether the entry is a regular file.
func (e *Entry) IsFile() bool {
	return e.Kind == EntryFile
}

// Name returns the final path element, or "" for the root entry.
func (e *Entry) Name() string {
	return PathName(e.Path)
}

// Clone returns an independent copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// NewEntry builds an entry from stat results. Directories start out as
// EntryPendingDir; PopulateDir flips them once their listing lands.
func NewEntry(path string, info os.FileInfo, isSymlink bool) *Entry {
	e := &Entry{
		Kind:      EntryFile,
		Path:      path,
		Inode:     inodeOf(info),
		MTime:     info.ModTime(),
		IsSymlink: isSymlink,
	}
	if info.IsDir() {
		e.Kind = EntryPendingDir
	} else {
		e.Fingerprint = NameFingerprint(PathName(path))
	}
	return e
}

// NameFingerprint hashes a lowercased entry name for fuzzy file matching.
func NameFingerprint(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(name)))
	return h.Sum64()
}

// inodeOf extracts the inode on Unix-like systems, zero when unavailable.
func inodeOf(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}

// NormalizePath ensures consistent worktree-relative path formatting: forward
// slashes, no leading "./", no trailing slash, "" for the root.
func NormalizePath(path string) string {
	normalized := strings.ReplaceAll(path, "\\", "/")
	normalized = filepath.ToSlash(filepath.Clean(normalized))
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimSuffix(normalized, "/")
	if normalized == "." || normalized == "/" {
		return ""
	}
	return normalized
}

// PathName returns the final element of a worktree-relative path.
func PathName(path string) string {
	if path == "" {
		return ""
	}
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ParentPath returns the parent of a worktree-relative path, "" for top-level
// entries and the root itself.
func ParentPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// PathAncestors returns every strict ancestor of path from the root ("")
// down to the immediate parent, in outermost-first order.
func PathAncestors(path string) []string {
	ancestors := []string{""}
	if path == "" {
		return ancestors[:0]
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			ancestors = append(ancestors, path[:i])
		}
	}
	return ancestors
}

// JoinPath joins a parent path with a child name in worktree-relative form.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// PathWithin reports whether path equals root or lies beneath it. The empty
// root contains every path.
func PathWithin(path, root string) bool {
	if root == "" || path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}
