package trees

// Worktree is a tagged variant over the two ways a tree can be held: a local
// worktree owns a LocalSnapshot mutated by the background scanner, a remote
// worktree holds a Snapshot replica maintained through the sync protocol.
// Both share the read-only Snapshot projection.
type Worktree struct {
	local  *LocalSnapshot
	remote *Snapshot
}

// NewLocalWorktree creates a local worktree around a fresh LocalSnapshot.
func NewLocalWorktree(rootName string) *Worktree {
	return &Worktree{local: NewLocalSnapshot(rootName)}
}

// NewRemoteWorktree wraps a replica snapshot maintained via updates from a
// peer.
func NewRemoteWorktree(snap *Snapshot) *Worktree {
	return &Worktree{remote: snap}
}

// Snapshot returns the read-only projection shared by both variants.
func (w *Worktree) Snapshot() *Snapshot {
	if w.local != nil {
		return w.local.Snapshot
	}
	return w.remote
}

// AsLocal returns the local payload when this worktree is local.
func (w *Worktree) AsLocal() (*LocalSnapshot, bool) {
	return w.local, w.local != nil
}

// AsRemote returns the replica snapshot when this worktree is remote.
func (w *Worktree) AsRemote() (*Snapshot, bool) {
	if w.local != nil {
		return nil, false
	}
	return w.remote, true
}

// IsLocal reports whether the worktree is backed by a local scanner.
func (w *Worktree) IsLocal() bool {
	return w.local != nil
}
