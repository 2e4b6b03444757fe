// Package protocol implements the snapshot synchronization protocol:
// stateless pure functions that diff two snapshots into an update message
// and apply such a message to reconstruct an equivalent snapshot on a peer
// that does not share memory.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/zed-industries/zed-sub013/worktree/trees"
)

// ErrUnknownEntry is returned by ApplyRemoteUpdate when a removal refers to
// an id the replica has never seen: the peer's state has diverged and the
// caller must re-request a full snapshot.
var ErrUnknownEntry = trees.ErrUnknownEntry

// ErrMissingMTime is returned when a wire entry omits its mtime.
var ErrMissingMTime = errors.New("wire entry missing mtime")

// EntryProto is the wire form of one entry. No ordering is implied on the
// wire; ordering is reconstructed by insertion into the ordered indexes on
// apply.
type EntryProto struct {
	ID        uint64     `json:"id"`
	Path      string     `json:"path"`
	Inode     uint64     `json:"inode"`
	MTime     *time.Time `json:"mtime"`
	IsDir     bool       `json:"is_dir"`
	IsSymlink bool       `json:"is_symlink"`
	IsIgnored bool       `json:"is_ignored"`
	ScanID    uint64     `json:"scan_id"`
}

// UpdateMessage carries the delta between two snapshots.
type UpdateMessage struct {
	UpdatedEntries  []EntryProto `json:"updated_entries"`
	RemovedEntryIDs []uint64     `json:"removed_entry_ids"`
}

// IsEmpty reports whether the message carries no changes.
func (m UpdateMessage) IsEmpty() bool {
	return len(m.UpdatedEntries) == 0 && len(m.RemovedEntryIDs) == 0
}

// FromEntry encodes an entry for the wire.
func FromEntry(entry *trees.Entry) EntryProto {
	mtime := entry.MTime
	return EntryProto{
		ID:        uint64(entry.ID),
		Path:      entry.Path,
		Inode:     entry.Inode,
		MTime:     &mtime,
		IsDir:     entry.IsDir(),
		IsSymlink: entry.IsSymlink,
		IsIgnored: entry.IsIgnored,
		ScanID:    entry.ScanID,
	}
}

// ToEntry decodes a wire entry. Directories arrive fully scanned: a replica
// never holds pending directories because it does not scan.
func (p EntryProto) ToEntry() (*trees.Entry, error) {
	if p.MTime == nil {
		return nil, fmt.Errorf("entry %d (%s): %w", p.ID, p.Path, ErrMissingMTime)
	}

	entry := &trees.Entry{
		ID:        trees.EntryID(p.ID),
		Kind:      trees.EntryFile,
		Path:      trees.NormalizePath(p.Path),
		Inode:     p.Inode,
		MTime:     *p.MTime,
		IsSymlink: p.IsSymlink,
		IsIgnored: p.IsIgnored,
		ScanID:    p.ScanID,
	}
	if p.IsDir {
		entry.Kind = trees.EntryDir
	} else {
		entry.Fingerprint = trees.NameFingerprint(trees.PathName(entry.Path))
	}
	return entry, nil
}

// BuildUpdate diffs cur against base with a two-pointer merge over the
// id-ordered walks of both snapshots: ids present only in cur, or present in
// both with different scan generations, become updated entries; ids present
// only in base become removals. Ignored entries stay off the wire unless
// includeIgnored is set.
func BuildUpdate(cur, base *trees.Snapshot, includeIgnored bool) UpdateMessage {
	curEntries := collectByID(cur, includeIgnored)
	baseEntries := collectByID(base, includeIgnored)

	var msg UpdateMessage
	i, j := 0, 0
	for i < len(curEntries) && j < len(baseEntries) {
		a, b := curEntries[i], baseEntries[j]
		switch {
		case a.ID < b.ID:
			msg.UpdatedEntries = append(msg.UpdatedEntries, FromEntry(a))
			i++
		case a.ID > b.ID:
			msg.RemovedEntryIDs = append(msg.RemovedEntryIDs, uint64(b.ID))
			j++
		default:
			if a.ScanID != b.ScanID {
				msg.UpdatedEntries = append(msg.UpdatedEntries, FromEntry(a))
			}
			i++
			j++
		}
	}
	for ; i < len(curEntries); i++ {
		msg.UpdatedEntries = append(msg.UpdatedEntries, FromEntry(curEntries[i]))
	}
	for ; j < len(baseEntries); j++ {
		msg.RemovedEntryIDs = append(msg.RemovedEntryIDs, uint64(baseEntries[j].ID))
	}

	return msg
}

// ApplyRemoteUpdate applies a message to a replica snapshot. The message
// either fully applies or the call fails with the replica left in its
// pre-message state: decoding happens before any mutation, and removals and
// upserts are submitted to both indexes as one atomic batch. An entry
// arriving under an existing id but a different path is a rename observed
// secondhand; the old path entry is evicted during the upsert.
func ApplyRemoteUpdate(snap *trees.Snapshot, msg UpdateMessage) error {
	entries := make([]*trees.Entry, 0, len(msg.UpdatedEntries))
	for _, proto := range msg.UpdatedEntries {
		entry, err := proto.ToEntry()
		if err != nil {
			return fmt.Errorf("failed to decode update: %w", err)
		}
		entries = append(entries, entry)
	}

	removed := lo.Map(msg.RemovedEntryIDs, func(id uint64, _ int) trees.EntryID {
		return trees.EntryID(id)
	})

	return snap.ApplyUpdate(removed, entries)
}

// collectByID materializes the snapshot's id-ordered walk, filtering ignored
// entries unless the caller opted in.
func collectByID(snap *trees.Snapshot, includeIgnored bool) []*trees.Entry {
	var entries []*trees.Entry
	snap.WalkByID(func(entry *trees.Entry) bool {
		entries = append(entries, entry)
		return false
	})
	if includeIgnored {
		return entries
	}
	return lo.Filter(entries, func(entry *trees.Entry, _ int) bool {
		return !entry.IsIgnored
	})
}
