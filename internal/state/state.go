// Package state captures, diffs, and selectively reapplies live application
// state across a reload.
//
// The core never introspects live objects. The host application implements
// the Provider capability; this package only decides which entries survive:
// a node's value is preserved exactly when its stable identity exists in
// both the old and new schema with an unchanged type. Any structural change
// resets that subtree to defaults, which is deliberate, documented loss of
// continuity rather than an error.
package state

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"

	"github.com/lumen-dev/lumen/internal/errors"
)

// Entry is one node's captured state.
type Entry struct {
	ID      string // Stable node identity
	Type    string // Declared type tag
	Value   []byte // Serialized value
	Version uint64
}

// Snapshot is an immutable, ordered, point-in-time capture of live state.
type Snapshot struct {
	entries []Entry
	index   map[string]int
}

// NewSnapshot builds a snapshot from entries, preserving their order. The
// entries are copied; the snapshot never changes after construction.
func NewSnapshot(entries []Entry) *Snapshot {
	copied := make([]Entry, len(entries))
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		val := make([]byte, len(e.Value))
		copy(val, e.Value)
		e.Value = val
		copied[i] = e
		index[e.ID] = i
	}
	return &Snapshot{entries: copied, index: index}
}

// Entries returns a copy of the snapshot's entries in capture order.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the entry with the given identity.
func (s *Snapshot) Get(id string) (Entry, bool) {
	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Subset returns a new snapshot containing only the given identities, in
// the original capture order.
func (s *Snapshot) Subset(ids []string) *Snapshot {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	var entries []Entry
	for _, e := range s.entries {
		if _, ok := keep[e.ID]; ok {
			entries = append(entries, e)
		}
	}
	return NewSnapshot(entries)
}

// Schema maps stable node identity to declared type for one program
// version. The host derives it from the compiled program.
type Schema map[string]string

// Diff classifies every identity across an old snapshot and a new schema.
type Diff struct {
	Preserved []string // Same identity, same type: old value survives
	Reset     []string // Identity gone or type changed: defaults
	Added     []string // New in this schema
}

// ApplyError reports the identities the provider could not apply. The
// affected subtrees reset to defaults; the reload itself proceeds.
type ApplyError struct {
	IDs []string
	Err error
}

func (e *ApplyError) Error() string {
	return "state: apply failed for " + joinIDs(e.IDs)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func joinIDs(ids []string) string {
	switch len(ids) {
	case 0:
		return "no entries"
	case 1:
		return ids[0]
	default:
		out := ids[0]
		for _, id := range ids[1:] {
			out += ", " + id
		}
		return out
	}
}

// Provider is the live application's snapshot capability. Both calls are
// synchronous with respect to the application's own execution so the core
// never observes torn state.
type Provider interface {
	Capture(ctx context.Context) (*Snapshot, error)
	Apply(ctx context.Context, snap *Snapshot) error
}

// ComputeDiff classifies identities between an old snapshot and the new
// program's schema. The result's slices are sorted for determinism.
func ComputeDiff(snap *Snapshot, schema Schema) Diff {
	var d Diff

	if snap != nil {
		for _, e := range snap.entries {
			newType, exists := schema[e.ID]
			if exists && newType == e.Type {
				d.Preserved = append(d.Preserved, e.ID)
			} else {
				d.Reset = append(d.Reset, e.ID)
			}
		}
	}
	for id := range schema {
		if snap == nil {
			d.Added = append(d.Added, id)
			continue
		}
		if _, ok := snap.index[id]; !ok {
			d.Added = append(d.Added, id)
		}
	}

	sort.Strings(d.Preserved)
	sort.Strings(d.Reset)
	sort.Strings(d.Added)
	return d
}

// Manager coordinates capture and selective reapply around a reload.
type Manager struct {
	provider Provider
	preserve bool
	logger   *slog.Logger
}

// NewManager creates a state manager. When preserve is false every reload
// starts from default state and Capture returns an empty snapshot.
func NewManager(provider Provider, preserve bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{provider: provider, preserve: preserve, logger: logger}
}

// Capture takes a snapshot of the running instance. A capture failure is
// downgraded to an empty snapshot: the reload proceeds with defaults.
func (m *Manager) Capture(ctx context.Context) *Snapshot {
	if !m.preserve || m.provider == nil {
		return NewSnapshot(nil)
	}
	snap, err := m.provider.Capture(ctx)
	if err != nil {
		m.logger.Warn("state capture failed, reloading with defaults",
			"error", errors.New("E402").Wrap(err))
		return NewSnapshot(nil)
	}
	if snap == nil {
		return NewSnapshot(nil)
	}
	return snap
}

// Restore applies the preserved subset of a snapshot back to the live
// instance and returns the final diff, adjusted for any apply failures.
// Restore is never fatal to the reload.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot, schema Schema) Diff {
	diff := ComputeDiff(snap, schema)
	if !m.preserve {
		// Everything known to the new schema starts from defaults.
		diff.Reset = append(diff.Reset, diff.Preserved...)
		diff.Preserved = nil
		sort.Strings(diff.Reset)
		return diff
	}
	if m.provider == nil || len(diff.Preserved) == 0 {
		return diff
	}

	subset := snap.Subset(diff.Preserved)
	err := m.provider.Apply(ctx, subset)
	if err == nil {
		return diff
	}

	// A partial apply failure demotes only the affected subtrees.
	var applyErr *ApplyError
	if stderrors.As(err, &applyErr) && len(applyErr.IDs) > 0 {
		m.logger.Warn("state apply failed for subtree, resetting to defaults",
			"ids", applyErr.IDs,
			"error", errors.New("E401").Wrap(err))
		failed := make(map[string]struct{}, len(applyErr.IDs))
		for _, id := range applyErr.IDs {
			failed[id] = struct{}{}
		}
		var preserved []string
		for _, id := range diff.Preserved {
			if _, bad := failed[id]; bad {
				diff.Reset = append(diff.Reset, id)
			} else {
				preserved = append(preserved, id)
			}
		}
		diff.Preserved = preserved
		sort.Strings(diff.Reset)
		return diff
	}

	m.logger.Warn("state apply failed entirely, resetting to defaults",
		"error", errors.New("E401").Wrap(err))
	diff.Reset = append(diff.Reset, diff.Preserved...)
	diff.Preserved = nil
	sort.Strings(diff.Reset)
	return diff
}
