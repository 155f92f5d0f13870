package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider records the snapshots it is asked to apply.
type fakeProvider struct {
	captured *Snapshot
	applied  *Snapshot

	captureErr error
	applyErr   error
}

func (p *fakeProvider) Capture(context.Context) (*Snapshot, error) {
	return p.captured, p.captureErr
}

func (p *fakeProvider) Apply(_ context.Context, snap *Snapshot) error {
	p.applied = snap
	return p.applyErr
}

func sampleSnapshot() *Snapshot {
	return NewSnapshot([]Entry{
		{ID: "root/counter", Type: "int", Value: []byte("42"), Version: 3},
		{ID: "root/name", Type: "string", Value: []byte(`"ada"`), Version: 1},
		{ID: "root/toggle", Type: "bool", Value: []byte("true"), Version: 2},
	})
}

func TestSnapshot_Immutable(t *testing.T) {
	src := []Entry{{ID: "a", Type: "int", Value: []byte("1")}}
	snap := NewSnapshot(src)

	src[0].Value[0] = 'X'
	got, ok := snap.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), got.Value, "snapshot must copy values at capture")

	out := snap.Entries()
	out[0].Value[0] = 'Y'
	got, _ = snap.Get("a")
	assert.Equal(t, []byte("1"), got.Value, "Entries must hand out copies of the slice header")
}

func TestComputeDiff(t *testing.T) {
	snap := sampleSnapshot()
	schema := Schema{
		"root/counter": "int",    // unchanged: preserved
		"root/name":    "text",   // type changed: reset
		"root/banner":  "string", // new: added
		// root/toggle absent: reset
	}

	diff := ComputeDiff(snap, schema)

	assert.Equal(t, []string{"root/counter"}, diff.Preserved)
	assert.Equal(t, []string{"root/name", "root/toggle"}, diff.Reset)
	assert.Equal(t, []string{"root/banner"}, diff.Added)
}

func TestComputeDiff_NilSnapshot(t *testing.T) {
	diff := ComputeDiff(nil, Schema{"a": "int", "b": "int"})
	assert.Empty(t, diff.Preserved)
	assert.Empty(t, diff.Reset)
	assert.Equal(t, []string{"a", "b"}, diff.Added)
}

func TestRestore_AppliesPreservedSubsetOnly(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, true, nil)

	snap := sampleSnapshot()
	schema := Schema{"root/counter": "int", "root/toggle": "bool", "root/name": "text"}

	diff := m.Restore(context.Background(), snap, schema)

	assert.Equal(t, []string{"root/counter", "root/toggle"}, diff.Preserved)
	assert.Equal(t, []string{"root/name"}, diff.Reset)

	require.NotNil(t, p.applied)
	assert.Equal(t, 2, p.applied.Len())
	entry, ok := p.applied.Get("root/counter")
	require.True(t, ok)
	assert.Equal(t, []byte("42"), entry.Value, "preserved value must survive untouched")
	_, ok = p.applied.Get("root/name")
	assert.False(t, ok, "type-changed node must not be applied")
}

func TestRestore_SubtreeApplyFailure(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, true, nil)

	snap := sampleSnapshot()
	schema := Schema{"root/counter": "int", "root/toggle": "bool"}
	p.applyErr = &ApplyError{IDs: []string{"root/toggle"}}

	diff := m.Restore(context.Background(), snap, schema)

	assert.Equal(t, []string{"root/counter"}, diff.Preserved)
	assert.Contains(t, diff.Reset, "root/toggle", "failed subtree falls back to defaults")
}

func TestRestore_TotalApplyFailure(t *testing.T) {
	p := &fakeProvider{applyErr: assert.AnError}
	m := NewManager(p, true, nil)

	diff := m.Restore(context.Background(), sampleSnapshot(), Schema{"root/counter": "int"})

	assert.Empty(t, diff.Preserved)
	assert.Contains(t, diff.Reset, "root/counter")
}

func TestRestore_PreservationDisabled(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, false, nil)

	diff := m.Restore(context.Background(), sampleSnapshot(), Schema{"root/counter": "int"})

	assert.Empty(t, diff.Preserved)
	assert.Contains(t, diff.Reset, "root/counter")
	assert.Nil(t, p.applied, "provider must not be called when preservation is off")
}

func TestCapture_FailureDowngradesToEmpty(t *testing.T) {
	p := &fakeProvider{captureErr: assert.AnError}
	m := NewManager(p, true, nil)

	snap := m.Capture(context.Background())
	require.NotNil(t, snap)
	assert.Equal(t, 0, snap.Len())
}

func TestCapture_Disabled(t *testing.T) {
	p := &fakeProvider{captured: sampleSnapshot()}
	m := NewManager(p, false, nil)

	assert.Equal(t, 0, m.Capture(context.Background()).Len())
}

func TestSubset_KeepsCaptureOrder(t *testing.T) {
	snap := sampleSnapshot()
	sub := snap.Subset([]string{"root/toggle", "root/counter"})

	entries := sub.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "root/counter", entries[0].ID)
	assert.Equal(t, "root/toggle", entries[1].ID)
}
