package compiler

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	stderrors "errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lumenerrors "github.com/lumen-dev/lumen/internal/errors"
	"github.com/lumen-dev/lumen/internal/watcher"
	"github.com/lumen-dev/lumen/pkg/diag"
)

// fakeHost is a scriptable compile capability. Each file maps to an IR
// body and a dependency list; files can be flipped into a failing state.
type fakeHost struct {
	ir      map[string]string
	deps    map[string][]string
	failing map[string]bool
	calls   []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ir:      make(map[string]string),
		deps:    make(map[string][]string),
		failing: make(map[string]bool),
	}
}

func (h *fakeHost) set(path, ir string, deps ...string) {
	h.ir[path] = ir
	h.deps[path] = deps
}

func (h *fakeHost) compile(_ context.Context, path string) (Output, error) {
	h.calls = append(h.calls, path)
	if h.failing[path] {
		return Output{Diagnostics: []diag.Diagnostic{{
			File:     path,
			Line:     1,
			Severity: diag.SeverityError,
			Message:  "syntax error",
		}}}, nil
	}
	return Output{IR: []byte(h.ir[path]), Deps: h.deps[path]}, nil
}

func modifiedBatch(paths ...string) watcher.Batch {
	b := make(watcher.Batch)
	for _, p := range paths {
		b[p] = watcher.Event{Path: p, Kind: watcher.Modified}
	}
	return b
}

func removedBatch(paths ...string) watcher.Batch {
	b := make(watcher.Batch)
	for _, p := range paths {
		b[p] = watcher.Event{Path: p, Kind: watcher.Removed}
	}
	return b
}

// seedProject compiles ten files f0..f9 where f5 imports f3.
func seedProject(t *testing.T, h *fakeHost, c *Compiler) {
	t.Helper()
	var all []string
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("f%d.lm", i)
		if i == 5 {
			h.set(path, "ir5", "f3.lm")
		} else {
			h.set(path, fmt.Sprintf("ir%d", i))
		}
		all = append(all, path)
	}
	res := c.Compile(context.Background(), modifiedBatch(all...))
	require.True(t, res.Success, "seed compile: %v", res.Err)
	h.calls = nil
}

func cacheHashes(c *Compiler) map[string][32]byte {
	hashes := make(map[string][32]byte)
	for _, path := range c.Paths() {
		hashes[path] = sha256.Sum256(c.Unit(path).IR)
	}
	return hashes
}

func TestCompile_OnlyClosureRecompiled(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	seedProject(t, h, c)

	before := cacheHashes(c)

	// f7 has zero dependents: exactly one compile call.
	h.set("f7.lm", "ir7-edited")
	res := c.Compile(context.Background(), modifiedBatch("f7.lm"))

	require.True(t, res.Success)
	assert.Equal(t, []string{"f7.lm"}, h.calls)
	assert.Equal(t, []string{"f7.lm"}, res.Recompiled)

	after := cacheHashes(c)
	for path, hash := range before {
		if path == "f7.lm" {
			assert.NotEqual(t, hash, after[path], "edited unit must change")
		} else {
			assert.Equal(t, hash, after[path], "untouched unit %s must be bit-identical", path)
		}
	}
}

func TestCompile_ReverseDependencyClosure(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	seedProject(t, h, c)

	// f3 changed; f5 imports f3, so both recompile.
	res := c.Compile(context.Background(), modifiedBatch("f3.lm"))

	require.True(t, res.Success)
	assert.ElementsMatch(t, []string{"f3.lm", "f5.lm"}, h.calls)
	assert.Equal(t, []string{"f3.lm", "f5.lm"}, res.Recompiled)
}

func TestCompile_TransitiveClosure(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)

	h.set("a.lm", "a")
	h.set("b.lm", "b", "a.lm")
	h.set("c.lm", "c", "b.lm")
	h.set("d.lm", "d")
	require.True(t, c.Compile(context.Background(), modifiedBatch("a.lm", "b.lm", "c.lm", "d.lm")).Success)
	h.calls = nil

	res := c.Compile(context.Background(), modifiedBatch("a.lm"))
	require.True(t, res.Success)
	assert.ElementsMatch(t, []string{"a.lm", "b.lm", "c.lm"}, h.calls)
}

func TestCompile_FailureIsAtomic(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	seedProject(t, h, c)

	require.True(t, c.Compile(context.Background(), modifiedBatch("f0.lm")).Success)
	before := cacheHashes(c)

	// Break f3: its dependent f5 would also recompile, f5 succeeds, but the
	// batch as a whole must install nothing.
	h.failing["f3.lm"] = true
	res := c.Compile(context.Background(), modifiedBatch("f3.lm"))

	assert.False(t, res.Success)
	assert.True(t, stderrors.Is(res.Err, lumenerrors.New("E201")))
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "f3.lm", res.Diagnostics[0].File)
	assert.Nil(t, res.Program)

	assert.Equal(t, before, cacheHashes(c), "failed compile must not touch the cache")
}

func TestCompile_FailureCollectsAllFailingFiles(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	h.set("x.lm", "x")
	h.set("y.lm", "y")
	h.failing["x.lm"] = true
	h.failing["y.lm"] = true

	res := c.Compile(context.Background(), modifiedBatch("x.lm", "y.lm"))

	require.False(t, res.Success)
	files := []string{res.Diagnostics[0].File, res.Diagnostics[1].File}
	assert.ElementsMatch(t, []string{"x.lm", "y.lm"}, files)
}

func TestCompile_RemovedUnitEvicted(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	seedProject(t, h, c)

	// Removing f3 forces its dependent f5 to recompile; f3 itself is not
	// compiled again.
	res := c.Compile(context.Background(), removedBatch("f3.lm"))

	require.True(t, res.Success)
	assert.Equal(t, []string{"f5.lm"}, h.calls)
	assert.Nil(t, c.Unit("f3.lm"))
	assert.Equal(t, 9, res.Program.Units)
}

func TestCompile_MergedProgramDeterministic(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	h.set("b.lm", "bee")
	h.set("a.lm", "ay")

	res := c.Compile(context.Background(), modifiedBatch("a.lm", "b.lm"))
	require.True(t, res.Success)

	res2 := c.Compile(context.Background(), modifiedBatch("a.lm"))
	require.True(t, res2.Success)
	assert.Equal(t, res.Program.IR, res2.Program.IR, "identical inputs must merge identically")
	assert.Equal(t, 2, res.Program.Units)
}

func TestCompile_CapabilityError(t *testing.T) {
	c := New(func(context.Context, string) (Output, error) {
		return Output{}, fmt.Errorf("toolchain exploded")
	}, nil)

	res := c.Compile(context.Background(), modifiedBatch("z.lm"))
	assert.False(t, res.Success)
	assert.True(t, stderrors.Is(res.Err, lumenerrors.New("E202")))
}

func TestCompile_CancellationAtFileBoundary(t *testing.T) {
	h := newFakeHost()
	ctx, cancel := context.WithCancel(context.Background())

	compiled := 0
	c := New(func(innerCtx context.Context, path string) (Output, error) {
		compiled++
		cancel() // Cancel mid-cycle; current file still completes.
		return h.compile(innerCtx, path)
	}, nil)

	h.set("a.lm", "a")
	h.set("b.lm", "b")

	res := c.Compile(ctx, modifiedBatch("a.lm", "b.lm"))

	assert.False(t, res.Success)
	assert.True(t, stderrors.Is(res.Err, lumenerrors.New("E203")))
	assert.Equal(t, 1, compiled, "cancellation must only take effect between files")
	assert.Empty(t, c.Paths(), "aborted cycle must not install anything")
}

func TestStats(t *testing.T) {
	h := newFakeHost()
	c := New(h.compile, nil)
	seedProject(t, h, c)

	c.Compile(context.Background(), modifiedBatch("f7.lm"))

	stats := c.Stats()
	assert.Equal(t, 10, stats.CachedUnits)
	assert.Equal(t, uint64(11), stats.Recompiles)
	assert.Equal(t, uint64(9), stats.Reuses)
}
