// Package compiler implements dependency-aware incremental recompilation
// over an external compile-one-file capability.
//
// The compiler owns a cache of compiled units keyed by source path, plus a
// reverse-dependency index over the cached dependency sets. A change batch
// is expanded to the transitive closure of its dependents, exactly those
// files are recompiled, and the results are installed atomically: either
// every recompiled unit replaces its cache entry and a new merged program
// is produced, or nothing is touched at all.
package compiler

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/lumen-dev/lumen/internal/errors"
	"github.com/lumen-dev/lumen/internal/watcher"
	"github.com/lumen-dev/lumen/pkg/diag"
)

// Output is what the external compile capability produces for one file.
type Output struct {
	// IR is the compiled fragment for the unit.
	IR []byte

	// Deps are the paths this unit reads or imports.
	Deps []string

	// Diagnostics are messages produced while compiling. Any diagnostic of
	// error severity marks the unit as failed.
	Diagnostics []diag.Diagnostic
}

// CompileFunc is the external compile-one-file capability.
type CompileFunc func(ctx context.Context, path string) (Output, error)

// Unit is one cached compiled source unit.
type Unit struct {
	Path       string
	IR         []byte
	Deps       []string
	CompiledAt time.Time
}

// Program is a merged whole-program IR built from every cached unit.
type Program struct {
	IR      []byte
	Units   int
	BuiltAt time.Time
}

// Result is the outcome of compiling one batch. It is never partial: on
// failure the cache and the previously active program are untouched.
type Result struct {
	Success     bool
	Program     *Program
	Recompiled  []string
	Diagnostics []diag.Diagnostic
	Duration    time.Duration
	Err         error
}

// Stats describes the cache after the most recent compile.
type Stats struct {
	CachedUnits int
	Recompiles  uint64
	Reuses      uint64
}

// Compiler maintains the unit cache and reverse-dependency index.
type Compiler struct {
	compile CompileFunc
	logger  *slog.Logger

	mu         sync.Mutex
	units      map[string]*Unit
	dependents map[string]map[string]struct{} // dep path -> paths that import it
	recompiles uint64
	reuses     uint64
}

// New creates an incremental compiler around the given capability.
func New(compile CompileFunc, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		compile:    compile,
		logger:     logger,
		units:      make(map[string]*Unit),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Compile recompiles the closure of the batch and returns either a complete
// new program or the batch's diagnostics. Cancellation is honored between
// files, never in the middle of one.
func (c *Compiler) Compile(ctx context.Context, batch watcher.Batch) Result {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[string]struct{})
	seed := make(map[string]struct{})
	for path, ev := range batch {
		switch ev.Kind {
		case watcher.Removed, watcher.Renamed:
			removed[path] = struct{}{}
			seed[path] = struct{}{}
		default:
			seed[path] = struct{}{}
		}
	}

	closure := c.expandClosure(seed)

	// The recompile list is the closure minus removed paths, in sorted
	// order so cycles are deterministic.
	var recompile []string
	for path := range closure {
		if _, gone := removed[path]; !gone {
			recompile = append(recompile, path)
		}
	}
	sort.Strings(recompile)

	// Stage results aside; nothing is installed until every file succeeds.
	staged := make(map[string]*Unit, len(recompile))
	var failed []diag.Diagnostic

	for _, path := range recompile {
		// Per-file checkpoint: an aborted cycle must not tear a file's
		// compilation in half, so cancellation is only observed here.
		if err := ctx.Err(); err != nil {
			return Result{
				Duration: time.Since(start),
				Err:      errors.New("E203").Wrap(err),
			}
		}

		out, err := c.compile(ctx, path)
		if err != nil {
			return Result{
				Duration: time.Since(start),
				Err:      errors.New("E202").WithDetail(path).Wrap(err),
			}
		}

		if diag.HasErrors(out.Diagnostics) {
			failed = append(failed, out.Diagnostics...)
			continue
		}

		staged[path] = &Unit{
			Path:       path,
			IR:         out.IR,
			Deps:       out.Deps,
			CompiledAt: time.Now(),
		}
	}

	if len(failed) > 0 {
		c.logger.Debug("compile failed, cache untouched",
			"failing", len(failed), "recompiled", len(recompile))
		return Result{
			Diagnostics: failed,
			Duration:    time.Since(start),
			Err:         errors.New("E201"),
		}
	}

	// Commit point: install staged units, evict removed ones, rebuild the
	// affected index entries, merge the program.
	for path := range removed {
		c.evictLocked(path)
	}
	for path, unit := range staged {
		c.installLocked(path, unit)
	}

	reused := len(c.units) - len(staged)
	c.recompiles += uint64(len(staged))
	c.reuses += uint64(reused)

	program := c.mergeLocked()
	return Result{
		Success:    true,
		Program:    program,
		Recompiled: recompile,
		Duration:   time.Since(start),
	}
}

// expandClosure grows the seed set to the transitive closure of "has a
// dependent in the set", walking the reverse-dependency index.
func (c *Compiler) expandClosure(seed map[string]struct{}) map[string]struct{} {
	closure := make(map[string]struct{}, len(seed))
	queue := make([]string, 0, len(seed))
	for path := range seed {
		closure[path] = struct{}{}
		queue = append(queue, path)
	}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		for dependent := range c.dependents[path] {
			if _, seen := closure[dependent]; seen {
				continue
			}
			closure[dependent] = struct{}{}
			queue = append(queue, dependent)
		}
	}
	return closure
}

// installLocked replaces a cache entry and updates the reverse index.
func (c *Compiler) installLocked(path string, unit *Unit) {
	if old, ok := c.units[path]; ok {
		for _, dep := range old.Deps {
			delete(c.dependents[dep], path)
		}
	}
	c.units[path] = unit
	for _, dep := range unit.Deps {
		set, ok := c.dependents[dep]
		if !ok {
			set = make(map[string]struct{})
			c.dependents[dep] = set
		}
		set[path] = struct{}{}
	}
}

// evictLocked removes a unit and its index edges.
func (c *Compiler) evictLocked(path string) {
	old, ok := c.units[path]
	if !ok {
		return
	}
	for _, dep := range old.Deps {
		delete(c.dependents[dep], path)
	}
	delete(c.units, path)
}

// mergeLocked concatenates every cached fragment, sorted by path, into one
// program IR. Each fragment is framed by its path so the host can map IR
// back to source units.
func (c *Compiler) mergeLocked() *Program {
	paths := make([]string, 0, len(c.units))
	for path := range c.units {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	for _, path := range paths {
		unit := c.units[path]
		buf.WriteString("\x00unit ")
		buf.WriteString(path)
		buf.WriteByte('\n')
		buf.Write(unit.IR)
		buf.WriteByte('\n')
	}

	return &Program{
		IR:      buf.Bytes(),
		Units:   len(paths),
		BuiltAt: time.Now(),
	}
}

// Unit returns the cached unit for a path, or nil.
func (c *Compiler) Unit(path string) *Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.units[path]
}

// Paths returns every cached path in sorted order.
func (c *Compiler) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.units))
	for path := range c.units {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Stats returns cache statistics.
func (c *Compiler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		CachedUnits: len(c.units),
		Recompiles:  c.recompiles,
		Reuses:      c.reuses,
	}
}
