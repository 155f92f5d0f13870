// Package runtime assembles the hot-reload loop: watcher batches flow into
// the incremental compiler, successful compiles carry state across a reload
// broadcast, failures become an error overlay. One compile is in flight at
// a time; batches that arrive mid-compile are merged and handled as a
// single follow-up cycle.
package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/lumen-dev/lumen/internal/bus"
	"github.com/lumen-dev/lumen/internal/compiler"
	"github.com/lumen-dev/lumen/internal/config"
	"github.com/lumen-dev/lumen/internal/devserver"
	"github.com/lumen-dev/lumen/internal/errors"
	"github.com/lumen-dev/lumen/internal/metrics"
	"github.com/lumen-dev/lumen/internal/overlay"
	"github.com/lumen-dev/lumen/internal/state"
	"github.com/lumen-dev/lumen/internal/watcher"
	"github.com/lumen-dev/lumen/pkg/diag"
	"github.com/lumen-dev/lumen/pkg/protocol"
)

// Status is the externally visible phase of the loop.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusCompiling    Status = "compiling"
	StatusBroadcasting Status = "broadcasting"
	StatusStopped      Status = "stopped"
)

// SchemaFunc derives the state schema for a freshly compiled program. The
// schema decides which live state survives the swap.
type SchemaFunc func(*compiler.Program) state.Schema

// Options configures a Runtime.
type Options struct {
	// Config is the loaded project configuration. Required.
	Config *config.Config

	// Compile is the external compile-one-file capability. Required.
	Compile compiler.CompileFunc

	// Schema derives the state schema from a compiled program. Optional;
	// nil means every captured identity resets on reload.
	Schema SchemaFunc

	// StateProvider captures and applies live instance state. Optional.
	StateProvider state.Provider

	// Logger receives runtime logs. Nil uses slog.Default.
	Logger *slog.Logger

	// Registry backs the runtime's collectors and the /metrics endpoint.
	// Nil creates a private registry.
	Registry *prometheus.Registry
}

// Runtime owns every component of the dev loop.
type Runtime struct {
	opts    Options
	logger  *slog.Logger
	events  *bus.Bus
	watch   *watcher.Watcher
	comp    *compiler.Compiler
	states  *state.Manager
	server  *devserver.Server
	metrics *metrics.Metrics

	seq     atomic.Uint64
	status  atomic.Value // Status
	trigger chan watcher.Batch

	mu      sync.Mutex
	overlay overlay.Model

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// New wires up the loop components without starting anything.
func New(opts Options) (*Runtime, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("runtime: nil config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Compile == nil {
		return nil, fmt.Errorf("runtime: nil compile capability")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Runtime{
		opts:    opts,
		logger:  logger,
		events:  bus.New(logger),
		metrics: metrics.New(reg),
		trigger: make(chan watcher.Batch, 1),
	}
	r.status.Store(StatusIdle)
	r.events.OnDrop(r.metrics.BusDroppedEvents.Inc)

	ignore := append(append([]string{}, watcher.DefaultIgnore...), opts.Config.Ignore...)
	r.watch = watcher.New(watcher.Config{
		Roots:    opts.Config.WatchRoots,
		Ignore:   ignore,
		Debounce: opts.Config.Debounce(),
	}, logger)
	r.comp = compiler.New(opts.Compile, logger)
	r.states = state.NewManager(opts.StateProvider, opts.Config.PreserveState(), logger)
	r.server = devserver.New(devserver.Options{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		HeartbeatInterval: opts.Config.HeartbeatInterval(),
		Logger:            logger,
		Bus:               r.events,
		Metrics:           r.metrics,
		Gatherer:          reg,
		Status:            func() string { return string(r.Status()) },
	})

	return r, nil
}

// Start begins watching, serving, and compiling. An unwatchable root or an
// unbindable port fails startup outright.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.watch.Start(ctx); err != nil {
		cancel()
		return err
	}
	if err := r.server.Start(ctx); err != nil {
		r.watch.Stop()
		cancel()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	r.group = g
	g.Go(func() error {
		r.pipeline(gctx)
		return nil
	})

	r.logger.Info("hot reload loop running",
		"roots", r.opts.Config.WatchRoots,
		"addr", r.server.Addr())
	return nil
}

// Wait blocks until the pipeline exits.
func (r *Runtime) Wait() error {
	if r.group == nil {
		return nil
	}
	return r.group.Wait()
}

// Stop tears the loop down in order: no new batches, no new connections,
// then drain. Safe to call more than once.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() {
		r.watch.Stop()
		if r.cancel != nil {
			r.cancel()
		}
		if r.group != nil {
			r.group.Wait()
		}
		r.server.Close(protocol.CloseShutdown)
		r.events.Close()
		r.status.Store(StatusStopped)
		r.logger.Info("hot reload loop stopped")
	})
}

// Status returns the current phase of the loop.
func (r *Runtime) Status() Status {
	return r.status.Load().(Status)
}

// Handle is the narrow control surface over a running loop, for hosts that
// should steer it without reaching the runtime's wiring.
type Handle struct {
	rt *Runtime
}

// Handle returns the loop's control handle. It shares the runtime's
// lifecycle.
func (r *Runtime) Handle() *Handle {
	return &Handle{rt: r}
}

// TriggerReload forces a full recompile of every cached unit.
func (h *Handle) TriggerReload() {
	h.rt.TriggerReload()
}

// Stop tears the loop down.
func (h *Handle) Stop() {
	h.rt.Stop()
}

// Status returns the current phase of the loop.
func (h *Handle) Status() Status {
	return h.rt.Status()
}

// Overlay returns the current error overlay model. It is empty after a
// successful compile and keeps the previous diagnostics until one.
func (r *Runtime) Overlay() overlay.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlay
}

// Events returns the event bus for observers.
func (r *Runtime) Events() *bus.Bus {
	return r.events
}

// ServerAddr returns the dev server's bound address.
func (r *Runtime) ServerAddr() string {
	return r.server.Addr()
}

// Seed queues an initial compile of the given source paths, as if they had
// all just been created. Used once at startup to build the first program.
func (r *Runtime) Seed(paths []string) {
	if len(paths) == 0 {
		return
	}
	batch := make(watcher.Batch, len(paths))
	now := time.Now()
	for _, p := range paths {
		batch[p] = watcher.Event{Path: p, Kind: watcher.Created, At: now}
	}
	r.queueTrigger(batch)
}

// TriggerReload forces a full recompile of every cached unit.
func (r *Runtime) TriggerReload() {
	paths := r.comp.Paths()
	if len(paths) == 0 {
		r.logger.Warn("manual reload requested with no compiled units")
		return
	}
	batch := make(watcher.Batch, len(paths))
	now := time.Now()
	for _, p := range paths {
		batch[p] = watcher.Event{Path: p, Kind: watcher.Modified, At: now}
	}
	r.queueTrigger(batch)
	r.logger.Info("manual reload queued", "units", len(paths))
}

func (r *Runtime) queueTrigger(batch watcher.Batch) {
	select {
	case r.trigger <- batch:
	default:
		// A full recompile is already queued; this one is subsumed.
	}
}

// pipeline is the single consumer of change batches. While a cycle runs,
// further batches queue up and are merged into one follow-up cycle, so at
// most one compile is ever in flight.
func (r *Runtime) pipeline(ctx context.Context) {
	batches := r.watch.Batches()
	for {
		var batch watcher.Batch
		select {
		case <-ctx.Done():
			return
		case b, ok := <-batches:
			if !ok {
				return
			}
			batch = b
		case b := <-r.trigger:
			batch = b
		}

		batch = r.drainPending(batch, batches)
		r.runCycle(ctx, batch)
	}
}

// drainPending merges every already-queued batch into the current one.
func (r *Runtime) drainPending(batch watcher.Batch, batches <-chan watcher.Batch) watcher.Batch {
	for {
		select {
		case b, ok := <-batches:
			if !ok {
				return batch
			}
			batch.Merge(b)
		case b := <-r.trigger:
			batch.Merge(b)
		default:
			return batch
		}
	}
}

// runCycle takes one merged batch through compile, state carry-over, and
// broadcast.
func (r *Runtime) runCycle(ctx context.Context, batch watcher.Batch) {
	r.status.Store(StatusCompiling)
	defer r.status.Store(StatusIdle)

	paths := batch.Paths()
	now := time.Now()
	r.metrics.WatchBatches.Inc()
	r.events.Publish(bus.Event{Kind: bus.KindFileChanged, At: now, Paths: paths})
	r.events.Publish(bus.Event{Kind: bus.KindCompileStarted, At: now, Paths: paths})

	result := r.comp.Compile(ctx, batch)
	r.metrics.ObserveCompile(result.Success, result.Duration.Seconds())

	if !result.Success {
		if ctx.Err() != nil {
			return
		}
		diags := result.Diagnostics
		if len(diags) == 0 && result.Err != nil {
			// A capability error carries no diagnostics of its own; it
			// still has to reach the overlay and the connected clients.
			diags = []diag.Diagnostic{capabilityDiagnostic(result.Err)}
		}
		r.mu.Lock()
		r.overlay = overlay.Build(diags)
		r.mu.Unlock()

		r.events.Publish(bus.Event{
			Kind:        bus.KindCompileFailed,
			At:          time.Now(),
			Paths:       result.Recompiled,
			Diagnostics: diags,
		})
		r.server.BroadcastCompileError(&protocol.CompileError{Diagnostics: diags})
		return
	}

	// A good compile clears the overlay before anything else.
	r.mu.Lock()
	r.overlay = overlay.Model{}
	r.mu.Unlock()

	snap := r.states.Capture(ctx)
	var schema state.Schema
	if r.opts.Schema != nil {
		schema = r.opts.Schema(result.Program)
	}
	diff := r.states.Restore(ctx, snap, schema)

	r.status.Store(StatusBroadcasting)
	seq := r.seq.Add(1)
	r.server.BroadcastReload(&protocol.Reload{
		Seq: seq,
		IR:  result.Program.IR,
		Diff: protocol.StateDiff{
			Preserved: diff.Preserved,
			Reset:     diff.Reset,
			Added:     diff.Added,
		},
	})

	r.events.Publish(bus.Event{
		Kind:     bus.KindCompileSucceeded,
		At:       time.Now(),
		Paths:    result.Recompiled,
		Duration: result.Duration,
	})
	r.events.Publish(bus.Event{
		Kind:      bus.KindStateApplied,
		At:        time.Now(),
		Preserved: len(diff.Preserved),
		Reset:     len(diff.Reset),
	})
}

// capabilityDiagnostic shapes a compile capability error as a diagnostic.
func capabilityDiagnostic(err error) diag.Diagnostic {
	d := diag.Diagnostic{Severity: diag.SeverityError, Message: err.Error()}
	var coded *errors.Error
	if stderrors.As(err, &coded) {
		d.File = coded.Detail
		if coded.Wrapped != nil {
			d.Message = coded.Wrapped.Error()
		}
	}
	return d
}
