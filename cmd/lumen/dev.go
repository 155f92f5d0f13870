package main

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lumen-dev/lumen/internal/bus"
	"github.com/lumen-dev/lumen/internal/compiler"
	"github.com/lumen-dev/lumen/internal/config"
	"github.com/lumen-dev/lumen/internal/runtime"
)

func devCmd() *cobra.Command {
	var (
		port     int
		host     string
		debounce int
		noState  bool
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the hot-reload development loop",
		Long: `Start the hot-reload development loop.

Lumen watches the configured roots, recompiles changed files and
their dependents, and broadcasts the new program to every connected
live instance. Compile errors become an overlay; the previous
program keeps running.

Examples:
  lumen dev
  lumen dev --port=8080
  lumen dev --debounce=300`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(port, host, debounce, noState, verbose)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to serve on (default from lumen.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from lumen.json)")
	cmd.Flags().IntVar(&debounce, "debounce", 0, "Debounce window in milliseconds (default from lumen.json)")
	cmd.Flags().BoolVar(&noState, "no-state", false, "Reset all state on every reload")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runDev(port int, host string, debounce int, noState, verbose bool) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	// Apply command-line overrides
	if port > 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}
	if debounce > 0 {
		cfg.DebounceMs = debounce
	}
	if noState {
		off := false
		cfg.StatePreservation = &off
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	printBanner()
	fmt.Println("  dev")
	fmt.Println()

	rt, err := runtime.New(runtime.Options{
		Config:  cfg,
		Compile: compileSourceFile,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return err
	}

	sub := rt.Events().Subscribe("cli")
	go reportEvents(sub)

	info("Watching %s", strings.Join(cfg.WatchRoots, ", "))
	info("Serving on ws://%s/livereload", rt.ServerAddr())
	fmt.Println()

	// Compile everything once so instances connecting now get a program.
	seeds, err := collectSources(cfg.WatchRoots)
	if err != nil {
		return err
	}
	rt.Seed(seeds)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n\n  Shutting down...")
	rt.Stop()
	return nil
}

// reportEvents mirrors loop events onto the terminal.
func reportEvents(sub *bus.Subscription) {
	for ev := range sub.Events() {
		switch ev.Kind {
		case bus.KindCompileSucceeded:
			success("Built %d files in %s", len(ev.Paths), ev.Duration.Round(1000000))
		case bus.KindCompileFailed:
			for _, d := range ev.Diagnostics {
				errorMsg("%s", d)
			}
		case bus.KindStateApplied:
			if ev.Preserved > 0 || ev.Reset > 0 {
				info("State: %d preserved, %d reset", ev.Preserved, ev.Reset)
			}
		case bus.KindClientConnected:
			success("Instance %s connected", ev.ClientID)
		case bus.KindClientDisconnected:
			info("Instance %s disconnected (%s)", ev.ClientID, ev.Reason)
		}
	}
}

// collectSources walks the watch roots and returns every regular file.
func collectSources(roots []string) ([]string, error) {
	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// compileSourceFile is the default compile capability: the file's contents
// become its IR, and lines of the form `import "path"` declare dependencies
// relative to the file's directory.
func compileSourceFile(ctx context.Context, path string) (compiler.Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return compiler.Output{}, err
	}
	defer f.Close()

	var out compiler.Output
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		out.IR = append(out.IR, scanner.Bytes()...)
		out.IR = append(out.IR, '\n')

		if !strings.HasPrefix(line, `import "`) {
			continue
		}
		dep := strings.TrimSuffix(strings.TrimPrefix(line, `import "`), `"`)
		if dep == "" {
			continue
		}
		out.Deps = append(out.Deps, filepath.Join(filepath.Dir(path), dep))
	}
	if err := scanner.Err(); err != nil {
		return compiler.Output{}, err
	}
	return out, nil
}
