// Package overlay turns compile diagnostics into a structured display
// model. It is a pure transform with no network or rendering dependency;
// the runtime keeps the current model until the next successful compile.
package overlay

import (
	"fmt"
	"sort"

	"github.com/lumen-dev/lumen/pkg/diag"
)

// Entry is one diagnostic prepared for display.
type Entry struct {
	Heading  string // "file:line:column" or just the file
	File     string
	Line     int
	Column   int
	Severity diag.Severity
	Message  string
	Hint     string
}

// Model is the displayable error overlay.
type Model struct {
	Title   string
	Errors  int
	Entries []Entry
}

// Empty reports whether there is nothing to display.
func (m Model) Empty() bool {
	return len(m.Entries) == 0
}

// Build constructs the display model from diagnostics. Entries are sorted
// by file, then line, then column, so the overlay is stable across
// recompiles of the same failure.
func Build(diags []diag.Diagnostic) Model {
	if len(diags) == 0 {
		return Model{}
	}

	entries := make([]Entry, 0, len(diags))
	errorCount := 0
	for _, d := range diags {
		if d.IsError() {
			errorCount++
		}
		entries = append(entries, Entry{
			Heading:  heading(d),
			File:     d.File,
			Line:     d.Line,
			Column:   d.Column,
			Severity: d.Severity,
			Message:  d.Message,
			Hint:     d.Hint,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].File != entries[j].File {
			return entries[i].File < entries[j].File
		}
		if entries[i].Line != entries[j].Line {
			return entries[i].Line < entries[j].Line
		}
		return entries[i].Column < entries[j].Column
	})

	title := "Build Error"
	if errorCount > 1 {
		title = fmt.Sprintf("%d Build Errors", errorCount)
	}

	return Model{
		Title:   title,
		Errors:  errorCount,
		Entries: entries,
	}
}

func heading(d diag.Diagnostic) string {
	switch {
	case d.Line > 0 && d.Column > 0:
		return fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
	case d.Line > 0:
		return fmt.Sprintf("%s:%d", d.File, d.Line)
	default:
		return d.File
	}
}
