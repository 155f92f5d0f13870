package bus

import (
	"time"

	"github.com/lumen-dev/lumen/pkg/diag"
)

// Kind identifies the variant of a hot-reload event.
type Kind int

const (
	KindFileChanged Kind = iota
	KindCompileStarted
	KindCompileSucceeded
	KindCompileFailed
	KindStateApplied
	KindClientConnected
	KindClientDisconnected
)

// String returns the string representation of the event kind.
func (k Kind) String() string {
	switch k {
	case KindFileChanged:
		return "FileChanged"
	case KindCompileStarted:
		return "CompileStarted"
	case KindCompileSucceeded:
		return "CompileSucceeded"
	case KindCompileFailed:
		return "CompileFailed"
	case KindStateApplied:
		return "StateApplied"
	case KindClientConnected:
		return "ClientConnected"
	case KindClientDisconnected:
		return "ClientDisconnected"
	default:
		return "Unknown"
	}
}

// Event is the tagged union carried on the bus. Kind selects which of the
// optional fields are meaningful. Events are transient notifications; they
// carry no control authority.
type Event struct {
	Kind Kind
	At   time.Time

	// FileChanged, CompileStarted, CompileSucceeded
	Paths []string

	// CompileSucceeded
	Duration time.Duration

	// CompileFailed
	Diagnostics []diag.Diagnostic

	// StateApplied
	Preserved int
	Reset     int

	// ClientConnected, ClientDisconnected
	ClientID string
	Reason   string
}
