package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Watch Errors (E101-E199)
	// ============================================

	"E101": {
		Category: CategoryWatch,
		Message:  "Cannot establish filesystem watch on root",
		Detail:   "A configured watch root could not be watched. The runtime refuses to start without full watch coverage.",
	},
	"E102": {
		Category: CategoryWatch,
		Message:  "Filesystem notification error",
		Detail:   "A transient error occurred while receiving filesystem notifications. The event was skipped.",
	},

	// ============================================
	// Compile Errors (E201-E299)
	// ============================================

	"E201": {
		Category: CategoryCompile,
		Message:  "Compilation failed",
		Detail:   "One or more source units failed to compile. The previously active program and the unit cache are untouched.",
	},
	"E202": {
		Category: CategoryCompile,
		Message:  "Compile capability error",
		Detail:   "The external compile capability returned an error instead of diagnostics.",
	},
	"E203": {
		Category: CategoryCompile,
		Message:  "Compilation canceled",
		Detail:   "The compile cycle was canceled at a per-file checkpoint before completing the batch.",
	},

	// ============================================
	// Protocol Errors (E301-E399)
	// ============================================

	"E301": {
		Category: CategoryProtocol,
		Message:  "Protocol version mismatch",
		Detail:   "The client presented an unsupported protocol version. The connection was closed during the handshake.",
	},
	"E302": {
		Category: CategoryProtocol,
		Message:  "Malformed protocol message",
		Detail:   "A message could not be decoded. Only the offending connection is closed.",
	},

	// ============================================
	// State Errors (E401-E499)
	// ============================================

	"E401": {
		Category: CategoryState,
		Message:  "State apply failed",
		Detail:   "A subset of the snapshot could not be merged into the new schema. The affected subtree resets to defaults.",
	},
	"E402": {
		Category: CategoryState,
		Message:  "State capture failed",
		Detail:   "The live instance could not produce a snapshot. The reload proceeds with default state.",
	},

	// ============================================
	// Config Errors (E501-E599)
	// ============================================

	"E501": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},
	"E502": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
	},
}
