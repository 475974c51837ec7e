// Package hooks dispatches agent lifecycle events to the RLM engine.
//
// Supports session_start, step, remember and session_end events. The CLI
// reads one JSON event from stdin, Execute runs the registered handlers,
// and the merged handler output is written back as JSON.
package hooks
