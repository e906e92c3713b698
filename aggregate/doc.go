// Package aggregate folds raw realtime envelopes into coherent
// per-invocation state.
//
// A tool call produces many envelopes over its lifetime: one tool_start,
// any number of progress_updates, one tool_result. Fold collapses these
// into a single Invocation per id, replacing repeated progress events
// rather than accumulating them, and advancing the state monotonically
// (pending -> running -> done/error).
//
// Fold is deterministic and copy-on-write: it returns a fresh map and never
// mutates its input, so callers can hand out invocation maps as immutable
// snapshots. Seed bootstraps the same structure from persisted actions for
// conversations whose history predates the current connection.
package aggregate
