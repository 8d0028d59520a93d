// Package orchestrator implements the top-level test lifecycle: admission
// control, worker launch, progress tracking, grading, and startup recovery.
// It is the only component that touches every other component in the
// service and owns the single-instance invariant: at most one test may be
// in a non-terminal state at a time.
package orchestrator
