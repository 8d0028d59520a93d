// Package supervisor owns the lifecycle of the external fio worker process:
// launching it into its own process group, waiting on it with a deadline,
// sending it graceful then forceful termination, streaming its stderr, and
// scanning the system for orphaned worker processes left behind by a crash
// or restart.
//
// Capturing stderr, reaping by process group, and orphan hunting are kept
// as methods on one Supervisor rather than split across packages so that a
// test double can stand in for all three at once.
package supervisor
