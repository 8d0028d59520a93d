// Package store is the durable, transactional record of the orchestrator's
// observable state: which tests have run, which are running, and which
// processes back them. Every public operation commits or rolls back a
// single SQLite transaction before returning; callers never receive row
// handles, only copied-out values.
package store
