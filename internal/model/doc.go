// Package model defines the data types shared by every component of the
// benchmark orchestrator: profile identifiers, test requests/records, the
// canonical parsed performance summary, the workload plan, and the grading
// produced against a show profile's thresholds.
//
// These types are intentionally dumb: no behavior beyond canonicalization,
// validation, and small derived-value helpers (progress, supervision
// deadline, KiB/s to MiB/s conversion) lives here. The state machine, persistence, and
// process supervision that operate on them live in sibling packages
// (internal/orchestrator, internal/store, internal/supervisor, ...).
package model
