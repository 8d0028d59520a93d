package model

import "time"

// TestId is an opaque, unique identifier for one test instance, generated by
// the Orchestrator at admission.
type TestId string

// TestRequest is immutable once admitted.
type TestRequest struct {
	TestId             TestId
	ProfileId          ProfileId // canonical
	RequestedProfile   string    // original value supplied by the caller, pre-canonicalization
	TargetPath         string
	SizeGB             float64
	EstimatedDurationS int
	OutputArtifactPath string
}

// TestRecord is the durable, observable record of a test instance.
type TestRecord struct {
	TestRequest

	State     TestState
	StartTime time.Time
	EndTime   *time.Time // nil until terminal

	PID  *int // worker leader pid, nil before launch
	PGID *int // worker process group id, nil before launch

	Summary  *Summary
	Grading  *Grading
	ErrorMsg string // reason text, empty unless State carries an error
}

// Progress returns the derived completion estimate in [0, 100]. While
// running, it is min(95, 100 * elapsed / estimated_duration); it only
// reaches 100 once the record is in a terminal state.
func (r *TestRecord) Progress(now time.Time) float64 {
	if r.State.IsTerminal() {
		return 100
	}
	if r.State != StateRunning || r.EstimatedDurationS <= 0 {
		return 0
	}
	elapsed := now.Sub(r.StartTime).Seconds()
	pct := 100 * elapsed / float64(r.EstimatedDurationS)
	if pct > 95 {
		pct = 95
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
