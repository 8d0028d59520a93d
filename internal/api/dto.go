package api

import (
	"time"

	"github.com/jpequegn/qlabbench/internal/diskinfo"
	"github.com/jpequegn/qlabbench/internal/model"
	"github.com/jpequegn/qlabbench/internal/orchestrator"
)

// envelope is the shape every response carries: a success flag, plus an
// error string on failure.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() envelope { return envelope{Success: true} }

func fail(err error) envelope {
	return envelope{Success: false, Error: err.Error()}
}

// testResponse is the wire shape of a TestRecord plus its derived progress.
type testResponse struct {
	envelope
	TestId             model.TestId    `json:"test_id"`
	State              model.TestState `json:"state"`
	RequestedProfile   string          `json:"requested_profile"`
	Profile            model.ProfileId `json:"profile"`
	TargetPath         string          `json:"target_path"`
	SizeGB             float64         `json:"size_gb"`
	EstimatedDurationS int             `json:"estimated_duration_seconds"`
	Progress           float64         `json:"progress"`
	StartTime          time.Time       `json:"start_time"`
	EndTime            *time.Time      `json:"end_time,omitempty"`
	PID                *int            `json:"pid,omitempty"`
	PGID               *int            `json:"pgid,omitempty"`
	Summary            *model.Summary  `json:"summary,omitempty"`
	Grading            *model.Grading  `json:"grading,omitempty"`
	ErrorMsg           string          `json:"error_reason,omitempty"`
}

func fromStatus(s *orchestrator.Status) testResponse {
	return fromRecordProgress(s.TestRecord, s.Progress)
}

func fromRecordProgress(r *model.TestRecord, progress float64) testResponse {
	return testResponse{
		envelope:           ok(),
		TestId:             r.TestId,
		State:              r.State,
		RequestedProfile:   r.RequestedProfile,
		Profile:            r.ProfileId,
		TargetPath:         r.TargetPath,
		SizeGB:             r.SizeGB,
		EstimatedDurationS: r.EstimatedDurationS,
		Progress:           progress,
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		PID:                r.PID,
		PGID:               r.PGID,
		Summary:            r.Summary,
		Grading:            r.Grading,
		ErrorMsg:           r.ErrorMsg,
	}
}

func fromRecord(r *model.TestRecord) testResponse {
	return fromRecordProgress(r, r.Progress(time.Now()))
}

type startRequest struct {
	TestType string  `json:"test_type"`
	DiskPath string  `json:"disk_path"`
	SizeGB   float64 `json:"size_gb"`
}

type startResponse struct {
	envelope
	TestId             model.TestId `json:"test_id"`
	EstimatedDurationS int          `json:"estimated_duration"`
}

type disksResponse struct {
	envelope
	Disks     []diskinfo.Disk `json:"disks"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
}

type setupRequest struct {
	Action string `json:"action"`
}
