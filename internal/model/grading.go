package model

// Verdict is the overall grade a Summary receives against a profile's
// thresholds.
type Verdict string

const (
	VerdictExcellent Verdict = "excellent"
	VerdictPass      Verdict = "pass"
	VerdictFail      Verdict = "fail"
)

// Grading is the result of classifying a Summary against a ProfileId's
// threshold set.
type Grading struct {
	ProfileId  ProfileId `json:"profile"`
	ReadBWMiBs float64   `json:"read_bw_mib_s"`
	ReadLatMs  float64   `json:"read_lat_ms"`
	ReadIOPS   float64   `json:"read_iops"`
	Stability  *float64  `json:"stability_ratio,omitempty"`
	Verdict    Verdict   `json:"verdict"`
	Reasons    []string  `json:"reasons,omitempty"`
}
