package model

// Summary is the canonical, unit-normalised parsed performance result of one
// worker invocation. Bandwidths are fixed at KiB/s, latencies are mean
// milliseconds, and all fields are non-negative: a missing value is
// represented as zero, never a sentinel.
type Summary struct {
	ReadBWKiBs   float64 `json:"read_bw_kibs"`
	WriteBWKiBs  float64 `json:"write_bw_kibs"`
	ReadIOPS     float64 `json:"read_iops"`
	WriteIOPS    float64 `json:"write_iops"`
	ReadLatMs    float64 `json:"read_lat_ms"`
	WriteLatMs   float64 `json:"write_lat_ms"`
	MaxRuntimeMs float64 `json:"max_runtime_ms"`

	// StabilityRatio is Σ per-job bw_min / Σ per-job bw_mean, or nil if no
	// job reported both bw_min and bw_mean.
	StabilityRatio *float64 `json:"stability_ratio,omitempty"`
}

// ReadBWMiBs is the read bandwidth expressed in MiB/s, the unit the Profile
// Evaluator's thresholds are defined in.
func (s *Summary) ReadBWMiBs() float64 {
	return s.ReadBWKiBs / 1024
}

// WriteBWMiBs is the write bandwidth expressed in MiB/s.
func (s *Summary) WriteBWMiBs() float64 {
	return s.WriteBWKiBs / 1024
}
