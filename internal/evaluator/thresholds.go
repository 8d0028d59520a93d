package evaluator

import "github.com/jpequegn/qlabbench/internal/model"

// Thresholds is one profile's pass/fail criteria, all in MiB/s, ms, or
// ratios. A zero RecBWMiBs/ExcellentBWMiBs means that rung is not defined
// for the profile (thermal_maximum has no recommended/excellent tier).
type Thresholds struct {
	MinBWMiBs       float64
	RecBWMiBs       float64
	ExcellentBWMiBs float64 // 0 = undefined
	MaxLatMs        float64
	MinReadIOPS     float64 // 0 = no IOPS requirement
	MinStability    float64 // 0 = no stability requirement
}

// defaultThresholds is the built-in pass/fail table, one entry per profile.
// Orchestrators may override individual fields via configuration (see
// internal/cmd), but the defaults here are always the starting point.
var defaultThresholds = map[model.ProfileId]Thresholds{
	model.ProfileQuickMaxMix: {
		MinBWMiBs: 300, RecBWMiBs: 500, ExcellentBWMiBs: 600,
		MaxLatMs: 2.0, MinReadIOPS: 20000,
	},
	model.ProfileProRes422Real: {
		MinBWMiBs: 350, RecBWMiBs: 500, ExcellentBWMiBs: 600,
		MaxLatMs: 3.0,
	},
	model.ProfileProRes422HQReal: {
		MinBWMiBs: 700, RecBWMiBs: 1000, ExcellentBWMiBs: 1200,
		MaxLatMs: 3.0,
	},
	model.ProfileThermalMaximum: {
		MinBWMiBs: 400, MaxLatMs: 3.0, MinStability: 0.70,
	},
}

// DefaultThresholds returns a copy of the built-in threshold table keyed by
// canonical ProfileId.
func DefaultThresholds() map[model.ProfileId]Thresholds {
	out := make(map[model.ProfileId]Thresholds, len(defaultThresholds))
	for k, v := range defaultThresholds {
		out[k] = v
	}
	return out
}
