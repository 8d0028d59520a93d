package cmd

import (
	"github.com/spf13/viper"

	"github.com/jpequegn/qlabbench/internal/evaluator"
	"github.com/jpequegn/qlabbench/internal/model"
)

// loadThresholds merges any thresholds.<profile>.* overrides from the
// config file over the built-in grading table. A zero or missing override
// leaves the built-in value in place, so a config file only needs to name
// the fields it wants to change.
func loadThresholds() map[model.ProfileId]evaluator.Thresholds {
	table := evaluator.DefaultThresholds()
	for profile, t := range table {
		key := "thresholds." + string(profile)
		if !viper.IsSet(key) {
			continue
		}
		if v := viper.GetFloat64(key + ".min_bw"); v > 0 {
			t.MinBWMiBs = v
		}
		if v := viper.GetFloat64(key + ".rec_bw"); v > 0 {
			t.RecBWMiBs = v
		}
		if v := viper.GetFloat64(key + ".excellent_bw"); v > 0 {
			t.ExcellentBWMiBs = v
		}
		if v := viper.GetFloat64(key + ".max_lat_ms"); v > 0 {
			t.MaxLatMs = v
		}
		if v := viper.GetFloat64(key + ".min_read_iops"); v > 0 {
			t.MinReadIOPS = v
		}
		if v := viper.GetFloat64(key + ".min_stability"); v > 0 {
			t.MinStability = v
		}
		table[profile] = t
	}
	return table
}
