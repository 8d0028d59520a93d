package planner

import "github.com/jpequegn/qlabbench/internal/model"

// sizeFloorGB is the minimum requested test size enforced per profile,
// applied after (not instead of) the 25%-of-free-space clamp.
var sizeFloorGB = map[model.ProfileId]float64{
	model.ProfileQuickMaxMix:     0.1,
	model.ProfileProRes422Real:   50,
	model.ProfileProRes422HQReal: 50,
	model.ProfileThermalMaximum:  100,
}

// thermalRateCapsMiBs is the graduated rate-cap ladder for thermal_maximum,
// each held for six minutes before stepping up.
var thermalRateCapsMiBs = []int{500, 750, 1000, 1250, 1500, 1750, 2000, 2500, 3000, 3500, 4000, 5000}

// buildStanzas returns the fixed stanza template for a canonical profile.
// targetPath has already been resolved to the concrete worker target file.
func buildStanzas(profile model.ProfileId, targetPath string) []model.JobStanza {
	switch profile {
	case model.ProfileQuickMaxMix:
		return []model.JobStanza{
			{
				Name:               "quick_read",
				Mix:                model.MixSequentialRead,
				BlockSizeKiB:       4096,
				QueueDepth:         32,
				NumThreads:         1,
				DurationS:          60,
				TargetPath:         targetPath,
				EstimatedDurationS: 60,
			},
		}

	case model.ProfileProRes422Real:
		return showStanzas(targetPath, 450, 800, 2048)

	case model.ProfileProRes422HQReal:
		return showStanzas(targetPath, 900, 1600, 4096)

	case model.ProfileThermalMaximum:
		return thermalStanzas(targetPath)
	}
	return nil
}

// showStanzas builds the four-phase realistic show template shared by the
// two prores profiles, parameterised by warmup/sustained/finale rates.
func showStanzas(targetPath string, warmupMiBs, sustainedMiBs, finaleMiBs int) []model.JobStanza {
	const (
		warmupS  = 30 * 60
		sustainS = 90 * 60
		finaleS  = 30 * 60
		cueS     = 5 * 60
	)
	return []model.JobStanza{
		{
			Name:               "warmup",
			Mix:                model.MixReadWrite,
			ReadWriteMix:       80,
			BlockSizeKiB:       1024,
			QueueDepth:         8,
			NumThreads:         2,
			RateCapMiBs:        warmupMiBs,
			DurationS:          warmupS,
			StartDelayS:        0,
			TargetPath:         targetPath,
			EstimatedDurationS: warmupS,
		},
		{
			Name:               "sustained_show",
			Mix:                model.MixReadWrite,
			ReadWriteMix:       90,
			BlockSizeKiB:       2048,
			QueueDepth:         16,
			NumThreads:         4,
			RateCapMiBs:        sustainedMiBs,
			DurationS:          sustainS,
			StartDelayS:        warmupS,
			PoissonArrivals:    true,
			TargetPath:         targetPath,
			EstimatedDurationS: sustainS,
		},
		{
			Name:               "finale",
			Mix:                model.MixSequentialRead,
			BlockSizeKiB:       4096,
			QueueDepth:         32,
			NumThreads:         4,
			RateCapMiBs:        finaleMiBs,
			DurationS:          finaleS,
			StartDelayS:        warmupS + sustainS,
			TargetPath:         targetPath,
			EstimatedDurationS: finaleS,
		},
		{
			Name:               "cue_response",
			Mix:                model.MixRandomRead,
			BlockSizeKiB:       64,
			QueueDepth:         4,
			NumThreads:         8,
			DurationS:          cueS,
			StartDelayS:        warmupS + sustainS + finaleS,
			TargetPath:         targetPath,
			EstimatedDurationS: cueS,
		},
	}
}

// thermalStanzas builds the twelve graduated sustained-read phases followed
// by an 18-minute unconstrained validation phase.
func thermalStanzas(targetPath string) []model.JobStanza {
	const phaseS = 6 * 60
	stanzas := make([]model.JobStanza, 0, len(thermalRateCapsMiBs)+1)
	delay := 0
	for _, rateCap := range thermalRateCapsMiBs {
		stanzas = append(stanzas, model.JobStanza{
			Name:               "thermal_step",
			Mix:                model.MixSequentialRead,
			BlockSizeKiB:       1024,
			QueueDepth:         16,
			NumThreads:         2,
			RateCapMiBs:        rateCap,
			DurationS:          phaseS,
			StartDelayS:        delay,
			TargetPath:         targetPath,
			EstimatedDurationS: phaseS,
		})
		delay += phaseS
	}
	const validationS = 18 * 60
	stanzas = append(stanzas, model.JobStanza{
		Name:               "unconstrained_validation",
		Mix:                model.MixSequentialRead,
		BlockSizeKiB:       4096,
		QueueDepth:         32,
		NumThreads:         4,
		DurationS:          validationS,
		StartDelayS:        delay,
		TargetPath:         targetPath,
		EstimatedDurationS: validationS,
	})
	return stanzas
}
