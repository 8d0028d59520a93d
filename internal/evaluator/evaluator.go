package evaluator

import (
	"fmt"
	"sync"

	"github.com/jpequegn/qlabbench/internal/model"
)

// Evaluator grades a Summary against a profile's threshold set. The table
// can be swapped at runtime (config hot-reload) behind the mutex; a single
// Grade call always sees one consistent table.
type Evaluator struct {
	mu         sync.RWMutex
	thresholds map[model.ProfileId]Thresholds
}

// New creates an Evaluator using the built-in threshold table.
func New() *Evaluator {
	return &Evaluator{thresholds: DefaultThresholds()}
}

// NewWithThresholds creates an Evaluator using a caller-supplied threshold
// table, e.g. one loaded from configuration and merged over the defaults.
func NewWithThresholds(t map[model.ProfileId]Thresholds) *Evaluator {
	return &Evaluator{thresholds: t}
}

// SetThresholds replaces the threshold table, used when the operator's
// config file changes while the service is running.
func (e *Evaluator) SetThresholds(t map[model.ProfileId]Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds = t
}

// Grade classifies summary against profile's thresholds into a Grading.
// Grade is a pure function of its inputs and the current threshold table:
// identical (summary, profile) always produces an identical Grading.
func (e *Evaluator) Grade(summary *model.Summary, profile model.ProfileId) *model.Grading {
	e.mu.RLock()
	t, ok := e.thresholds[profile]
	e.mu.RUnlock()
	if !ok {
		t = defaultThresholds[profile]
	}

	readBW := summary.ReadBWMiBs()
	grading := &model.Grading{
		ProfileId:  profile,
		ReadBWMiBs: readBW,
		ReadLatMs:  summary.ReadLatMs,
		ReadIOPS:   summary.ReadIOPS,
		Stability:  summary.StabilityRatio,
	}

	var reasons []string
	if readBW < t.MinBWMiBs {
		reasons = append(reasons, fmt.Sprintf("read_bw_mb %.1f < min %.0f", readBW, t.MinBWMiBs))
	}
	if summary.ReadLatMs > t.MaxLatMs {
		reasons = append(reasons, fmt.Sprintf("latency %.2fms > %.1fms", summary.ReadLatMs, t.MaxLatMs))
	}
	if t.MinReadIOPS > 0 && summary.ReadIOPS < t.MinReadIOPS {
		reasons = append(reasons, fmt.Sprintf("read_iops %.0f < min %.0f", summary.ReadIOPS, t.MinReadIOPS))
	}
	if t.MinStability > 0 {
		if summary.StabilityRatio == nil {
			reasons = append(reasons, fmt.Sprintf("stability ratio unavailable, required >= %.2f", t.MinStability))
		} else if *summary.StabilityRatio < t.MinStability {
			reasons = append(reasons, fmt.Sprintf("stability %.2f < min %.2f", *summary.StabilityRatio, t.MinStability))
		}
	}

	grading.Reasons = reasons

	switch {
	case len(reasons) > 0:
		grading.Verdict = model.VerdictFail
	case t.ExcellentBWMiBs > 0 && readBW >= t.ExcellentBWMiBs && summary.ReadLatMs <= t.MaxLatMs:
		grading.Verdict = model.VerdictExcellent
	default:
		grading.Verdict = model.VerdictPass
	}

	return grading
}
