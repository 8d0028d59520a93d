package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jpequegn/qlabbench/internal/model"
)

// estimatedDurations is the total plan wall-clock used for the supervision
// timeout, independent of the size clamp.
var estimatedDurations = map[model.ProfileId]int{
	model.ProfileQuickMaxMix:     60,
	model.ProfileProRes422Real:   9300,
	model.ProfileProRes422HQReal: 9300,
	model.ProfileThermalMaximum:  5400,
}

// systemCriticalMounts are volume roots the planner refuses to target.
var systemCriticalMounts = []string{"/", "/System", "/usr", "/bin", "/sbin"}

// DeviceContext describes the target disk the planner needs to reason
// about: how the caller wants to address it, and how much free space is
// available (supplied by the out-of-scope disk-enumeration collaborator).
type DeviceContext struct {
	// TargetPath is either a mounted volume path or a raw-device path.
	TargetPath string
	// IsRawDevice indicates a deprecated raw-device input; the test file is
	// placed in a scratch directory instead of on the device itself.
	IsRawDevice bool
	// ScratchDir is used when IsRawDevice is true.
	ScratchDir string
	// FreeSpaceGB is the device's reported free space.
	FreeSpaceGB float64
}

// Planner translates a profile + device context + requested size into a
// WorkloadPlan.
type Planner struct{}

// New creates a Planner. Profiles are fixed templates; there is no
// configuration to inject.
func New() *Planner {
	return &Planner{}
}

// Plan builds a WorkloadPlan for profile against dev, clamping the
// requested size to at most 25% of free space (subject to a per-profile
// floor) and rejecting system-critical mount targets.
func (p *Planner) Plan(profile model.ProfileId, dev DeviceContext, requestedSizeGB float64) (*model.WorkloadPlan, error) {
	if !profile.IsCanonical() {
		return nil, &model.InvalidRequest{Reason: fmt.Sprintf("unknown profile %q", profile)}
	}
	if err := checkNotSystemCritical(dev.TargetPath); err != nil {
		return nil, err
	}

	// The 25%-of-free-space cap is a hard ceiling: a profile whose floor
	// doesn't fit under it cannot run on this device at all.
	floor := sizeFloorGB[profile]
	maxAllowed := dev.FreeSpaceGB * 0.25
	if floor > maxAllowed {
		return nil, fmt.Errorf("%w: profile %s needs at least %.1fGB but only %.1fGB (25%% of %.1fGB free) may be used",
			model.ErrInsufficientSpace, profile, floor, maxAllowed, dev.FreeSpaceGB)
	}
	sizeGB, warning := clampSize(requestedSizeGB, dev.FreeSpaceGB, floor)

	targetFile := resolveTargetFile(dev, sizeGB)

	plan := &model.WorkloadPlan{
		ProfileId:          profile,
		Stanzas:            buildStanzas(profile, targetFile),
		TotalSizeGB:        sizeGB,
		EstimatedDurationS: estimatedDurations[profile],
		SizeClampedWarning: warning,
	}
	return plan, nil
}

// clampSize enforces the ≤25%-of-free-space rule with a per-profile floor,
// returning a warning string whenever the size differs from the request
// (reduced to the cap or raised to the floor).
func clampSize(requestedGB, freeSpaceGB, floorGB float64) (float64, string) {
	maxAllowed := freeSpaceGB * 0.25
	size := requestedGB
	if size > maxAllowed {
		size = maxAllowed
	}
	if size < floorGB {
		size = floorGB
	}
	if size != requestedGB {
		return size, fmt.Sprintf(
			"requested size %.2fGB clamped to %.2fGB (25%% of %.2fGB free space, floor %.2fGB)",
			requestedGB, size, freeSpaceGB, floorGB)
	}
	return size, ""
}

// resolveTargetFile applies the target-file policy: a file on the volume
// itself for mounted paths, or a file in a scratch directory for deprecated
// raw-device inputs.
func resolveTargetFile(dev DeviceContext, sizeGB float64) string {
	name := fmt.Sprintf("qlab_test_file_%gG", sizeGB)
	if dev.IsRawDevice {
		return filepath.Join(dev.ScratchDir, name)
	}
	return filepath.Join(dev.TargetPath, name)
}

// checkNotSystemCritical rejects targets under a system-critical mount
// point.
func checkNotSystemCritical(targetPath string) error {
	clean := filepath.Clean(targetPath)
	for _, critical := range systemCriticalMounts {
		if clean == critical || (critical != "/" && strings.HasPrefix(clean, critical+"/")) {
			return &model.InvalidRequest{Reason: fmt.Sprintf("target path %q is on a system-critical mount (%s)", targetPath, critical)}
		}
	}
	return nil
}
