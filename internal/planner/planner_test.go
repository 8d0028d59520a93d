package planner

import (
	"errors"
	"strings"
	"testing"

	"github.com/jpequegn/qlabbench/internal/model"
)

func TestPlan_QuickMaxMix(t *testing.T) {
	p := New()
	plan, err := p.Plan(model.ProfileQuickMaxMix, DeviceContext{
		TargetPath:  "/Volumes/Scratch",
		FreeSpaceGB: 1000,
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Stanzas) != 1 {
		t.Fatalf("expected 1 stanza, got %d", len(plan.Stanzas))
	}
	if plan.EstimatedDurationS != 60 {
		t.Errorf("got estimated duration %d, want 60", plan.EstimatedDurationS)
	}
	if plan.Stanzas[0].Mix != model.MixSequentialRead {
		t.Errorf("got mix %v, want sequential read", plan.Stanzas[0].Mix)
	}
	if plan.SizeClampedWarning != "" {
		t.Errorf("unexpected clamp warning: %s", plan.SizeClampedWarning)
	}
}

func TestPlan_ProRes422Real_FourStanzas(t *testing.T) {
	p := New()
	plan, err := p.Plan(model.ProfileProRes422Real, DeviceContext{
		TargetPath:  "/Volumes/Scratch",
		FreeSpaceGB: 1000,
	}, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Stanzas) != 4 {
		t.Fatalf("expected 4 stanzas, got %d", len(plan.Stanzas))
	}
	if plan.EstimatedDurationS != 9300 {
		t.Errorf("got %d, want 9300", plan.EstimatedDurationS)
	}
	// Stanzas are ordered and layered by start delay.
	for i := 1; i < len(plan.Stanzas); i++ {
		if plan.Stanzas[i].StartDelayS < plan.Stanzas[i-1].StartDelayS {
			t.Errorf("stanza %d starts before stanza %d", i, i-1)
		}
	}
}

func TestPlan_ThermalMaximum_TwelveStepsPlusValidation(t *testing.T) {
	p := New()
	plan, err := p.Plan(model.ProfileThermalMaximum, DeviceContext{
		TargetPath:  "/Volumes/Scratch",
		FreeSpaceGB: 2000,
	}, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Stanzas) != 13 {
		t.Fatalf("expected 13 stanzas (12 steps + validation), got %d", len(plan.Stanzas))
	}
	if plan.EstimatedDurationS != 5400 {
		t.Errorf("got %d, want 5400", plan.EstimatedDurationS)
	}
	last := plan.Stanzas[len(plan.Stanzas)-1]
	if last.RateCapMiBs != 0 {
		t.Errorf("final validation phase should be unconstrained, got rate cap %d", last.RateCapMiBs)
	}
	if last.DurationS != 18*60 {
		t.Errorf("got validation duration %d, want 1080", last.DurationS)
	}
}

func TestPlan_SizeClampedToFreeSpace(t *testing.T) {
	p := New()
	plan, err := p.Plan(model.ProfileThermalMaximum, DeviceContext{
		TargetPath:  "/Volumes/Scratch",
		FreeSpaceGB: 800, // 25% = 200GB
	}, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.TotalSizeGB != 200 {
		t.Errorf("got %v, want 25%% cap of 200", plan.TotalSizeGB)
	}
	if plan.SizeClampedWarning == "" {
		t.Error("expected a clamp warning")
	}
}

func TestPlan_FloorNeverExceedsQuarterOfFreeSpace(t *testing.T) {
	p := New()
	// 25% of 800GB is 200GB; the 100GB floor raise stays under the cap.
	plan, err := p.Plan(model.ProfileThermalMaximum, DeviceContext{
		TargetPath:  "/Volumes/Scratch",
		FreeSpaceGB: 800,
	}, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.TotalSizeGB != 100 {
		t.Errorf("got %v, want floor of 100", plan.TotalSizeGB)
	}
	if plan.TotalSizeGB > 800*0.25 {
		t.Errorf("size %v exceeds 25%% of free space", plan.TotalSizeGB)
	}
}

func TestPlan_InsufficientSpaceForProfileFloor(t *testing.T) {
	p := New()
	tests := []struct {
		name        string
		freeSpaceGB float64
	}{
		// The floor must fit within the 25% ceiling, so a device with the
		// floor between 25% and 100% of its free space is just as unusable
		// as one smaller than the floor outright.
		{"floor above raw free space", 40},
		{"floor above 25% cap", 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Plan(model.ProfileThermalMaximum, DeviceContext{
				TargetPath:  "/Volumes/Tiny",
				FreeSpaceGB: tt.freeSpaceGB,
			}, 100)
			if !errors.Is(err, model.ErrInsufficientSpace) {
				t.Fatalf("got %v, want ErrInsufficientSpace", err)
			}
		})
	}
}

func TestPlan_RejectsSystemCriticalMount(t *testing.T) {
	p := New()
	for _, mount := range []string{"/", "/System", "/usr", "/usr/local", "/bin", "/sbin"} {
		_, err := p.Plan(model.ProfileQuickMaxMix, DeviceContext{
			TargetPath:  mount,
			FreeSpaceGB: 1000,
		}, 1)
		if err == nil {
			t.Errorf("expected rejection for mount %q", mount)
		}
	}
}

func TestPlan_RawDeviceUsesScratchDir(t *testing.T) {
	p := New()
	plan, err := p.Plan(model.ProfileQuickMaxMix, DeviceContext{
		TargetPath:  "/dev/disk3",
		IsRawDevice: true,
		ScratchDir:  "/tmp/qlab-scratch",
		FreeSpaceGB: 1000,
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(plan.Stanzas[0].TargetPath, "/tmp/qlab-scratch/") {
		t.Errorf("expected scratch dir target, got %q", plan.Stanzas[0].TargetPath)
	}
}

func TestPlan_InvalidProfile(t *testing.T) {
	p := New()
	_, err := p.Plan(model.ProfileId("bogus"), DeviceContext{TargetPath: "/Volumes/Scratch", FreeSpaceGB: 1000}, 1)
	if err == nil {
		t.Fatal("expected error for invalid profile")
	}
}
