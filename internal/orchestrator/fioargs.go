package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/jpequegn/qlabbench/internal/model"
	"github.com/jpequegn/qlabbench/internal/planner"
)

// packageManagerPrefixes are prepended to the worker's PATH so fio can find
// helper binaries installed alongside it.
var packageManagerPrefixes = []string{"/opt/homebrew/bin", "/usr/local/bin"}

// buildFioArgs translates a WorkloadPlan into a single fio invocation: JSON
// output mode, the artifact file fio writes its report to, then one --name
// section per stanza, with that stanza's options following it until the
// next --name, per fio's command-line job syntax.
func buildFioArgs(plan *model.WorkloadPlan, outputPath string) []string {
	args := []string{"--output-format=json", "--output=" + outputPath}
	for _, st := range plan.Stanzas {
		args = append(args,
			"--name="+st.Name,
			"--filename="+st.TargetPath,
			"--rw="+string(st.Mix),
			fmt.Sprintf("--bs=%dk", st.BlockSizeKiB),
			fmt.Sprintf("--iodepth=%d", st.QueueDepth),
			fmt.Sprintf("--numjobs=%d", st.NumThreads),
			fmt.Sprintf("--runtime=%d", st.DurationS),
			"--time_based",
		)
		if st.Mix == model.MixReadWrite && st.ReadWriteMix > 0 {
			args = append(args, fmt.Sprintf("--rwmixread=%d", st.ReadWriteMix))
		}
		if st.RateCapMiBs > 0 {
			args = append(args, fmt.Sprintf("--rate=%dm", st.RateCapMiBs))
		}
		if st.StartDelayS > 0 {
			args = append(args, fmt.Sprintf("--startdelay=%d", st.StartDelayS))
		}
		if st.PoissonArrivals {
			// Approximates bursty cue-triggered access: submissions within
			// the rate cap follow a Poisson process rather than an evenly
			// paced stream.
			args = append(args, "--rate_process=poisson")
		}
	}
	return args
}

// workerEnv builds the worker's environment: fio's shared-memory features
// are disabled (they fail on sandboxed macOS builds), TMPDIR points at a
// scratch directory, and PATH is prefixed with the package-manager install
// prefixes so fio's helpers resolve.
func workerEnv(scratchDir string) []string {
	env := make([]string, 0, len(os.Environ())+2)
	path := os.Getenv("PATH")
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "TMPDIR=") || strings.HasPrefix(kv, "PATH=") || strings.HasPrefix(kv, "FIO_DISABLE_SHM=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"FIO_DISABLE_SHM=1",
		"TMPDIR="+scratchDir,
		"PATH="+strings.Join(packageManagerPrefixes, ":")+":"+path,
	)
	return env
}

// deviceContext builds a planner.DeviceContext for targetPath using
// gopsutil's disk usage report for free-space accounting.
func deviceContext(targetPath string) (planner.DeviceContext, error) {
	isRaw := isRawDevicePath(targetPath)
	statPath := targetPath
	if isRaw {
		statPath = os.TempDir()
	}

	usage, err := disk.Usage(statPath)
	if err != nil {
		return planner.DeviceContext{}, fmt.Errorf("stat target path %q: %w", targetPath, err)
	}

	return planner.DeviceContext{
		TargetPath:  targetPath,
		IsRawDevice: isRaw,
		ScratchDir:  os.TempDir(),
		FreeSpaceGB: float64(usage.Free) / (1024 * 1024 * 1024),
	}, nil
}

// isRawDevicePath recognizes the deprecated raw-device input form; real
// volume mounts are ordinary filesystem paths.
func isRawDevicePath(path string) bool {
	return strings.HasPrefix(path, "/dev/")
}
