package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jpequegn/qlabbench/internal/model"
)

// probeTimeout bounds the version/capability probes; both are external
// command invocations and must never block the orchestrator's admission
// path for long.
const probeTimeout = 5 * time.Second

// defaultCandidates is the ordered search list: vendored-with-app path
// first, then system package-manager install prefixes, then $PATH.
var defaultCandidates = []string{
	"./bin/fio",
	"/opt/homebrew/bin/fio",
	"/usr/local/bin/fio",
	"/usr/bin/fio",
}

// Worker describes a resolved fio binary.
type Worker struct {
	Path             string
	Version          string
	SupportsJSONMode bool
}

// Resolver locates the worker binary.
type Resolver struct {
	candidates []string
	lookPath   func(string) (string, error)
	runProbe   func(ctx context.Context, path string, args ...string) (string, error)
}

// New creates a Resolver with the default candidate search order.
func New() *Resolver {
	return &Resolver{
		candidates: defaultCandidates,
		lookPath:   exec.LookPath,
		runProbe:   runProbe,
	}
}

func runProbe(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// Resolve searches the candidate list in order and returns the first
// candidate that exists, is executable, responds to a version probe, and
// advertises JSON output capability in its help text.
func (r *Resolver) Resolve(ctx context.Context) (*Worker, error) {
	// failedProbe remembers the last candidate that existed but flunked the
	// probe, to distinguish "nothing installed" from "installed but unusable".
	var failedProbe string
	for _, candidate := range r.candidates {
		if !fileExecutable(candidate) {
			continue
		}
		if w, ok := r.probe(ctx, candidate); ok {
			return w, nil
		}
		failedProbe = candidate
	}

	if found, err := r.lookPath("fio"); err == nil {
		if w, ok := r.probe(ctx, found); ok {
			return w, nil
		}
		failedProbe = found
	}

	if failedProbe == "" {
		return nil, fmt.Errorf("%w: no fio binary found in %v or $PATH; install it with your platform package manager (e.g. \"brew install fio\" or \"apt-get install fio\")",
			model.ErrWorkerMissing, r.candidates)
	}
	return nil, fmt.Errorf("%w: %s exists but failed the capability probe; reinstall fio with your platform package manager",
		model.ErrWorkerUnusable, failedProbe)
}

// probe runs the version and capability checks against one candidate path.
// It returns ok=false (never an error) so Resolve can keep trying the next
// candidate; a hard error is only returned once every candidate is exhausted.
func (r *Resolver) probe(ctx context.Context, path string) (*Worker, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	versionOut, err := r.runProbe(probeCtx, path, "--version")
	if err != nil {
		return nil, false
	}

	helpCtx, cancel2 := context.WithTimeout(ctx, probeTimeout)
	defer cancel2()
	helpOut, err := r.runProbe(helpCtx, path, "--help")
	if err != nil {
		return nil, false
	}
	if !strings.Contains(helpOut, "--output-format") {
		return nil, false
	}

	return &Worker{
		Path:             path,
		Version:          strings.TrimSpace(versionOut),
		SupportsJSONMode: true,
	}, true
}

func fileExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
