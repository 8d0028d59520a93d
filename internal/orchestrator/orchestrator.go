package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jpequegn/qlabbench/internal/evaluator"
	"github.com/jpequegn/qlabbench/internal/fioparser"
	"github.com/jpequegn/qlabbench/internal/model"
	"github.com/jpequegn/qlabbench/internal/planner"
	"github.com/jpequegn/qlabbench/internal/resolver"
	"github.com/jpequegn/qlabbench/internal/store"
	"github.com/jpequegn/qlabbench/internal/supervisor"
)

// planBuilder is the subset of *planner.Planner the orchestrator depends
// on; tests substitute a fake to control plan duration and size directly.
type planBuilder interface {
	Plan(profile model.ProfileId, dev planner.DeviceContext, requestedSizeGB float64) (*model.WorkloadPlan, error)
}

// Orchestrator implements the public test lifecycle: admission control,
// launch, progress, grading, and startup recovery. It is the only
// component with a dependency on every other component.
type Orchestrator struct {
	store       *store.Store
	plan        planBuilder
	grade       *evaluator.Evaluator
	proc        *supervisor.Supervisor
	artifactDir string
	log         *slog.Logger

	resolveWorker func(ctx context.Context) (*resolver.Worker, error)
	buildArgs     func(plan *model.WorkloadPlan, outputPath string) []string
	newTestID     func() model.TestId
	deviceCtx     func(targetPath string) (planner.DeviceContext, error)

	// mu serializes admission: the check of the current-test slot and the
	// SaveStart that claims it must be one atomic step, or two concurrent
	// Start calls could both pass the check and both spawn a worker.
	mu      sync.Mutex
	running *runningSet
}

// New constructs an Orchestrator wired to real collaborators. A nil eval
// falls back to the built-in threshold table.
func New(st *store.Store, eval *evaluator.Evaluator, artifactDir string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if eval == nil {
		eval = evaluator.New()
	}
	res := resolver.New()
	return &Orchestrator{
		store:         st,
		plan:          planner.New(),
		grade:         eval,
		proc:          supervisor.New(),
		artifactDir:   artifactDir,
		log:           log,
		resolveWorker: res.Resolve,
		buildArgs:     buildFioArgs,
		newTestID:     func() model.TestId { return model.TestId(uuid.NewString()) },
		deviceCtx:     deviceContext,
		running:       newRunningSet(),
	}
}

// Start admits a new test request. It fails with *model.Rejected if any
// test is already starting, running, or disconnected.
func (o *Orchestrator) Start(ctx context.Context, requestedProfile, targetPath string, sizeGB float64) (*model.TestRecord, error) {
	// Validation, planning, and the worker probe don't touch the current-test
	// slot and stay outside the admission lock; the probe in particular can
	// block for seconds.
	profile, err := model.CanonicalizeProfile(requestedProfile)
	if err != nil {
		return nil, err
	}

	dev, err := o.deviceCtx(targetPath)
	if err != nil {
		return nil, &model.InvalidRequest{Reason: err.Error()}
	}

	workPlan, err := o.plan.Plan(profile, dev, sizeGB)
	if err != nil {
		return nil, err
	}

	worker, err := o.resolveWorker(ctx)
	if err != nil {
		return nil, err
	}

	// The check of the current-test slot and the SaveStart that claims it
	// must happen under one lock, or a concurrent Start could pass the check
	// too and spawn a second worker.
	o.mu.Lock()
	defer o.mu.Unlock()

	inFlight, err := o.store.ListRunning()
	if err != nil {
		return nil, fmt.Errorf("check admission: %w", err)
	}
	if len(inFlight) > 0 {
		return nil, &model.Rejected{Reason: "already running"}
	}

	testID := o.newTestID()
	if err := os.MkdirAll(o.artifactDir, 0o755); err != nil {
		return nil, &model.LaunchError{Cause: fmt.Errorf("create artifact dir: %w", err)}
	}
	outputPath := filepath.Join(o.artifactDir, string(testID)+".json")
	stdoutPath := filepath.Join(o.artifactDir, string(testID)+".stdout.log")

	args := o.buildArgs(workPlan, outputPath)
	handle, err := o.proc.Launch(ctx, worker.Path, args, workerEnv(os.TempDir()), "", stdoutPath)
	if err != nil {
		return nil, err
	}

	targetFile := targetPath
	if len(workPlan.Stanzas) > 0 {
		targetFile = workPlan.Stanzas[0].TargetPath
	}

	req := model.TestRequest{
		TestId:             testID,
		ProfileId:          profile,
		RequestedProfile:   requestedProfile,
		TargetPath:         targetFile,
		SizeGB:             workPlan.TotalSizeGB,
		EstimatedDurationS: workPlan.EstimatedDurationS,
		OutputArtifactPath: outputPath,
	}

	startTime := time.Now()
	if err := o.store.SaveStart(req, handle.PID, handle.PGID, startTime); err != nil {
		_ = o.proc.Kill(handle)
		return nil, fmt.Errorf("persist test start: %w", err)
	}
	if err := o.store.UpdateState(testID, model.StateRunning, nil, nil, ""); err != nil {
		o.log.Error("failed to transition to running", "test_id", testID, "error", err)
	}

	entry := &runningEntry{handle: handle, done: make(chan struct{})}
	o.running.put(testID, entry)

	go o.supervise(testID, entry, workPlan, outputPath, stdoutPath)

	return o.store.Get(testID)
}

// stderrTailLines bounds the excerpt of worker stderr kept for failure
// reporting.
const stderrTailLines = 10

// supervise owns a launched worker until it reaches a terminal state: it
// streams stderr for the failure excerpt, waits with the plan's supervision
// deadline, ingests output on a clean exit, and classifies every other
// outcome.
func (o *Orchestrator) supervise(id model.TestId, entry *runningEntry, plan *model.WorkloadPlan, outputPath, stdoutPath string) {
	defer close(entry.done)
	defer o.running.delete(id)

	tailCh := make(chan []string, 1)
	go func() {
		var tail []string
		for line := range o.proc.StreamStderr(context.Background(), entry.handle) {
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
		tailCh <- tail
	}()

	result, err := o.proc.Wait(entry.handle, plan.SupervisionDeadline())
	if err != nil {
		o.finish(id, model.StateFailed, nil, nil, err.Error())
		return
	}

	// The stderr stream closes with the worker; give it a moment to drain.
	var stderrTail []string
	select {
	case stderrTail = <-tailCh:
	case <-time.After(time.Second):
	}

	switch result.Outcome {
	case supervisor.KilledByTimeout:
		o.finish(id, model.StateTimeout, nil, nil, (&model.DeadlineExceeded{DeadlineS: int(plan.SupervisionDeadline().Seconds())}).Error())
		return
	case supervisor.KilledBySignal:
		if entry.stopRequested.Load() {
			o.finish(id, model.StateStopped, nil, nil, "")
		} else {
			o.finish(id, model.StateFailed, nil, nil, "worker terminated by signal")
		}
		return
	}

	if result.Code != 0 {
		o.finish(id, model.StateFailed, nil, nil, (&model.WorkerFailed{
			ReturnCode: result.Code,
			StderrTail: strings.Join(stderrTail, "\n"),
		}).Error())
		return
	}

	// Prefer the JSON artifact fio wrote via --output; fall back to the
	// captured stdout if the artifact never appeared.
	raw, err := os.ReadFile(outputPath)
	if err != nil || len(raw) == 0 {
		raw, err = os.ReadFile(stdoutPath)
		if err != nil {
			o.finish(id, model.StateFailed, nil, nil, fmt.Sprintf("read worker output: %v", err))
			return
		}
	}

	summary, err := fioparser.Parse(raw)
	if err != nil {
		o.finish(id, model.StateFailed, nil, nil, err.Error())
		return
	}

	grading := o.grade.Grade(summary, plan.ProfileId)
	o.finish(id, model.StateCompleted, summary, grading, "")
	o.recordSummaryMetrics(id, summary)

	// The artifact is owned by the orchestrator and deleted once ingested.
	_ = os.Remove(outputPath)
	_ = os.Remove(stdoutPath)
}

// recordSummaryMetrics appends the headline numbers of a completed run to
// the per-test time series.
func (o *Orchestrator) recordSummaryMetrics(id model.TestId, s *model.Summary) {
	samples := []struct {
		name  string
		value float64
		unit  string
	}{
		{"read_bw", s.ReadBWKiBs, "KiB/s"},
		{"write_bw", s.WriteBWKiBs, "KiB/s"},
		{"read_iops", s.ReadIOPS, "iops"},
		{"read_lat", s.ReadLatMs, "ms"},
	}
	for _, m := range samples {
		if err := o.store.RecordMetric(id, m.name, m.value, m.unit); err != nil {
			o.log.Warn("failed to record metric", "test_id", id, "name", m.name, "error", err)
			return
		}
	}
}

func (o *Orchestrator) finish(id model.TestId, state model.TestState, summary *model.Summary, grading *model.Grading, errMsg string) {
	if err := o.store.UpdateState(id, state, summary, grading, errMsg); err != nil {
		o.log.Error("failed to record terminal state", "test_id", id, "state", state, "error", err)
	}
}

// Stop terminates a running test's worker process group, sweeps for
// detached orphans, and records it as stopped. It is idempotent on
// already-terminal records.
func (o *Orchestrator) Stop(ctx context.Context, id model.TestId) error {
	rec, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if rec.State.IsTerminal() {
		return model.ErrNotStoppable
	}

	entry, ok := o.running.get(id)
	if !ok {
		return model.ErrNotStoppable
	}
	entry.stopRequested.Store(true)

	if err := o.proc.Terminate(entry.handle); err != nil {
		o.log.Warn("terminate returned an error", "test_id", id, "error", err)
	}

	select {
	case <-entry.done:
	case <-time.After(30 * time.Second):
		o.log.Error("timed out waiting for supervised process to reap", "test_id", id)
	}

	o.sweepOrphans(ctx, rec.OutputArtifactPath)

	return nil
}

// StopAll stops every currently non-terminal test and returns their ids.
func (o *Orchestrator) StopAll(ctx context.Context) ([]model.TestId, error) {
	running, err := o.store.ListRunning()
	if err != nil {
		return nil, err
	}
	var stopped []model.TestId
	for _, rec := range running {
		if err := o.Stop(ctx, rec.TestId); err != nil {
			o.log.Warn("stop failed during StopAll", "test_id", rec.TestId, "error", err)
			continue
		}
		stopped = append(stopped, rec.TestId)
	}
	return stopped, nil
}

// Status returns a test's record with its derived progress estimate.
func (o *Orchestrator) Status(id model.TestId) (*Status, error) {
	rec, err := o.store.Get(id)
	if err != nil {
		return nil, err
	}
	return &Status{TestRecord: rec, Progress: rec.Progress(time.Now())}, nil
}

// Current returns the single non-terminal test record, if any.
func (o *Orchestrator) Current() (*Status, error) {
	running, err := o.store.ListRunning()
	if err != nil {
		return nil, err
	}
	if len(running) == 0 {
		return nil, nil
	}
	rec := running[0]
	return &Status{TestRecord: rec, Progress: rec.Progress(time.Now())}, nil
}

// Background returns disconnected/unknown records left over from a restart.
func (o *Orchestrator) Background() ([]*model.TestRecord, error) {
	return o.store.ListByStates(model.StateDisconnected, model.StateUnknown)
}

// CleanupBackground removes a background record (or all of them, if id is
// empty) after sweeping for and killing any orphaned worker processes.
func (o *Orchestrator) CleanupBackground(ctx context.Context, id model.TestId) (removed int, killedPids int, err error) {
	targets, err := o.Background()
	if err != nil {
		return 0, 0, err
	}
	if id != "" {
		var filtered []*model.TestRecord
		for _, rec := range targets {
			if rec.TestId == id {
				filtered = append(filtered, rec)
			}
		}
		targets = filtered
	}

	for _, rec := range targets {
		killedPids += o.sweepOrphans(ctx, rec.OutputArtifactPath)
		if err := o.store.Delete(rec.TestId); err != nil {
			o.log.Error("failed to delete background record", "test_id", rec.TestId, "error", err)
			continue
		}
		removed++
	}
	return removed, killedPids, nil
}

// Recover runs the startup reconciliation pass: every non-terminal record
// left over from a prior process is probed for liveness and resolved into
// disconnected, failed, or unknown, per the restart-recovery policy.
func (o *Orchestrator) Recover(ctx context.Context) error {
	// The store resolves running records with a recorded pid: live pids
	// become disconnected, dead ones failed.
	recovered, err := o.store.RecoverOrphans(0, func(pid int) (bool, bool) {
		return processAlive(pid), true
	})
	if err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}
	for _, rec := range recovered {
		if rec.State != model.StateFailed {
			continue
		}
		o.sweepOrphans(ctx, rec.OutputArtifactPath)
	}

	// What remains non-terminal is either stuck in starting or has no pid
	// on record at all.
	running, err := o.store.ListRunning()
	if err != nil {
		return fmt.Errorf("list running after recovery: %w", err)
	}
	for _, rec := range running {
		if rec.State != model.StateRunning && rec.State != model.StateStarting {
			continue
		}
		if rec.PID == nil {
			if err := o.store.UpdateState(rec.TestId, model.StateUnknown, nil, nil, "no pid recorded at restart"); err != nil {
				o.log.Error("failed to mark record unknown", "test_id", rec.TestId, "error", err)
			}
			continue
		}
		if processAlive(*rec.PID) {
			if err := o.store.UpdateState(rec.TestId, model.StateDisconnected, nil, nil, ""); err != nil {
				o.log.Error("failed to mark record disconnected", "test_id", rec.TestId, "error", err)
			}
			continue
		}

		o.sweepOrphans(ctx, rec.OutputArtifactPath)
		if err := o.store.UpdateState(rec.TestId, model.StateFailed, nil, nil, "orphaned during restart"); err != nil {
			o.log.Error("failed to mark record failed", "test_id", rec.TestId, "error", err)
		}
	}
	return nil
}

// sweepOrphans kills any still-running worker process whose command line
// references the given output artifact path, returning how many were killed.
func (o *Orchestrator) sweepOrphans(ctx context.Context, outputPath string) int {
	if outputPath == "" {
		return 0
	}
	orphans, err := o.proc.FindOrphans(ctx, outputPath)
	if err != nil {
		o.log.Warn("orphan scan failed", "error", err)
		return 0
	}
	killed := 0
	for _, pid := range orphans {
		if err := o.proc.KillPID(int(pid)); err == nil {
			killed++
		}
	}
	return killed
}

func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil
}
