package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpequegn/qlabbench/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qlabbench.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRequest(id model.TestId) model.TestRequest {
	return model.TestRequest{
		TestId:             id,
		ProfileId:          model.ProfileQuickMaxMix,
		RequestedProfile:   "quick_max_mix",
		TargetPath:         "/Volumes/scratch/qlab_test_file_0.1G",
		SizeGB:             0.1,
		EstimatedDurationS: 60,
		OutputArtifactPath: "/tmp/qlabbench/out.json",
	}
}

func TestStore_SaveStartAndGet(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")

	if err := s.SaveStart(req, 4242, 4242, time.Now()); err != nil {
		t.Fatalf("save start: %v", err)
	}

	rec, err := s.Get("test-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != model.StateStarting {
		t.Errorf("got state %v, want starting", rec.State)
	}
	if rec.PID == nil || *rec.PID != 4242 {
		t.Errorf("got pid %v, want 4242", rec.PID)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Get("no-such-test")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateState_SetsCompletedAtOnTerminal(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 1, 1, time.Now()); err != nil {
		t.Fatalf("save start: %v", err)
	}

	if err := s.UpdateState("test-1", model.StateRunning, nil, nil, ""); err != nil {
		t.Fatalf("update to running: %v", err)
	}
	rec, _ := s.Get("test-1")
	if rec.EndTime != nil {
		t.Error("expected nil EndTime for non-terminal state")
	}

	ratio := 0.9
	summary := &model.Summary{ReadBWKiBs: 614400, StabilityRatio: &ratio}
	grading := &model.Grading{Verdict: model.VerdictExcellent}
	if err := s.UpdateState("test-1", model.StateCompleted, summary, grading, ""); err != nil {
		t.Fatalf("update to completed: %v", err)
	}

	rec, err := s.Get("test-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != model.StateCompleted {
		t.Errorf("got state %v, want completed", rec.State)
	}
	if rec.EndTime == nil {
		t.Fatal("expected non-nil EndTime after terminal transition")
	}
	if rec.Summary == nil || rec.Summary.ReadBWKiBs != 614400 {
		t.Errorf("expected stored summary to round-trip, got %+v", rec.Summary)
	}
	if rec.Grading == nil || rec.Grading.Verdict != model.VerdictExcellent {
		t.Errorf("expected stored grading to round-trip, got %+v", rec.Grading)
	}
}

func TestStore_UpdateState_CompletedAtDoesNotMoveOnSecondTerminalUpdate(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 1, 1, time.Now()); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.UpdateState("test-1", model.StateCompleted, nil, nil, ""); err != nil {
		t.Fatalf("first terminal update: %v", err)
	}
	rec1, _ := s.Get("test-1")

	time.Sleep(10 * time.Millisecond)
	if err := s.UpdateState("test-1", model.StateCompleted, nil, nil, "late correction"); err != nil {
		t.Fatalf("second terminal update: %v", err)
	}
	rec2, _ := s.Get("test-1")

	if !rec1.EndTime.Equal(*rec2.EndTime) {
		t.Errorf("completed_at moved on second terminal update: %v != %v", rec1.EndTime, rec2.EndTime)
	}
}

func TestStore_UpdateState_FirstTerminalTransitionWins(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 1, 1, time.Now()); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.UpdateState("test-1", model.StateStopped, nil, nil, ""); err != nil {
		t.Fatalf("stop transition: %v", err)
	}

	// A concurrent completion racing the stop must not overwrite it.
	if err := s.UpdateState("test-1", model.StateCompleted, nil, nil, ""); err != nil {
		t.Fatalf("racing terminal update: %v", err)
	}

	rec, err := s.Get("test-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != model.StateStopped {
		t.Errorf("terminal record was overwritten: got %v, want stopped", rec.State)
	}
}

func TestStore_ListRunning_OnlyNonTerminal(t *testing.T) {
	s := setupTestStore(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(s.SaveStart(testRequest("running-1"), 1, 1, time.Now()))
	must(s.UpdateState("running-1", model.StateRunning, nil, nil, ""))

	must(s.SaveStart(testRequest("disconnected-1"), 2, 2, time.Now()))
	must(s.UpdateState("disconnected-1", model.StateDisconnected, nil, nil, ""))

	must(s.SaveStart(testRequest("completed-1"), 3, 3, time.Now()))
	must(s.UpdateState("completed-1", model.StateCompleted, nil, nil, ""))

	running, err := s.ListRunning()
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 2 {
		t.Fatalf("got %d running records, want 2", len(running))
	}
	ids := map[model.TestId]bool{}
	for _, r := range running {
		ids[r.TestId] = true
	}
	if !ids["running-1"] || !ids["disconnected-1"] {
		t.Errorf("unexpected running set: %v", ids)
	}
}

func TestStore_RecoverOrphans_LiveBecomesDisconnected(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 9999, 9999, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.UpdateState("test-1", model.StateRunning, nil, nil, ""); err != nil {
		t.Fatalf("update to running: %v", err)
	}

	recovered, err := s.RecoverOrphans(time.Minute, func(pid int) (bool, bool) {
		return true, true
	})
	if err != nil {
		t.Fatalf("recover orphans: %v", err)
	}
	if len(recovered) != 1 || recovered[0].State != model.StateDisconnected {
		t.Fatalf("expected 1 disconnected record, got %+v", recovered)
	}
}

func TestStore_RecoverOrphans_DeadBecomesFailed(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 9999, 9999, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.UpdateState("test-1", model.StateRunning, nil, nil, ""); err != nil {
		t.Fatalf("update to running: %v", err)
	}

	recovered, err := s.RecoverOrphans(time.Minute, func(pid int) (bool, bool) {
		return false, true
	})
	if err != nil {
		t.Fatalf("recover orphans: %v", err)
	}
	if len(recovered) != 1 || recovered[0].State != model.StateFailed {
		t.Fatalf("expected 1 failed record, got %+v", recovered)
	}
	if recovered[0].ErrorMsg == "" {
		t.Error("expected a non-empty orphan error message")
	}
}

func TestStore_RecoverOrphans_IndeterminateLeavesUntouched(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 9999, 9999, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.UpdateState("test-1", model.StateRunning, nil, nil, ""); err != nil {
		t.Fatalf("update to running: %v", err)
	}

	recovered, err := s.RecoverOrphans(time.Minute, func(pid int) (bool, bool) {
		return false, false
	})
	if err != nil {
		t.Fatalf("recover orphans: %v", err)
	}
	if len(recovered) != 0 {
		t.Fatalf("expected no recoveries for indeterminate probe, got %+v", recovered)
	}
	rec, _ := s.Get("test-1")
	if rec.State != model.StateRunning {
		t.Errorf("expected record to remain running, got %v", rec.State)
	}
}

func TestStore_History_NewestFirstAndTerminalOnly(t *testing.T) {
	s := setupTestStore(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(s.SaveStart(testRequest("old"), 1, 1, time.Now().Add(-time.Hour)))
	must(s.UpdateState("old", model.StateCompleted, nil, nil, ""))

	must(s.SaveStart(testRequest("new"), 2, 2, time.Now()))
	must(s.UpdateState("new", model.StateFailed, nil, nil, "boom"))

	must(s.SaveStart(testRequest("live"), 3, 3, time.Now()))
	must(s.UpdateState("live", model.StateRunning, nil, nil, ""))

	history, err := s.History(0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d history rows, want 2", len(history))
	}
	if history[0].TestId != "new" || history[1].TestId != "old" {
		t.Errorf("expected newest-first ordering, got %v then %v", history[0].TestId, history[1].TestId)
	}
}

func TestStore_Prune_RemovesOldTerminalRows(t *testing.T) {
	s := setupTestStore(t)
	req := testRequest("test-1")
	if err := s.SaveStart(req, 1, 1, time.Now().AddDate(0, 0, -30)); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.UpdateState("test-1", model.StateCompleted, nil, nil, ""); err != nil {
		t.Fatalf("update to completed: %v", err)
	}

	removed, err := s.Prune(7)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("got %d removed, want 1", removed)
	}
	if _, err := s.Get("test-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected pruned row to be gone, got %v", err)
	}
}

func TestStore_ListByStates_Background(t *testing.T) {
	s := setupTestStore(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(s.SaveStart(testRequest("disc-1"), 1, 1, time.Now()))
	must(s.UpdateState("disc-1", model.StateDisconnected, nil, nil, ""))
	must(s.SaveStart(testRequest("unk-1"), 2, 2, time.Now()))
	must(s.UpdateState("unk-1", model.StateUnknown, nil, nil, ""))
	must(s.SaveStart(testRequest("run-1"), 3, 3, time.Now()))
	must(s.UpdateState("run-1", model.StateRunning, nil, nil, ""))

	background, err := s.ListByStates(model.StateDisconnected, model.StateUnknown)
	if err != nil {
		t.Fatalf("list by states: %v", err)
	}
	if len(background) != 2 {
		t.Fatalf("got %d background records, want 2", len(background))
	}
}

func TestStore_Delete_RemovesRow(t *testing.T) {
	s := setupTestStore(t)
	if err := s.SaveStart(testRequest("test-1"), 1, 1, time.Now()); err != nil {
		t.Fatalf("save start: %v", err)
	}
	if err := s.Delete("test-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("test-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected deleted row to be gone, got %v", err)
	}
}

func TestStore_Delete_NotFound(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Delete("no-such-test"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestStore_Stats_CountsPerState(t *testing.T) {
	s := setupTestStore(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(s.SaveStart(testRequest("a"), 1, 1, time.Now()))
	must(s.UpdateState("a", model.StateRunning, nil, nil, ""))
	must(s.SaveStart(testRequest("b"), 2, 2, time.Now()))
	must(s.UpdateState("b", model.StateCompleted, nil, nil, ""))

	counts, size, err := s.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if counts[model.StateRunning] != 1 || counts[model.StateCompleted] != 1 {
		t.Errorf("got counts %v, want 1 running and 1 completed", counts)
	}
	if size <= 0 {
		t.Errorf("expected positive database size, got %d", size)
	}
}
