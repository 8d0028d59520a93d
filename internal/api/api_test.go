package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jpequegn/qlabbench/internal/orchestrator"
	"github.com/jpequegn/qlabbench/internal/store"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "qlabbench.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orch := orchestrator.New(st, nil, t.TempDir(), nil)
	return New(orch, st, nil)
}

func TestHandleCurrent_NoTestRunning(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/test/current", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Success     bool `json:"success"`
		TestRunning bool `json:"test_running"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.TestRunning {
		t.Fatalf("got %+v", body)
	}
}

func TestHandleBackground_Empty(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/background-tests", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Success bool  `json:"success"`
		Tests   []any `json:"tests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || len(body.Tests) != 0 {
		t.Fatalf("got %+v", body)
	}
}

func TestHandleStart_InvalidProfileReturns400(t *testing.T) {
	h := newTestServer(t)

	payload := []byte(`{"test_type":"not_a_profile","disk_path":"/tmp","size_gb":1}`)
	req := httptest.NewRequest(http.MethodPost, "/api/test/start", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleStop_UnknownIdReturnsNotFound(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/test/stop/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// Get(id) on an unknown id returns the model.ErrNotFound sentinel, which
	// writeDomainError does not map to 400, so its default of 200 applies;
	// the success flag and error text report the failure.
	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if body.Error != "not found" {
		t.Errorf("got error %q, want %q", body.Error, "not found")
	}
}

func TestHandleDisks(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/disks", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success {
		t.Fatalf("got %+v", body)
	}
}
