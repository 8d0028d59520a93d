// Package api implements a small loopback-only JSON surface over the
// Orchestrator, built with chi and permissive CORS, for a browser UI that
// lives outside this repository. The bridge owns no domain logic beyond
// decoding requests and encoding Orchestrator results.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/jpequegn/qlabbench/internal/diskinfo"
	"github.com/jpequegn/qlabbench/internal/model"
	"github.com/jpequegn/qlabbench/internal/orchestrator"
	"github.com/jpequegn/qlabbench/internal/resolver"
	"github.com/jpequegn/qlabbench/internal/store"
	"github.com/jpequegn/qlabbench/internal/trend"
)

// Server holds the collaborators the HTTP bridge dispatches to.
type Server struct {
	orch  *orchestrator.Orchestrator
	store *store.Store
	res   *resolver.Resolver
	log   *slog.Logger
}

// New wires a Server and returns its chi router, ready to be served.
func New(orch *orchestrator.Orchestrator, st *store.Store, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{orch: orch, store: st, res: resolver.New(), log: log}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.logRequests)

	r.Get("/api/disks", s.handleDisks)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/validate", s.handleValidate)
	r.Get("/api/test/current", s.handleCurrent)
	r.Get("/api/test/trend/{profile}", s.handleTrend)
	r.Get("/api/test/{id}", s.handleGetTest)
	r.Get("/api/background-tests", s.handleBackground)
	r.Post("/api/test/start", s.handleStart)
	r.Post("/api/test/stop/{id}", s.handleStop)
	r.Post("/api/test/stop-all", s.handleStopAll)
	r.Post("/api/setup", s.handleSetup)

	return r
}

// logRequests logs each request's method, path, and handling duration at
// debug level, mirroring the ambient slog usage elsewhere in the service.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("handled request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a domain error to its HTTP status: 200 for a
// handled domain error (the failure is reported via the envelope's success
// flag), 400 for malformed or refused requests. 404/500 are applied by
// their specific handlers.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusOK
	switch err.(type) {
	case *model.InvalidRequest, *model.ErrInvalidProfile, *model.Rejected:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, fail(err))
}

func (s *Server) handleDisks(w http.ResponseWriter, r *http.Request) {
	disks, err := diskinfo.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, fail(err))
		return
	}
	writeJSON(w, http.StatusOK, disksResponse{
		envelope:  ok(),
		Disks:     disks,
		Count:     len(disks),
		Timestamp: time.Now(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	worker, err := s.res.Resolve(r.Context())
	resp := struct {
		envelope
		WorkerAvailable bool           `json:"worker_available"`
		WorkerPath      string         `json:"worker_path,omitempty"`
		WorkerVersion   string         `json:"worker_version,omitempty"`
		TestCounts      map[string]int `json:"test_counts,omitempty"`
		StoreSizeBytes  int64          `json:"store_size_bytes,omitempty"`
	}{envelope: ok()}
	if err != nil {
		resp.WorkerAvailable = false
	} else {
		resp.WorkerAvailable = true
		resp.WorkerPath = worker.Path
		resp.WorkerVersion = worker.Version
	}
	if counts, size, err := s.store.Stats(); err == nil {
		resp.TestCounts = make(map[string]int, len(counts))
		for state, n := range counts {
			resp.TestCounts[string(state)] = n
		}
		resp.StoreSizeBytes = size
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	worker, err := s.res.Resolve(r.Context())
	resp := struct {
		envelope
		ServiceVersion string `json:"service_version"`
		WorkerVersion  string `json:"worker_version,omitempty"`
	}{envelope: ok(), ServiceVersion: "0.1.0"}
	if err == nil {
		resp.WorkerVersion = worker.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]bool)
	var reasons []string

	if _, err := s.res.Resolve(r.Context()); err != nil {
		checks["worker_resolvable"] = false
		reasons = append(reasons, err.Error())
	} else {
		checks["worker_resolvable"] = true
	}

	if disks, err := diskinfo.List(); err != nil || len(disks) == 0 {
		checks["disks_enumerable"] = false
	} else {
		checks["disks_enumerable"] = true
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		Checks  map[string]bool `json:"checks"`
		Reasons []string        `json:"reasons,omitempty"`
	}{envelope: ok(), Checks: checks, Reasons: reasons})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Current()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, fail(err))
		return
	}
	if status == nil {
		writeJSON(w, http.StatusOK, struct {
			envelope
			TestRunning bool `json:"test_running"`
		}{envelope: ok(), TestRunning: false})
		return
	}
	writeJSON(w, http.StatusOK, fromStatus(status))
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	id := model.TestId(chi.URLParam(r, "id"))
	status, err := s.orch.Status(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, fail(err))
		return
	}
	writeJSON(w, http.StatusOK, fromStatus(status))
}

func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	records, err := s.orch.Background()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, fail(err))
		return
	}
	resp := make([]testResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, fromRecord(rec))
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Tests []testResponse `json:"tests"`
	}{envelope: ok(), Tests: resp})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, fail(err))
		return
	}

	rec, err := s.orch.Start(r.Context(), req.TestType, req.DiskPath, req.SizeGB)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		envelope:           ok(),
		TestId:             rec.TestId,
		EstimatedDurationS: rec.EstimatedDurationS,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := model.TestId(chi.URLParam(r, "id"))
	if err := s.orch.Stop(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok())
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	ids, err := s.orch.StopAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, fail(err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Stopped []model.TestId `json:"stopped"`
	}{envelope: ok(), Stopped: ids})
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, fail(err))
		return
	}
	if req.Action != "install_worker" {
		writeJSON(w, http.StatusBadRequest, fail(&model.InvalidRequest{Reason: "unknown setup action: " + req.Action}))
		return
	}

	// Worker installation is an out-of-scope collaborator; this shim only
	// reports whether a worker is already usable and, if not, the resolver's
	// install hint.
	_, err := s.res.Resolve(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, struct {
			envelope
			AlreadyInstalled bool `json:"already_installed"`
		}{envelope: ok(), AlreadyInstalled: true})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		AlreadyInstalled bool   `json:"already_installed"`
		Hint             string `json:"hint"`
	}{envelope: ok(), AlreadyInstalled: false, Hint: err.Error()})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	profile := model.ProfileId(chi.URLParam(r, "profile"))
	points, err := s.thermalDriftSeries(r.Context(), profile)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, fail(err))
		return
	}

	const minDataPoints = 3
	result, err := trend.CalculateTrend(points, minDataPoints)
	if err != nil {
		writeJSON(w, http.StatusOK, fail(err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		Trend *trend.Result `json:"trend"`
	}{envelope: ok(), Trend: result})
}

// thermalDriftSeries gathers completed-run read bandwidth observations for
// profile from the store's history, newest-first, for the trend detector.
func (s *Server) thermalDriftSeries(ctx context.Context, profile model.ProfileId) ([]trend.DataPoint, error) {
	records, err := s.store.History(0)
	if err != nil {
		return nil, err
	}
	var points []trend.DataPoint
	for _, rec := range records {
		if rec.ProfileId != profile || rec.Summary == nil || rec.EndTime == nil {
			continue
		}
		points = append(points, trend.DataPoint{
			Timestamp:  *rec.EndTime,
			ReadBWMiBs: rec.Summary.ReadBWMiBs(),
		})
	}
	return points, nil
}
