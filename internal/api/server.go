// Package api exposes the trigger surface over HTTP: run detectors,
// publish detections, inspect task results, and health.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/earlywatch/sentinel/internal/detector"
	"github.com/earlywatch/sentinel/internal/tasks"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker func(ctx context.Context) error

type Server struct {
	runner   *tasks.Runner
	registry *detector.Registry
	checks   map[string]HealthChecker
	server   *http.Server
}

func NewServer(runner *tasks.Runner, registry *detector.Registry, checks map[string]HealthChecker) *Server {
	return &Server{runner: runner, registry: registry, checks: checks}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/detectors/{id}/run", s.runDetectorHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/detections/{id}/publish", s.publishDetectionHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id}", s.taskStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/variants", s.variantsHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	return r
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Printf("API server listening on %s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type runRequest struct {
	Start string `json:"start_date,omitempty"`
	End   string `json:"end_date,omitempty"`
}

func (s *Server) runDetectorHandler(w http.ResponseWriter, r *http.Request) {
	detectorID := mux.Vars(r)["id"]

	var req runRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	start, err := parseTimeParam(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be ISO-8601")
		return
	}
	end, err := parseTimeParam(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be ISO-8601")
		return
	}

	status := s.runner.Dispatch(r.Context(), detectorID, start, end)

	code := http.StatusOK
	if !status.Done {
		code = http.StatusAccepted
	}
	writeJSON(w, code, status)
}

type publishRequest struct {
	TemplateID string   `json:"template_id,omitempty"`
	TargetAPIs []string `json:"target_apis,omitempty"`
	Language   string   `json:"language,omitempty"`
}

func (s *Server) publishDetectionHandler(w http.ResponseWriter, r *http.Request) {
	detectionID := mux.Vars(r)["id"]

	var req publishRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result := s.runner.PublishAlert(r.Context(), detectionID, req.TemplateID, req.TargetAPIs, req.Language)
	code := http.StatusOK
	if !result.Success {
		code = http.StatusBadGateway
		if result.ErrorMessage != "" {
			code = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, code, result)
}

func (s *Server) taskStatusHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]

	result, ok := s.runner.TaskResult(taskID)
	if !ok {
		writeJSON(w, http.StatusOK, tasks.TaskStatus{TaskID: taskID, Mode: "async", Done: false})
		return
	}
	writeJSON(w, http.StatusOK, tasks.TaskStatus{
		TaskID:     taskID,
		DetectorID: result.DetectorID,
		Mode:       result.Mode,
		Done:       true,
		Result:     &result,
	})
}

func (s *Server) variantsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"variants": s.registry.Variants()})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{"status": "healthy"}
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status[name] = "disconnected"
			healthy = false
		} else {
			status[name] = "connected"
		}
	}
	if !healthy {
		status["status"] = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
