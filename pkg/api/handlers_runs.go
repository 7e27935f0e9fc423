package api

import (
	"net/http"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/report"
	"github.com/go-chi/chi/v5"
)

// defaultRunName is used when a run is created without a name.
const defaultRunName = "Run"

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		ProjectID: strings.TrimSpace(q.Get("project_id")),
		SuiteID:   strings.TrimSpace(q.Get("suite_id")),
	})
	if err != nil {
		s.writeStoreError(w, err, "run not found")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, items, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"run": run, "items": items})
}

type createRunResponse struct {
	Run struct {
		ID     string          `json:"id"`
		Status store.RunStatus `json:"status"`
	} `json:"run"`
}

// handleCreateRun persists a queued run and hands it to the worker. The
// response does not wait for execution.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	projectID := body.trimmed("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"missing project_id"})

		return
	}

	caseIDs := body.stringList("case_ids")
	if len(caseIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{"missing case_ids"})

		return
	}

	name := body.trimmed("name")
	if name == "" {
		name = defaultRunName
	}

	run := &store.Run{
		ProjectID: projectID,
		SuiteID:   optionalID(body.trimmed("suite_id")),
		Name:      name,
	}

	if _, err := s.store.CreateRun(r.Context(), run, caseIDs); err != nil {
		s.writeStoreError(w, err, "run not found")

		return
	}

	if err := s.runner.Enqueue(run.ID); err != nil {
		// The run stays queued and is recovered on the next start.
		s.log.WithError(err).WithField("run_id", run.ID).Warn("Failed to enqueue run")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"runner unavailable"})

		return
	}

	var resp createRunResponse
	resp.Run.ID = run.ID
	resp.Run.Status = run.Status

	writeJSON(w, http.StatusCreated, resp)
}

// handleRunReport renders the run as a standalone HTML page.
func (s *server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	run, items, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	page, err := report.HTML(run, items, s.host)
	if err != nil {
		s.log.WithError(err).WithField("run_id", run.ID).Error("Failed to render report")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"rendering report failed"})

		return
	}

	w.Header().Set("Content-Type", report.ContentTypeHTML)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func (s *server) loadRun(
	w http.ResponseWriter, r *http.Request,
) (*store.Run, []store.RunItem, bool) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "run not found")

		return nil, nil, false
	}

	items, err := s.store.ListRunItems(r.Context(), run.ID)
	if err != nil {
		s.writeStoreError(w, err, "run not found")

		return nil, nil, false
	}

	return run, items, true
}
