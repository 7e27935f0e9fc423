package api

import (
	"net/http"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/go-chi/chi/v5"
)

// --- Projects ---

func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "project not found")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	name := body.trimmed("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"missing name"})

		return
	}

	project := &store.Project{Name: name}
	if err := s.store.CreateProject(r.Context(), project); err != nil {
		s.writeStoreError(w, err, "project not found")

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"project": project})
}

func (s *server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err, "project not found")

		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// --- Suites ---

func (s *server) handleListSuites(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))

	suites, err := s.store.ListSuites(r.Context(), projectID)
	if err != nil {
		s.writeStoreError(w, err, "suite not found")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"suites": suites})
}

func (s *server) handleCreateSuite(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	projectID := body.trimmed("project_id")
	name := body.trimmed("name")

	if projectID == "" || name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"missing project_id or name"})

		return
	}

	suite := &store.Suite{ProjectID: projectID, Name: name}
	if err := s.store.CreateSuite(r.Context(), suite); err != nil {
		s.writeStoreError(w, err, "suite not found")

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"suite": suite})
}

func (s *server) handleDeleteSuite(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSuite(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err, "suite not found")

		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}
