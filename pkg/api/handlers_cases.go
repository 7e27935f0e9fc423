package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
)

func (s *server) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cases, err := s.store.ListCases(r.Context(), store.CaseFilter{
		ProjectID: strings.TrimSpace(q.Get("project_id")),
		SuiteID:   strings.TrimSpace(q.Get("suite_id")),
	})
	if err != nil {
		s.writeStoreError(w, err, "case not found")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "case not found")

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"case": c})
}

func (s *server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	projectID := body.trimmed("project_id")
	title := body.trimmed("title")

	if projectID == "" || title == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"missing project_id or title"})

		return
	}

	kind := body.str("kind")
	if kind == "" {
		kind = store.KindHTTP
	}

	spec, _ := body.object("spec")

	specJSON, err := encodeSpec(spec)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid spec"})

		return
	}

	if !s.checkSpec(w, kind, specJSON) {
		return
	}

	c := &store.Case{
		ProjectID:   projectID,
		SuiteID:     optionalID(body.trimmed("suite_id")),
		Title:       title,
		Description: body.str("description"),
		Tags:        caseTags(body),
		Kind:        kind,
		Spec:        specJSON,
	}

	if err := s.store.CreateCase(r.Context(), c); err != nil {
		s.writeStoreError(w, err, "case not found")

		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"case": c})
}

// handleUpdateCase merges the body over the stored case. Absent or empty
// text fields, and absent tags, spec and suite_id keep their values. An
// empty suite_id detaches the case from its suite.
func (s *server) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err, "case not found")

		return
	}

	body := readBody(r)

	if title := body.trimmed("title"); title != "" {
		c.Title = title
	}

	if description := body.str("description"); description != "" {
		c.Description = description
	}

	if kind := body.str("kind"); kind != "" {
		c.Kind = kind
	}

	if body.has("tags") {
		c.Tags = caseTags(body)
	}

	if body.has("spec") {
		spec, _ := body.object("spec")

		specJSON, err := encodeSpec(spec)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid spec"})

			return
		}

		c.Spec = specJSON
	}

	if body.has("suite_id") {
		c.SuiteID = optionalID(body.trimmed("suite_id"))
	}

	if !s.checkSpec(w, c.Kind, c.Spec) {
		return
	}

	if err := s.store.UpdateCase(r.Context(), c); err != nil {
		s.writeStoreError(w, err, "case not found")

		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *server) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCase(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err, "case not found")

		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type lintResponse struct {
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

// handleLintCase lints {kind, spec} without storing anything. The spec
// is linted as sent, so non-object specs are reported.
func (s *server) handleLintCase(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	kind := body.str("kind")
	if kind == "" {
		kind = store.KindHTTP
	}

	raw, err := json.Marshal(body["spec"])
	if err != nil || !body.has("spec") {
		raw = []byte(`{}`)
	}

	violations := s.linter.Lint(kind, raw)
	if violations == nil {
		violations = []string{}
	}

	writeJSON(w, http.StatusOK, lintResponse{
		OK:         len(violations) == 0,
		Violations: violations,
	})
}

// checkSpec writes a 400 and returns false when strict specs are enabled
// and the spec fails lint.
func (s *server) checkSpec(w http.ResponseWriter, kind string, spec []byte) bool {
	if !s.cfg.API.StrictSpecs {
		return true
	}

	violations := s.linter.Lint(kind, spec)
	if len(violations) == 0 {
		return true
	}

	writeJSON(w, http.StatusBadRequest, lintErrorResponse{
		Error:      "invalid spec",
		Violations: violations,
	})

	return false
}

// caseTags returns the tags field when it is a list, else no tags.
func caseTags(body requestBody) datatypes.JSONSlice[string] {
	return datatypes.JSONSlice[string](body.stringList("tags"))
}

func encodeSpec(spec map[string]any) (datatypes.JSON, error) {
	if spec == nil {
		return datatypes.JSON(`{}`), nil
	}

	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}

	return datatypes.JSON(raw), nil
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}

	return &id
}
