package api

import (
	"net/http"

	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/ethpandaops/laitest/pkg/generator"
	"github.com/ethpandaops/laitest/pkg/metrics"
)

type generateResponse struct {
	Suggestions    []generator.Suggestion `json:"suggestions"`
	Provider       string                 `json:"provider"`
	Warning        *string                `json:"warning"`
	CreatedCaseIDs []string               `json:"created_case_ids"`
}

// handleGenerateCases drafts cases from a prompt. With create and a
// project id the first generator.max_create suggestions are stored.
func (s *server) handleGenerateCases(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)

	projectID := body.trimmed("project_id")
	suiteID := optionalID(body.trimmed("suite_id"))

	suggestions, err := s.generator.Generate(r.Context(), body.str("prompt"))
	if err != nil {
		s.log.WithError(err).Error("Case generation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"generation failed"})

		return
	}

	if suggestions == nil {
		suggestions = []generator.Suggestion{}
	}

	resp := generateResponse{
		Suggestions:    suggestions,
		Provider:       s.generator.Provider(),
		CreatedCaseIDs: []string{},
	}

	if body.truthy("create") && projectID != "" {
		maxCreate := s.cfg.Generator.MaxCreate
		if maxCreate <= 0 {
			maxCreate = config.DefaultMaxCreate
		}

		limit := min(len(suggestions), maxCreate)

		for _, sg := range suggestions[:limit] {
			c, err := sg.Case(projectID, suiteID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, errorResponse{"encoding suggestion failed"})

				return
			}

			if err := s.store.CreateCase(r.Context(), c); err != nil {
				s.writeStoreError(w, err, "case not found")

				return
			}

			resp.CreatedCaseIDs = append(resp.CreatedCaseIDs, c.ID)
		}

		metrics.RecordGeneratedCases(len(resp.CreatedCaseIDs))
	}

	writeJSON(w, http.StatusOK, resp)
}
