package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/sysinfo"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 4 << 20

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// lintErrorResponse is returned when a spec fails lint in strict mode.
type lintErrorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeStoreError maps store errors onto responses. Not found errors use
// the given message.
func (s *server) writeStoreError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{notFoundMsg})

		return
	}

	s.log.WithError(err).Error("Store operation failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
}

// requestBody is a decoded JSON object body. Anything that is not a JSON
// object decodes to an empty body.
type requestBody map[string]any

func readBody(r *http.Request) requestBody {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return requestBody{}
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return requestBody{}
	}

	return body
}

// has reports whether key is present with a non-null value.
func (b requestBody) has(key string) bool {
	v, ok := b[key]

	return ok && v != nil
}

// str returns a string or number field as text. Other values, zero and
// the empty string return "".
func (b requestBody) str(key string) string {
	switch v := b[key].(type) {
	case string:
		return v
	case float64:
		if v == 0 {
			return ""
		}

		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// trimmed returns str(key) without surrounding whitespace.
func (b requestBody) trimmed(key string) string {
	return strings.TrimSpace(b.str(key))
}

// truthy follows JSON truthiness: false, 0, "", null, [] and {} are false.
func (b requestBody) truthy(key string) bool {
	switch v := b[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// object returns the field when it is a JSON object.
func (b requestBody) object(key string) (map[string]any, bool) {
	v, ok := b[key].(map[string]any)

	return v, ok
}

// list returns the field when it is a JSON array.
func (b requestBody) list(key string) ([]any, bool) {
	v, ok := b[key].([]any)

	return v, ok
}

// stringList returns the non-empty string and number elements of a JSON
// array field.
func (b requestBody) stringList(key string) []string {
	items, _ := b.list(key)

	out := make([]string, 0, len(items))

	for _, item := range items {
		if text := (requestBody{"v": item}).str("v"); text != "" {
			out = append(out, text)
		}
	}

	return out
}

// --- Public handlers ---

type healthResponse struct {
	OK    bool          `json:"ok"`
	TS    string        `json:"ts"`
	Host  *sysinfo.Info `json:"host,omitempty"`
	Error string        `json:"error,omitempty"`
}

// handleHealth reports server and database health.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		OK:   true,
		TS:   time.Now().UTC().Format(time.RFC3339Nano),
		Host: s.host,
	}

	if err := s.store.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.Error = "database unavailable"

		s.log.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, resp)

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHome identifies the API.
func (s *server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": "laitest api"})
}
