package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{
				Path: filepath.Join(t.TempDir(), "laitest.db"),
			},
		},
		Runner: config.RunnerConfig{
			HTTP: config.RunnerHTTPConfig{
				MaxBodyBytes: config.DefaultMaxBodyBytes,
				UserAgent:    config.DefaultUserAgent,
			},
		},
		Generator: config.GeneratorConfig{
			MaxSuggestions: config.DefaultMaxSuggestions,
			MaxCreate:      config.DefaultMaxCreate,
		},
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()

	cfg := testConfig(t)

	if mutate != nil {
		mutate(cfg)
	}

	srv := NewServer(testLogger(), cfg).(*server)
	require.NoError(t, srv.setup(context.Background()))

	ts := httptest.NewServer(srv.buildRouter())

	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Stop())
	})

	return ts
}

type apiClient struct {
	t     *testing.T
	base  string
	token string
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()

	status, raw := c.raw(method, path, body)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	}

	return status, out
}

func (c *apiClient) raw(method, path string, body any) (int, []byte) {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(c.t, err)

		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	return resp.StatusCode, raw
}

func (c *apiClient) createProject(name string) string {
	c.t.Helper()

	status, out := c.do(http.MethodPost, "/api/v1/projects", map[string]any{"name": name})
	require.Equal(c.t, http.StatusCreated, status)

	return out["project"].(map[string]any)["id"].(string)
}

func (c *apiClient) createCase(projectID, title, kind string, spec map[string]any) string {
	c.t.Helper()

	status, out := c.do(http.MethodPost, "/api/v1/cases", map[string]any{
		"project_id": projectID,
		"title":      title,
		"kind":       kind,
		"spec":       spec,
	})
	require.Equal(c.t, http.StatusCreated, status, out)

	return out["case"].(map[string]any)["id"].(string)
}

func (c *apiClient) waitForRun(runID string) map[string]any {
	c.t.Helper()

	var out map[string]any

	require.Eventually(c.t, func() bool {
		var status int

		status, out = c.do(http.MethodGet, "/api/v1/runs/"+runID, nil)
		if status != http.StatusOK {
			return false
		}

		s := out["run"].(map[string]any)["status"]

		return s == "finished" || s == "failed"
	}, 10*time.Second, 20*time.Millisecond)

	return out
}

func passSpec(msg string) map[string]any {
	return map[string]any{"steps": []any{map[string]any{"type": "pass", "message": msg}}}
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Auth.Token = "s3cret"
		cfg.API.Auth.TokenHash = string(hash)
	})

	tests := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{name: "health is public", path: "/api/v1/health", status: http.StatusOK},
		{name: "missing token", path: "/api/v1/projects", status: http.StatusUnauthorized},
		{name: "wrong token", token: "nope", path: "/api/v1/projects", status: http.StatusUnauthorized},
		{name: "plain token", token: "s3cret", path: "/api/v1/projects", status: http.StatusOK},
		{name: "hashed token", token: "hashed-secret", path: "/api/v1/projects", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &apiClient{t: t, base: ts.URL, token: tt.token}

			status, out := c.do(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, status)

			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", out["error"])
			}
		})
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	status, out := c.do(http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["ok"])
	assert.NotEmpty(t, out["ts"])
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	tests := []struct {
		name    string
		path    string
		body    any
		wantErr string
	}{
		{name: "project without name", path: "/api/v1/projects", body: map[string]any{"name": "  "}, wantErr: "missing name"},
		{name: "project non-object body", path: "/api/v1/projects", body: []any{"x"}, wantErr: "missing name"},
		{name: "suite without name", path: "/api/v1/suites", body: map[string]any{"project_id": "prj_1"}, wantErr: "missing project_id or name"},
		{name: "case without title", path: "/api/v1/cases", body: map[string]any{"project_id": "prj_1"}, wantErr: "missing project_id or title"},
		{name: "run without project", path: "/api/v1/runs", body: map[string]any{"case_ids": []any{"case_1"}}, wantErr: "missing project_id"},
		{name: "run without cases", path: "/api/v1/runs", body: map[string]any{"project_id": "prj_1", "case_ids": []any{""}}, wantErr: "missing case_ids"},
		{name: "run with non-list cases", path: "/api/v1/runs", body: map[string]any{"project_id": "prj_1", "case_ids": "case_1"}, wantErr: "missing case_ids"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := c.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.wantErr, out["error"])
		})
	}
}

func TestProjectsAndSuites(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	projectID := c.createProject("shop")

	status, out := c.do(http.MethodPost, "/api/v1/suites", map[string]any{
		"project_id": projectID,
		"name":       "smoke",
	})
	require.Equal(t, http.StatusCreated, status)
	suite := out["suite"].(map[string]any)
	assert.Equal(t, projectID, suite["project_id"])

	status, out = c.do(http.MethodGet, "/api/v1/suites?project_id="+projectID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["suites"], 1)

	status, _ = c.do(http.MethodDelete, "/api/v1/suites/"+suite["id"].(string), nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = c.do(http.MethodDelete, "/api/v1/projects/"+projectID, nil)
	require.Equal(t, http.StatusOK, status)

	_, out = c.do(http.MethodGet, "/api/v1/projects", nil)
	assert.Empty(t, out["projects"])
}

func TestCaseLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	projectID := c.createProject("shop")

	status, out := c.do(http.MethodPost, "/api/v1/cases", map[string]any{
		"project_id":  projectID,
		"title":       "Login works",
		"description": "happy path",
		"tags":        []any{"auth"},
		"suite_id":    "sui_1",
		"kind":        "demo",
		"spec":        passSpec("ok"),
	})
	require.Equal(t, http.StatusCreated, status)
	caseID := out["case"].(map[string]any)["id"].(string)

	// Only the title changes; everything else is kept.
	status, _ = c.do(http.MethodPut, "/api/v1/cases/"+caseID, map[string]any{
		"title":       "Login still works",
		"description": "",
	})
	require.Equal(t, http.StatusOK, status)

	status, out = c.do(http.MethodGet, "/api/v1/cases/"+caseID, nil)
	require.Equal(t, http.StatusOK, status)

	got := out["case"].(map[string]any)
	assert.Equal(t, "Login still works", got["title"])
	assert.Equal(t, "happy path", got["description"])
	assert.Equal(t, []any{"auth"}, got["tags"])
	assert.Equal(t, "demo", got["kind"])
	assert.Equal(t, "sui_1", got["suite_id"])
	assert.Equal(t, passSpec("ok")["steps"], got["spec"].(map[string]any)["steps"])

	// An empty suite id detaches; a non-object spec becomes empty.
	status, _ = c.do(http.MethodPut, "/api/v1/cases/"+caseID, map[string]any{
		"suite_id": "",
		"spec":     "nope",
		"tags":     "nope",
	})
	require.Equal(t, http.StatusOK, status)

	_, out = c.do(http.MethodGet, "/api/v1/cases/"+caseID, nil)
	got = out["case"].(map[string]any)
	assert.Nil(t, got["suite_id"])
	assert.Equal(t, map[string]any{}, got["spec"])
	assert.Equal(t, []any{}, got["tags"])

	status, out = c.do(http.MethodGet, "/api/v1/cases?project_id="+projectID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["cases"], 1)

	status, _ = c.do(http.MethodDelete, "/api/v1/cases/"+caseID, nil)
	require.Equal(t, http.StatusOK, status)

	status, out = c.do(http.MethodGet, "/api/v1/cases/"+caseID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "case not found", out["error"])

	status, out = c.do(http.MethodPut, "/api/v1/cases/"+caseID, map[string]any{"title": "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "case not found", out["error"])
}

func TestCaseDefaults(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	status, out := c.do(http.MethodPost, "/api/v1/cases", map[string]any{
		"project_id": "prj_1",
		"title":      "bare",
	})
	require.Equal(t, http.StatusCreated, status)

	got := out["case"].(map[string]any)
	assert.Equal(t, "http", got["kind"])
	assert.Equal(t, map[string]any{}, got["spec"])
	assert.Equal(t, []any{}, got["tags"])
	assert.Nil(t, got["suite_id"])
}

func TestStrictSpecs(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.API.StrictSpecs = true
	})
	c := &apiClient{t: t, base: ts.URL}

	status, out := c.do(http.MethodPost, "/api/v1/cases", map[string]any{
		"project_id": "prj_1",
		"title":      "bad",
		"kind":       "http",
		"spec": map[string]any{"steps": []any{
			map[string]any{"type": "http_get"},
		}},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid spec", out["error"])
	assert.NotEmpty(t, out["violations"])

	caseID := c.createCase("prj_1", "good", "demo", passSpec("ok"))

	status, _ = c.do(http.MethodPut, "/api/v1/cases/"+caseID, map[string]any{
		"spec": map[string]any{"steps": []any{
			map[string]any{"type": "sleep", "seconds": -1},
		}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLintCase(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	tests := []struct {
		name   string
		body   map[string]any
		wantOK bool
	}{
		{
			name:   "clean demo spec",
			body:   map[string]any{"kind": "demo", "spec": passSpec("ok")},
			wantOK: true,
		},
		{
			name: "http_get in demo",
			body: map[string]any{"kind": "demo", "spec": map[string]any{"steps": []any{
				map[string]any{"type": "http_get", "url": "http://example.com"},
			}}},
		},
		{
			name: "spec is not an object",
			body: map[string]any{"kind": "http", "spec": []any{1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := c.do(http.MethodPost, "/api/v1/cases/lint", tt.body)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.wantOK, out["ok"])

			if tt.wantOK {
				assert.Empty(t, out["violations"])
			} else {
				assert.NotEmpty(t, out["violations"])
			}
		})
	}
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	projectID := c.createProject("shop")
	passID := c.createCase(projectID, "passes", "demo", passSpec("fine"))
	failID := c.createCase(projectID, "fails", "demo", map[string]any{"steps": []any{
		map[string]any{"type": "http_get", "url": "http://example.com"},
	}})

	status, out := c.do(http.MethodPost, "/api/v1/runs", map[string]any{
		"project_id": projectID,
		"case_ids":   []any{passID, failID, "case_missing"},
	})
	require.Equal(t, http.StatusCreated, status)

	created := out["run"].(map[string]any)
	assert.Equal(t, "queued", created["status"])
	runID := created["id"].(string)

	out = c.waitForRun(runID)

	run := out["run"].(map[string]any)
	assert.Equal(t, "finished", run["status"])
	assert.Equal(t, "Run", run["name"])

	summary := run["summary"].(map[string]any)
	assert.EqualValues(t, 3, summary["total"])
	assert.EqualValues(t, 1, summary["passed"])
	assert.EqualValues(t, 2, summary["failed"])

	items := out["items"].([]any)
	require.Len(t, items, 3)
	assert.Equal(t, "passed", items[0].(map[string]any)["status"])
	assert.Equal(t, "ok", items[0].(map[string]any)["log"])
	assert.Equal(t, "failed", items[1].(map[string]any)["status"])
	assert.Equal(t, "http_get step requires kind=http", items[1].(map[string]any)["log"])
	assert.Equal(t, "case not found", items[2].(map[string]any)["log"])

	status, out = c.do(http.MethodGet, "/api/v1/runs?project_id="+projectID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["runs"], 1)

	status, page := c.raw(http.MethodGet, "/api/v1/runs/"+runID+"/report", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(page), runID)
	assert.Contains(t, string(page), "http_get step requires kind=http")
}

func TestRunNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	for _, path := range []string{"/api/v1/runs/run_missing", "/api/v1/runs/run_missing/report"} {
		status, out := c.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "run not found", out["error"])
	}
}

func TestGenerateCases(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Generator.MaxCreate = 2
	})
	c := &apiClient{t: t, base: ts.URL}

	projectID := c.createProject("shop")
	prompt := "- login with valid password\n- checkout with card\n\n* list api keys"

	status, out := c.do(http.MethodPost, "/api/v1/ai/generate_cases", map[string]any{
		"prompt": prompt,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "local", out["provider"])
	assert.Nil(t, out["warning"])
	assert.Len(t, out["suggestions"], 3)
	assert.Empty(t, out["created_case_ids"])

	status, out = c.do(http.MethodPost, "/api/v1/ai/generate_cases", map[string]any{
		"prompt":     prompt,
		"project_id": projectID,
		"create":     true,
	})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["created_case_ids"], 2)

	_, out = c.do(http.MethodGet, "/api/v1/cases?project_id="+projectID, nil)
	assert.Len(t, out["cases"], 2)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.API.Server.RateLimit = config.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 1,
		}
	})
	c := &apiClient{t: t, base: ts.URL}

	status, _ := c.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, status)

	status, out := c.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", out["error"])
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:1234", xff: "1.2.3.4, 5.6.7.8", want: "1.2.3.4"},
		{name: "single forwarded", remoteAddr: "10.0.0.1:1234", xff: "9.9.9.9", want: "9.9.9.9"},
		{name: "no port", remoteAddr: "10.0.0.1", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr

			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(r))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	c := &apiClient{t: t, base: ts.URL}

	status, body := c.raw(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStartListenFailureLeavesRunsQueued(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	// Seed a queued run the way another instance would have left it.
	st := store.NewStore(testLogger(), &cfg.Database)
	require.NoError(t, st.Start(ctx))

	project := &store.Project{Name: "p"}
	require.NoError(t, st.CreateProject(ctx, project))

	c := &store.Case{
		ProjectID: project.ID,
		Title:     "slow",
		Kind:      store.KindDemo,
		Spec:      datatypes.JSON(`{"steps":[{"type":"sleep","seconds":0.5}]}`),
	}
	require.NoError(t, st.CreateCase(ctx, c))

	run := &store.Run{ProjectID: project.ID, Name: "queued"}
	_, err := st.CreateRun(ctx, run, []string{c.ID})
	require.NoError(t, err)
	require.NoError(t, st.Stop())

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	defer func() { _ = taken.Close() }()

	cfg.API.Server.Listen = taken.Addr().String()

	srv := NewServer(testLogger(), cfg).(*server)
	err = srv.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
	assert.Nil(t, srv.runner)
	assert.Nil(t, srv.store)
	require.NoError(t, srv.Stop())

	// Give a leaked worker time to pick the run up.
	time.Sleep(100 * time.Millisecond)

	st = store.NewStore(testLogger(), &cfg.Database)
	require.NoError(t, st.Start(ctx))

	defer func() { _ = st.Stop() }()

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunQueued, got.Status)
}
