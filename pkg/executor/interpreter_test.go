package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInterpreter(t *testing.T) *Interpreter {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewInterpreter(log, config.RunnerHTTPConfig{MaxBodyBytes: 1024})
}

func spec(t *testing.T, doc string) map[string]any {
	t.Helper()

	out := make(map[string]any)
	require.NoError(t, json.Unmarshal([]byte(doc), &out))

	return out
}

func TestRunCase_Basics(t *testing.T) {
	tests := []struct {
		name      string
		kind      string
		spec      string
		wantOK    bool
		wantMsg   string
		wantSteps int
	}{
		{
			name:    "no steps key",
			kind:    KindDemo,
			spec:    `{}`,
			wantOK:  true,
			wantMsg: "ok",
		},
		{
			name:    "steps not a list",
			kind:    KindHTTP,
			spec:    `{"steps": "nope"}`,
			wantOK:  true,
			wantMsg: "ok",
		},
		{
			name:    "unsupported kind",
			kind:    "grpc",
			spec:    `{"steps": [{"type": "pass"}]}`,
			wantMsg: "unsupported kind: grpc",
		},
		{
			name:      "pass with default message",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "pass"}, {"type": "pass", "message": "hello"}]}`,
			wantOK:    true,
			wantMsg:   "ok",
			wantSteps: 2,
		},
		{
			name:      "non-object step",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "pass"}, 42, {"type": "pass"}]}`,
			wantMsg:   "invalid step",
			wantSteps: 2,
		},
		{
			name:      "unknown step type",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "click"}, {"type": "pass"}]}`,
			wantMsg:   "unsupported step type: click",
			wantSteps: 1,
		},
		{
			name:      "http_get in demo kind",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "http_get", "url": "http://example.invalid/"}]}`,
			wantMsg:   "http_get step requires kind=http",
			wantSteps: 1,
		},
		{
			name:      "http_get in demo kind with malformed fields",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "http_get", "url": {"a": 1}}]}`,
			wantMsg:   "http_get step requires kind=http",
			wantSteps: 1,
		},
		{
			name:      "missing url",
			kind:      KindHTTP,
			spec:      `{"steps": [{"type": "http_get"}]}`,
			wantMsg:   "missing url",
			wantSteps: 1,
		},
		{
			name:      "negative sleep clamps to zero",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "sleep", "seconds": -5}]}`,
			wantOK:    true,
			wantMsg:   "ok",
			wantSteps: 1,
		},
		{
			name:      "unparseable sleep is zero",
			kind:      KindDemo,
			spec:      `{"steps": [{"type": "sleep", "seconds": "later"}]}`,
			wantOK:    true,
			wantMsg:   "ok",
			wantSteps: 1,
		},
	}

	in := newTestInterpreter(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := in.RunCase(context.Background(), tt.kind, spec(t, tt.spec))

			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Len(t, res.Trace.Steps, tt.wantSteps)
			assert.GreaterOrEqual(t, res.DurationMS, int64(0))

			if !tt.wantOK && tt.wantSteps > 0 {
				last := res.Trace.Steps[len(res.Trace.Steps)-1]
				assert.False(t, last.OK)
				assert.Equal(t, tt.wantMsg, last.Message)
			}
		})
	}
}

func TestRunCase_EmptyTraceSerialisesAsList(t *testing.T) {
	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindHTTP, map[string]any{})

	raw, err := json.Marshal(res.Trace)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps":[]}`, string(raw))
}

func TestRunCase_TraceShape(t *testing.T) {
	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindDemo, spec(t, `{"steps": [
		{"type": "pass"},
		{"type": "sleep", "seconds": -1},
		{"type": "nope"}
	]}`))

	raw, err := json.Marshal(res.Trace)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps": [
		{"i": 0, "ok": true, "type": "pass", "message": "pass"},
		{"i": 1, "ok": true, "type": "sleep", "seconds": 0},
		{"i": 2, "ok": false, "type": "nope", "message": "unsupported step type: nope"}
	]}`, string(raw))
}

func TestRunCase_SleepWaits(t *testing.T) {
	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindDemo, spec(t, `{"steps": [{"type": "sleep", "seconds": "0.05"}]}`))

	require.True(t, res.OK)
	assert.GreaterOrEqual(t, res.DurationMS, int64(50))
}

func TestRunCase_SleepHonoursContext(t *testing.T) {
	in := newTestInterpreter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := in.RunCase(ctx, KindDemo, spec(t, `{"steps": [{"type": "sleep", "seconds": 30}, {"type": "pass"}]}`))

	require.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Message, "sleep interrupted:"))
	assert.Len(t, res.Trace.Steps, 1)
}

func TestRunCase_SleepOutOfRange(t *testing.T) {
	tests := []struct {
		name    string
		seconds string
		wantMsg string
	}{
		{name: "overflows duration", seconds: `1e12`, wantMsg: "sleep length is too large"},
		{name: "just past limit", seconds: `9.3e9`, wantMsg: "sleep length is too large"},
		{name: "not a number", seconds: `"nan"`, wantMsg: "invalid sleep length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newTestInterpreter(t)

			res := in.RunCase(context.Background(), KindDemo, spec(t, fmt.Sprintf(
				`{"steps": [{"type": "sleep", "seconds": %s}, {"type": "pass"}]}`, tt.seconds,
			)))

			require.False(t, res.OK)
			assert.Equal(t, tt.wantMsg, res.Message)
			assert.Len(t, res.Trace.Steps, 1)
			assert.Less(t, res.DurationMS, int64(1000))

			_, err := json.Marshal(res.Trace)
			require.NoError(t, err)
		})
	}
}

func TestSecondsDuration(t *testing.T) {
	d, ok := secondsDuration(1.5)
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, ok = secondsDuration(1e12)
	assert.False(t, ok)
}

func TestRunCase_HTTPGetHugeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindHTTP, spec(t, fmt.Sprintf(
		`{"steps": [{"type": "http_get", "url": %q, "timeout_s": 1e12}]}`, srv.URL,
	)))

	require.True(t, res.OK, res.Message)
}

func TestRunCase_HTTPGetTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/long" {
			_, _ = w.Write([]byte(strings.Repeat("a", 2000) + "needle"))

			return
		}

		_, _ = w.Write([]byte("short body"))
	}))
	defer srv.Close()

	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindHTTP, spec(t, fmt.Sprintf(
		`{"steps": [{"type": "http_get", "url": %q, "expect_contains": "needle"}]}`, srv.URL+"/long",
	)))

	require.False(t, res.OK)
	assert.Equal(t, "response body missing expected substring (body truncated at 1024 bytes)", res.Message)

	res = in.RunCase(context.Background(), KindHTTP, spec(t, fmt.Sprintf(
		`{"steps": [{"type": "http_get", "url": %q, "expect_contains": "needle"}]}`, srv.URL+"/short",
	)))

	require.False(t, res.OK)
	assert.Equal(t, "response body missing expected substring", res.Message)
}

func TestRunCase_HTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("hello world"))
		case "/binary":
			_, _ = w.Write([]byte{'o', 'k', 0xff, 0xfe, '!'})
		case "/ua":
			_, _ = w.Write([]byte(r.UserAgent()))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		step    string
		wantOK  bool
		wantMsg string
	}{
		{
			name:    "status and body match",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q, "expect_contains": "world"}`, srv.URL+"/ok"),
			wantOK:  true,
			wantMsg: "ok",
		},
		{
			name:    "status mismatch",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q}`, srv.URL+"/missing"),
			wantMsg: "expected status 200, got 404",
		},
		{
			name:    "expected non-200 status",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q, "expect_status": 404}`, srv.URL+"/missing"),
			wantOK:  true,
			wantMsg: "ok",
		},
		{
			name:    "body missing substring",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q, "expect_contains": "absent"}`, srv.URL+"/ok"),
			wantMsg: "response body missing expected substring",
		},
		{
			name:    "empty expect_contains always matches",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q, "expect_contains": ""}`, srv.URL+"/ok"),
			wantOK:  true,
			wantMsg: "ok",
		},
		{
			name:    "invalid utf-8 is replaced",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q, "expect_contains": "ok�"}`, srv.URL+"/binary"),
			wantOK:  true,
			wantMsg: "ok",
		},
		{
			name:    "user agent is sent",
			step:    fmt.Sprintf(`{"type": "http_get", "url": %q, "expect_contains": "laitest"}`, srv.URL+"/ua"),
			wantOK:  true,
			wantMsg: "ok",
		},
	}

	in := newTestInterpreter(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := in.RunCase(context.Background(), KindHTTP, spec(t, `{"steps": [`+tt.step+`]}`))

			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantMsg, res.Message)
			require.Len(t, res.Trace.Steps, 1)

			entry := res.Trace.Steps[0]
			assert.Equal(t, StepHTTPGet, entry.Type)
			require.NotNil(t, entry.Status)
		})
	}
}

func TestRunCase_HTTPGetMismatchTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindHTTP, spec(t, fmt.Sprintf(
		`{"steps": [{"type": "http_get", "url": %q, "expect_status": "201"}, {"type": "pass"}]}`, srv.URL,
	)))

	require.False(t, res.OK)
	require.Len(t, res.Trace.Steps, 1)

	entry := res.Trace.Steps[0]
	require.NotNil(t, entry.Status)
	require.NotNil(t, entry.ExpectStatus)
	assert.Equal(t, http.StatusTeapot, *entry.Status)
	assert.Equal(t, 201, *entry.ExpectStatus)
	assert.Equal(t, srv.URL, entry.URL)
}

func TestRunCase_HTTPGetTransportError(t *testing.T) {
	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindHTTP, spec(t,
		`{"steps": [{"type": "http_get", "url": "http://127.0.0.1:1/", "timeout_s": 0.1}]}`,
	))

	require.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Message, "http_get failed: "), res.Message)
	require.Len(t, res.Trace.Steps, 1)
	assert.Equal(t, "http://127.0.0.1:1/", res.Trace.Steps[0].URL)
	assert.Nil(t, res.Trace.Steps[0].Status)
}

func TestRunCase_HTTPGetBadFields(t *testing.T) {
	in := newTestInterpreter(t)

	res := in.RunCase(context.Background(), KindHTTP, spec(t,
		`{"steps": [{"type": "http_get", "url": "http://127.0.0.1:1/", "expect_status": {"code": 1}}]}`,
	))

	require.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Message, "invalid http_get step:"), res.Message)
}

func TestRunCaseJSON(t *testing.T) {
	in := newTestInterpreter(t)

	res := in.RunCaseJSON(context.Background(), KindDemo, []byte(`{"steps":[{"type":"pass","message":"ok"}]}`))
	assert.True(t, res.OK)
	assert.Len(t, res.Trace.Steps, 1)

	res = in.RunCaseJSON(context.Background(), KindDemo, []byte(`[1,2,3]`))
	assert.True(t, res.OK)
	assert.Empty(t, res.Trace.Steps)
}

func TestHTTPGetStepDefaults(t *testing.T) {
	s := HTTPGetStep{}
	assert.Equal(t, DefaultExpectStatus, s.Status())
	assert.Equal(t, DefaultTimeoutSeconds, s.Timeout())

	status := 0
	s = HTTPGetStep{ExpectStatus: &status, TimeoutS: 2.5}
	assert.Equal(t, 0, s.Status())
	assert.Equal(t, 2.5, s.Timeout())
}
