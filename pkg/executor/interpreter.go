package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/sirupsen/logrus"
)

// Case kinds accepted by the interpreter.
const (
	KindHTTP = "http"
	KindDemo = "demo"
)

// TraceEntry records the outcome of a single step.
type TraceEntry struct {
	Index          int      `json:"i"`
	OK             bool     `json:"ok"`
	Type           string   `json:"type,omitempty"`
	Message        string   `json:"message,omitempty"`
	Seconds        *float64 `json:"seconds,omitempty"`
	URL            string   `json:"url,omitempty"`
	Status         *int     `json:"status,omitempty"`
	ExpectStatus   *int     `json:"expect_status,omitempty"`
	ExpectContains *string  `json:"expect_contains,omitempty"`
}

// Trace is the step-by-step record stored with a run item.
type Trace struct {
	Steps []TraceEntry `json:"steps"`
}

// Result is the outcome of executing one case.
type Result struct {
	OK         bool
	Message    string
	Trace      Trace
	DurationMS int64
}

// Interpreter executes case step lists.
type Interpreter struct {
	log          logrus.FieldLogger
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
}

// NewInterpreter creates an interpreter using the given http_get settings.
func NewInterpreter(log logrus.FieldLogger, cfg config.RunnerHTTPConfig) *Interpreter {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxBodyBytes
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &Interpreter{
		log:          log.WithField("component", "interpreter"),
		client:       &http.Client{},
		maxBodyBytes: maxBody,
		userAgent:    userAgent,
	}
}

// RunCaseJSON decodes a stored spec document and runs it. A document
// that is not a JSON object is treated as having no steps.
func (in *Interpreter) RunCaseJSON(ctx context.Context, kind string, raw []byte) Result {
	spec := make(map[string]any)

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &spec); err != nil {
			in.log.WithError(err).Debug("Spec is not an object, running without steps")

			spec = map[string]any{}
		}
	}

	return in.RunCase(ctx, kind, spec)
}

// RunCase executes the spec's steps in order and stops at the first
// failure. The returned message is "ok" on success, otherwise the failing
// step's message.
func (in *Interpreter) RunCase(ctx context.Context, kind string, spec map[string]any) Result {
	started := time.Now()

	result := Result{Trace: Trace{Steps: []TraceEntry{}}}

	finish := func(ok bool, msg string) Result {
		result.OK = ok
		result.Message = msg
		result.DurationMS = time.Since(started).Milliseconds()

		return result
	}

	if kind != KindHTTP && kind != KindDemo {
		return finish(false, fmt.Sprintf("unsupported kind: %s", kind))
	}

	for i, raw := range ParseSteps(spec) {
		entry := in.runStep(ctx, kind, i, raw)
		result.Trace.Steps = append(result.Trace.Steps, entry)

		if !entry.OK {
			in.log.WithFields(logrus.Fields{
				"step":    i,
				"type":    entry.Type,
				"message": entry.Message,
			}).Debug("Step failed")

			return finish(false, entry.Message)
		}
	}

	return finish(true, "ok")
}

func (in *Interpreter) runStep(ctx context.Context, kind string, i int, raw any) TraceEntry {
	step, err := ParseStep(raw)

	var (
		unsupported *UnsupportedStepError
		decodeErr   *DecodeError
	)

	switch {
	case errors.Is(err, ErrInvalidStep):
		return TraceEntry{Index: i, Message: err.Error()}
	case errors.As(err, &unsupported):
		return TraceEntry{Index: i, Type: unsupported.Type, Message: err.Error()}
	case errors.As(err, &decodeErr):
		// A kind mismatch is reported before any field problems.
		if decodeErr.Type == StepHTTPGet && kind != KindHTTP {
			return httpKindMismatch(i)
		}

		return TraceEntry{Index: i, Type: decodeErr.Type, Message: err.Error()}
	}

	switch s := step.(type) {
	case PassStep:
		return TraceEntry{Index: i, OK: true, Type: StepPass, Message: s.Message}
	case SleepStep:
		return in.sleep(ctx, i, s)
	case HTTPGetStep:
		if kind != KindHTTP {
			return httpKindMismatch(i)
		}

		return in.httpGet(ctx, i, s)
	default:
		return TraceEntry{Index: i, Type: step.Type(), Message: "unsupported step type: " + step.Type()}
	}
}

func httpKindMismatch(i int) TraceEntry {
	return TraceEntry{
		Index:   i,
		Type:    StepHTTPGet,
		Message: "http_get step requires kind=http",
	}
}

func (in *Interpreter) sleep(ctx context.Context, i int, s SleepStep) TraceEntry {
	seconds := s.Seconds
	entry := TraceEntry{Index: i, Type: StepSleep, Seconds: &seconds}

	wait, ok := secondsDuration(seconds)
	if !ok {
		entry.Message = "sleep length is too large"
		if math.IsNaN(seconds) {
			// NaN cannot be encoded in the trace.
			entry.Seconds = nil
			entry.Message = "invalid sleep length"
		}

		return entry
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			entry.Message = fmt.Sprintf("sleep interrupted: %v", ctx.Err())

			return entry
		}
	}

	entry.OK = true

	return entry
}
