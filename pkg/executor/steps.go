package executor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Step types understood by the interpreter.
const (
	StepPass    = "pass"
	StepSleep   = "sleep"
	StepHTTPGet = "http_get"
)

const (
	// DefaultExpectStatus is used when an http_get step omits expect_status.
	DefaultExpectStatus = 200

	// DefaultTimeoutSeconds is used when an http_get step omits timeout_s
	// or sets it to a non-positive value.
	DefaultTimeoutSeconds = 10.0
)

// ErrInvalidStep is returned for a step that is not an object.
var ErrInvalidStep = errors.New("invalid step")

// UnsupportedStepError is returned for a step whose type is unknown.
type UnsupportedStepError struct {
	Type string
}

func (e *UnsupportedStepError) Error() string {
	return fmt.Sprintf("unsupported step type: %s", e.Type)
}

// DecodeError is returned when a known step carries fields of the wrong
// shape.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid %s step: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Step is one parsed element of a case's steps list.
type Step interface {
	Type() string
}

// PassStep always succeeds.
type PassStep struct {
	Message string `mapstructure:"message"`
}

// Type implements Step.
func (PassStep) Type() string { return StepPass }

// SleepStep waits for Seconds before succeeding.
type SleepStep struct {
	Seconds float64 `mapstructure:"seconds"`
}

// Type implements Step.
func (SleepStep) Type() string { return StepSleep }

// HTTPGetStep issues a GET request and checks the response.
type HTTPGetStep struct {
	URL            string  `mapstructure:"url"`
	ExpectStatus   *int    `mapstructure:"expect_status"`
	ExpectContains *string `mapstructure:"expect_contains"`
	TimeoutS       float64 `mapstructure:"timeout_s"`
}

// Type implements Step.
func (HTTPGetStep) Type() string { return StepHTTPGet }

// Status returns the expected status code.
func (s HTTPGetStep) Status() int {
	if s.ExpectStatus == nil {
		return DefaultExpectStatus
	}

	return *s.ExpectStatus
}

// Timeout returns the request timeout in seconds.
func (s HTTPGetStep) Timeout() float64 {
	if s.TimeoutS <= 0 || math.IsNaN(s.TimeoutS) {
		return DefaultTimeoutSeconds
	}

	return s.TimeoutS
}

// secondsDuration converts seconds to a time.Duration. It reports false
// for NaN and for values too large to fit in a Duration.
func secondsDuration(seconds float64) (time.Duration, bool) {
	if math.IsNaN(seconds) {
		return 0, false
	}

	d := seconds * float64(time.Second)
	if d >= math.MaxInt64 {
		return 0, false
	}

	return time.Duration(d), true
}

// ParseSteps extracts the ordered step list from a spec document. A
// missing or non-list "steps" yields no steps.
func ParseSteps(spec map[string]any) []any {
	steps, ok := spec["steps"].([]any)
	if !ok {
		return nil
	}

	return steps
}

// ParseStep decodes a raw step into its typed variant. Numeric and
// string fields are coerced loosely, so "1.5" is a valid sleep duration.
func ParseStep(raw any) (Step, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrInvalidStep
	}

	stepType := stepTypeOf(fields)

	switch stepType {
	case StepPass:
		var s PassStep
		if err := decode(fields, &s); err != nil || s.Message == "" {
			s.Message = "pass"
		}

		return s, nil
	case StepSleep:
		var s SleepStep
		if err := decode(fields, &s); err != nil {
			s.Seconds = 0
		}

		if s.Seconds < 0 {
			s.Seconds = 0
		}

		return s, nil
	case StepHTTPGet:
		var s HTTPGetStep
		if err := decode(fields, &s); err != nil {
			return s, &DecodeError{Type: stepType, Err: err}
		}

		return s, nil
	default:
		return nil, &UnsupportedStepError{Type: stepType}
	}
}

func stepTypeOf(fields map[string]any) string {
	switch t := fields["type"].(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func decode(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}

	return dec.Decode(fields)
}
