package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
)

func (in *Interpreter) httpGet(ctx context.Context, i int, s HTTPGetStep) TraceEntry {
	entry := TraceEntry{Index: i, Type: StepHTTPGet, URL: s.URL}

	if s.URL == "" {
		// Matches the historical trace shape: no type on this entry.
		return TraceEntry{Index: i, Message: "missing url"}
	}

	status, body, truncated, err := in.fetch(ctx, s.URL, s.Timeout())
	if err != nil {
		entry.Message = fmt.Sprintf("http_get failed: %s: %s", errorClass(err), errorText(err))

		return entry
	}

	expect := s.Status()
	if status != expect {
		entry.Status = &status
		entry.ExpectStatus = &expect
		entry.Message = fmt.Sprintf("expected status %d, got %d", expect, status)

		return entry
	}

	if s.ExpectContains != nil {
		if !strings.Contains(decodeLossy(body), *s.ExpectContains) {
			entry.Status = &status
			entry.ExpectContains = s.ExpectContains
			entry.Message = "response body missing expected substring"
			if truncated {
				entry.Message += fmt.Sprintf(" (body truncated at %d bytes)", in.maxBodyBytes)
			}

			return entry
		}
	}

	entry.OK = true
	entry.Status = &status

	return entry
}

// fetch performs a GET bounded by timeoutS and returns at most
// maxBodyBytes of the response body. truncated is set when the body was
// longer than that. A timeout too large for a time.Duration applies no
// deadline of its own.
func (in *Interpreter) fetch(
	ctx context.Context, target string, timeoutS float64,
) (status int, body []byte, truncated bool, err error) {
	if timeout, ok := secondsDuration(timeoutS); ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, false, err
	}

	req.Header.Set("User-Agent", in.userAgent)

	resp, err := in.client.Do(req)
	if err != nil {
		return 0, nil, false, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, in.maxBodyBytes+1))
	if err != nil {
		return 0, nil, false, fmt.Errorf("reading body: %w", err)
	}

	if int64(len(body)) > in.maxBodyBytes {
		body = body[:in.maxBodyBytes]
		truncated = true
	}

	in.log.WithFields(logrus.Fields{
		"url":       target,
		"status":    resp.StatusCode,
		"bytes":     len(body),
		"truncated": truncated,
	}).Debug("http_get completed")

	return resp.StatusCode, body, truncated, nil
}

// decodeLossy decodes body as UTF-8, replacing invalid sequences with
// U+FFFD.
func decodeLossy(body []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(body)
	if err != nil {
		return ""
	}

	return string(out)
}

// errorClass names the underlying error type, skipping the *url.Error
// wrapper that every client failure carries.
func errorClass(err error) string {
	inner := unwrapURLError(err)

	return strings.TrimPrefix(fmt.Sprintf("%T", inner), "*")
}

func errorText(err error) string {
	return unwrapURLError(err).Error()
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}

	return err
}
