// Package validate runs the post-deployment validation suite: a handful of
// real API calls against the platform that prove the deployed services do
// work, not merely answer their health endpoints.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
	"github.com/glaciereq/memstack/internal/shell/runlog"
)

// maxBodyBytes bounds how much of a validation response is read.
const maxBodyBytes = 256 * 1024

// =============================================================================
// Checks
// =============================================================================

// Check is one validation call. Assert inspects the response and returns an
// error describing what is wrong, or nil when the check passes.
type Check struct {
	Name     string
	Method   string
	Path     string
	Body     string // JSON payload for POST checks
	Assert   func(status int, body []byte) error
	Optional bool
}

// =============================================================================
// Suite
// =============================================================================

// Suite executes validation checks against the platform API.
type Suite struct {
	baseURL  string
	client   *http.Client
	checks   []Check
	recorder runlog.Recorder
	logger   *slog.Logger
}

// New creates a validation suite for the given API base URL.
func New(baseURL string, checks []Check, recorder runlog.Recorder, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 15 * time.Second},
		checks:   checks,
		recorder: recorder,
		logger:   logger.With("component", "validate"),
	}
}

// Run executes the checks in order and records the results on the run. A
// best-effort check failure is recorded and the suite continues; the first
// mandatory failure marks the run Fatal and the remaining checks never
// execute.
func (s *Suite) Run(ctx context.Context, run *domain.DeploymentRun) error {
	run.EnterValidation()

	for _, check := range s.checks {
		err := s.execute(ctx, check)

		result := domain.CheckResult{Name: check.Name, Optional: check.Optional}
		if err != nil {
			result.Outcome = domain.CheckFailed
			result.Detail = err.Error()
		} else {
			result.Outcome = domain.CheckPassed
		}
		run.RecordCheck(result)

		switch {
		case err == nil:
			s.recorder.Successf("validation: %s passed", check.Name)
		case check.Optional:
			s.recorder.Warningf("validation: best-effort check %s failed: %v", check.Name, err)
		default:
			s.recorder.Errorf("validation: %s failed: %v", check.Name, err)
			reason := fmt.Sprintf("validation check %s failed: %v", check.Name, err)
			run.Fail(reason, time.Now())
			return fmt.Errorf("%w: %s", domain.ErrValidationFailed, reason)
		}
	}
	return nil
}

// execute performs one check's HTTP call and assertion.
func (s *Suite) execute(ctx context.Context, check Check) error {
	var payload io.Reader
	if check.Body != "" {
		payload = bytes.NewReader([]byte(check.Body))
	}

	req, err := http.NewRequestWithContext(ctx, check.Method, s.baseURL+check.Path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if check.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	s.logger.Debug("validation call", "check", check.Name, "status", resp.StatusCode)
	return check.Assert(resp.StatusCode, body)
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// decodeObject parses a JSON object response body.
func decodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	return obj, nil
}

// expectOK fails on any non-2xx status.
func expectOK(status int) error {
	if status < 200 || status >= 300 {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}
