// Package probe implements readiness probing: single-shot probe evaluation
// over HTTP or command exit status, and the bounded polling loop that turns
// attempts into a service outcome.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
)

// =============================================================================
// Attempt Status
// =============================================================================

// Status is the result of a single probe attempt. StatusError means the probe
// mechanism itself is unusable (command not found, malformed URL) and is
// distinct from NotReady: it is not retried.
type Status int

const (
	StatusNotReady Status = iota
	StatusReady
	StatusError
)

// Evaluator performs one probe attempt.
type Evaluator interface {
	Evaluate(ctx context.Context) (Status, error)
}

// EvaluatorFactory builds an Evaluator for a probe spec. A spec with no
// usable mechanism yields an error.
type EvaluatorFactory func(spec domain.ProbeSpec) (Evaluator, error)

// NewEvaluator is the default factory. HTTP wins when both variants are set.
func NewEvaluator(spec domain.ProbeSpec) (Evaluator, error) {
	switch {
	case spec.HTTP != nil && spec.HTTP.URL != "":
		return newHTTPEvaluator(*spec.HTTP)
	case spec.Exec != nil && len(spec.Exec.Command) > 0:
		return &execEvaluator{spec: *spec.Exec}, nil
	default:
		return nil, fmt.Errorf("%w: probe spec has no usable mechanism", domain.ErrConfig)
	}
}

// =============================================================================
// HTTP Probe
// =============================================================================

// maxProbeBody bounds how much of a response body is read for the substring
// check.
const maxProbeBody = 64 * 1024

type httpEvaluator struct {
	spec   domain.HTTPProbe
	client *http.Client
}

func newHTTPEvaluator(spec domain.HTTPProbe) (*httpEvaluator, error) {
	u, err := url.Parse(spec.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: malformed probe URL %q", domain.ErrConfig, spec.URL)
	}
	return &httpEvaluator{
		spec:   spec,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Evaluate issues one GET against the probe URL. Transport failures mean the
// service is not up yet, so they count as NotReady rather than an error.
func (e *httpEvaluator) Evaluate(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.spec.URL, nil)
	if err != nil {
		return StatusError, fmt.Errorf("%w: build probe request: %v", domain.ErrConfig, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return StatusNotReady, ctx.Err()
		}
		return StatusNotReady, err
	}
	defer resp.Body.Close()

	if e.spec.ExpectStatus != 0 {
		if resp.StatusCode != e.spec.ExpectStatus {
			return StatusNotReady, fmt.Errorf("status %d, want %d", resp.StatusCode, e.spec.ExpectStatus)
		}
	} else if resp.StatusCode >= 400 {
		return StatusNotReady, fmt.Errorf("status %d", resp.StatusCode)
	}

	if e.spec.ExpectBodySubstring != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
		if err != nil {
			return StatusNotReady, err
		}
		if !strings.Contains(string(body), e.spec.ExpectBodySubstring) {
			return StatusNotReady, fmt.Errorf("body does not contain %q", e.spec.ExpectBodySubstring)
		}
	}

	return StatusReady, nil
}

// =============================================================================
// Exec Probe
// =============================================================================

type execEvaluator struct {
	spec domain.ExecProbe
}

// Evaluate runs the command once. Exit 0 is Ready, any non-zero exit is
// NotReady. A command that cannot be started (not found, permission) is a
// probe error: retrying it cannot help.
func (e *execEvaluator) Evaluate(ctx context.Context) (Status, error) {
	cmd := exec.CommandContext(ctx, e.spec.Command[0], e.spec.Command[1:]...)
	err := cmd.Run()
	if err == nil {
		return StatusReady, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return StatusNotReady, ctx.Err()
		}
		return StatusNotReady, fmt.Errorf("exit status %d", exitErr.ExitCode())
	}

	return StatusError, fmt.Errorf("%w: cannot run %q: %v", domain.ErrConfig, e.spec.Command[0], err)
}
