// Package domain defines the core types for one deployment run: the staged
// service plan, probe specifications, and per-service and per-check outcomes.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package domain

import "time"

// =============================================================================
// Probe Specifications
// =============================================================================

// HTTPProbe checks readiness by issuing a GET request.
type HTTPProbe struct {
	// URL is the full probe target, e.g. "http://localhost:8000/health".
	URL string

	// ExpectStatus is the exact status code required for Ready.
	// Zero means any 2xx or 3xx status counts as Ready.
	ExpectStatus int

	// ExpectBodySubstring, when non-empty, must appear in the response body.
	ExpectBodySubstring string
}

// ExecProbe checks readiness by running a command and inspecting its exit
// status. Exit 0 means Ready, non-zero means NotReady. A command that cannot
// be started at all (not found, bad path) is a probe error, not NotReady.
type ExecProbe struct {
	Command []string
}

// ProbeSpec is polymorphic over the two probe variants. Exactly one variant
// is active per attempt; HTTP wins when both are set.
type ProbeSpec struct {
	HTTP *HTTPProbe
	Exec *ExecProbe
}

// Usable reports whether the spec carries a mechanism that can be evaluated.
func (p ProbeSpec) Usable() bool {
	return (p.HTTP != nil && p.HTTP.URL != "") || (p.Exec != nil && len(p.Exec.Command) > 0)
}

// =============================================================================
// Service Descriptors
// =============================================================================

// ServiceDescriptor describes one service of the platform: where it sits in
// the stage order, how it is probed, and whether its failure aborts the run.
type ServiceDescriptor struct {
	// Name is the service name as known to the substrate (compose service).
	Name string

	// Stage is the zero-based stage index. Indices across a plan must be
	// contiguous and monotonically increasing.
	Stage int

	// Probe is the primary readiness probe.
	Probe ProbeSpec

	// Fallback is the secondary probe used when the primary lacks a usable
	// mechanism or errors. A failing fallback is a config error, never a
	// silent pass.
	Fallback *ProbeSpec

	// Warmup is a fixed delay applied once before the first probe attempt.
	Warmup time.Duration

	// Optional marks a best-effort service whose failure is recorded but
	// does not gate stage progression.
	Optional bool

	// Interval and Timeout override the plan-wide polling defaults when
	// non-zero.
	Interval time.Duration
	Timeout  time.Duration
}

// Mandatory reports whether a failure of this service aborts the run.
func (s ServiceDescriptor) Mandatory() bool { return !s.Optional }

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is the terminal result of probing a single service.
type Outcome string

const (
	OutcomeHealthy     Outcome = "healthy"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeConfigError Outcome = "config_error"
	OutcomeSkipped     Outcome = "skipped"
)

// StageResult records how one service resolved within its stage.
type StageResult struct {
	Service  string
	Stage    int
	Optional bool
	Outcome  Outcome
	Elapsed  time.Duration
	Attempts int

	// Detail carries the failure reason for non-healthy outcomes.
	Detail string
}

// CheckOutcome is the result of a single validation check.
type CheckOutcome string

const (
	CheckPassed CheckOutcome = "passed"
	CheckFailed CheckOutcome = "failed"
)

// CheckResult records the outcome of one validation check against the live API.
type CheckResult struct {
	Name     string
	Optional bool
	Outcome  CheckOutcome
	Elapsed  time.Duration
	Detail   string
}
