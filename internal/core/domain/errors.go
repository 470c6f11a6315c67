package domain

import "errors"

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrConfig covers missing required tools, missing required credentials,
	// and probe mechanisms that cannot be used. Fatal wherever it surfaces;
	// when raised during Precheck no service has been touched yet.
	ErrConfig = errors.New("configuration error")

	// ErrReadinessTimeout means a mandatory service exhausted its probe
	// budget without reporting ready. Fatal at the current stage; already
	// started services are not rolled back.
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrValidationFailed means a mandatory validation check failed against
	// the live API.
	ErrValidationFailed = errors.New("validation failed")

	// ErrRunAborted means the operator interrupted the run.
	ErrRunAborted = errors.New("run aborted")
)
