package domain

import "time"

// =============================================================================
// Run Status and Phases
// =============================================================================

// RunStatus is the overall status of a deployment run.
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFatal   RunStatus = "fatal"
)

// Phase identifies where in the state machine the run currently is:
// Init -> Precheck -> Stages -> Validation -> Done. Fatal is reachable from
// Precheck, any stage, or Validation; Done and Fatal are terminal.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhasePrecheck   Phase = "precheck"
	PhaseStages     Phase = "stages"
	PhaseValidation Phase = "validation"
	PhaseDone       Phase = "done"
)

// =============================================================================
// DeploymentRun
// =============================================================================

// DeploymentRun is the top-level record of one orchestration attempt. It is
// created fresh per invocation and only ever appended to; once the run
// reaches a terminal status all further transitions are ignored.
type DeploymentRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	Status RunStatus
	Phase  Phase

	// Stage is the index of the stage currently (or last) being executed.
	// Only meaningful once the run has entered PhaseStages.
	Stage int

	Stages []StageResult
	Checks []CheckResult

	// FailureReason describes the first mandatory failure for Fatal runs.
	FailureReason string
}

// NewRun creates a fresh run in its initial state.
func NewRun(id string, now time.Time) *DeploymentRun {
	return &DeploymentRun{
		ID:        id,
		StartedAt: now,
		Status:    StatusRunning,
		Phase:     PhaseInit,
	}
}

// Terminal reports whether the run has reached Success or Fatal.
func (r *DeploymentRun) Terminal() bool {
	return r.Status != StatusRunning
}

// EnterPrecheck moves the run into the precheck phase.
func (r *DeploymentRun) EnterPrecheck() {
	if r.Terminal() {
		return
	}
	r.Phase = PhasePrecheck
}

// EnterStage moves the run into stage i.
func (r *DeploymentRun) EnterStage(i int) {
	if r.Terminal() {
		return
	}
	r.Phase = PhaseStages
	r.Stage = i
}

// EnterValidation moves the run into the validation phase.
func (r *DeploymentRun) EnterValidation() {
	if r.Terminal() {
		return
	}
	r.Phase = PhaseValidation
}

// RecordStage appends a per-service stage result.
func (r *DeploymentRun) RecordStage(res StageResult) {
	if r.Terminal() {
		return
	}
	r.Stages = append(r.Stages, res)
}

// RecordCheck appends a validation check result.
func (r *DeploymentRun) RecordCheck(res CheckResult) {
	if r.Terminal() {
		return
	}
	r.Checks = append(r.Checks, res)
}

// Fail transitions the run to Fatal. The first reason wins; later calls are
// no-ops because Fatal is terminal.
func (r *DeploymentRun) Fail(reason string, now time.Time) {
	if r.Terminal() {
		return
	}
	r.Status = StatusFatal
	r.FailureReason = reason
	r.FinishedAt = now
}

// Complete transitions the run to Success, but only if every mandatory stage
// result is Healthy and every mandatory check Passed. A run that does not
// satisfy both is marked Fatal instead; the sequencer and validation suite
// enforce fail-fast before this point, so hitting that branch means a caller
// skipped a gate.
func (r *DeploymentRun) Complete(now time.Time) {
	if r.Terminal() {
		return
	}
	if !r.MandatoryStagesHealthy() {
		r.Fail("mandatory service not healthy", now)
		return
	}
	if !r.MandatoryChecksPassed() {
		r.Fail("mandatory validation check failed", now)
		return
	}
	r.Status = StatusSuccess
	r.Phase = PhaseDone
	r.FinishedAt = now
}

// MandatoryStagesHealthy reports whether every mandatory stage result is
// Healthy.
func (r *DeploymentRun) MandatoryStagesHealthy() bool {
	for _, s := range r.Stages {
		if !s.Optional && s.Outcome != OutcomeHealthy {
			return false
		}
	}
	return true
}

// MandatoryChecksPassed reports whether every mandatory check passed.
func (r *DeploymentRun) MandatoryChecksPassed() bool {
	for _, c := range r.Checks {
		if !c.Optional && c.Outcome != CheckPassed {
			return false
		}
	}
	return true
}

// ExitCode maps the terminal status to the process exit code.
func (r *DeploymentRun) ExitCode() int {
	if r.Status == StatusSuccess {
		return 0
	}
	return 1
}
