// Package sequencer drives the staged rollout: it starts every service of a
// stage, waits for the stage's mandatory readiness probes, and aborts the
// whole run the moment a mandatory service fails. Later stages are never
// attempted after a failure and nothing is rolled back.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
	"github.com/glaciereq/memstack/internal/core/plan"
	"github.com/glaciereq/memstack/internal/shell/probe"
	"github.com/glaciereq/memstack/internal/shell/runlog"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Substrate starts platform services. Start actions are idempotent: starting
// an already-running service is safe.
type Substrate interface {
	StartService(ctx context.Context, name string) error
}

// ServiceProber runs the bounded polling loop for one service.
type ServiceProber interface {
	Poll(ctx context.Context, svc domain.ServiceDescriptor, interval, timeout time.Duration) probe.Result
}

// =============================================================================
// Sequencer
// =============================================================================

// Config configures the sequencer.
type Config struct {
	// MaxConcurrentProbes bounds how many services of one stage are probed
	// in parallel. Default: 5.
	MaxConcurrentProbes int
}

// Sequencer executes the staged plan against the substrate.
type Sequencer struct {
	substrate Substrate
	prober    ServiceProber
	recorder  runlog.Recorder
	logger    *slog.Logger
	config    Config
}

// New creates a sequencer.
func New(substrate Substrate, prober ServiceProber, recorder runlog.Recorder, logger *slog.Logger, config Config) *Sequencer {
	if config.MaxConcurrentProbes <= 0 {
		config.MaxConcurrentProbes = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		substrate: substrate,
		prober:    prober,
		recorder:  recorder,
		logger:    logger.With("component", "sequencer"),
		config:    config,
	}
}

// Run executes every stage of the plan in order, recording results on the
// run. It returns nil only when every mandatory service of every stage
// resolved Healthy.
func (s *Sequencer) Run(ctx context.Context, p *plan.Plan, run *domain.DeploymentRun) error {
	for i, stage := range p.Stages {
		run.EnterStage(i)
		s.recorder.Infof("stage %d: starting %d service(s)", i, len(stage))

		if err := s.runStage(ctx, p, run, i, stage); err != nil {
			s.skipRemaining(run, p, i+1)
			return err
		}

		s.recorder.Successf("stage %d: all mandatory services healthy", i)
	}
	return nil
}

// runStage starts and probes one stage.
func (s *Sequencer) runStage(ctx context.Context, p *plan.Plan, run *domain.DeploymentRun, idx int, stage []domain.ServiceDescriptor) error {
	// Start every service first; probing begins only once the whole stage
	// has been issued its start actions.
	toProbe := make([]domain.ServiceDescriptor, 0, len(stage))
	for _, svc := range stage {
		if err := s.substrate.StartService(ctx, svc.Name); err != nil {
			res := domain.StageResult{
				Service:  svc.Name,
				Stage:    idx,
				Optional: svc.Optional,
				Outcome:  domain.OutcomeConfigError,
				Detail:   err.Error(),
			}
			if svc.Mandatory() {
				run.RecordStage(res)
				s.recorder.Errorf("stage %d: failed to start %s: %v", idx, svc.Name, err)
				s.failRun(run, fmt.Sprintf("failed to start %s: %v", svc.Name, err))
				// Stage-mates started before the failure were never probed;
				// they still belong in the record.
				s.skipServices(run, idx, toProbe, "probe not attempted")
				s.skipServices(run, idx, remainingAfter(stage, svc.Name), "stage not attempted")
				return fmt.Errorf("%w: start %s: %v", domain.ErrConfig, svc.Name, err)
			}
			run.RecordStage(res)
			s.recorder.Warningf("stage %d: failed to start best-effort service %s: %v", idx, svc.Name, err)
			continue
		}
		s.logger.Debug("service started", "service", svc.Name, "stage", idx)
		toProbe = append(toProbe, svc)
	}

	// Probe concurrently so stage latency is bounded by the slowest service,
	// not the sum. Each probe touches only its own target.
	results := make([]probe.Result, len(toProbe))
	sem := make(chan struct{}, s.config.MaxConcurrentProbes)
	var wg sync.WaitGroup

	for j := range toProbe {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				results[j] = probe.Result{Outcome: domain.OutcomeSkipped, Err: err}
				return
			}

			select {
			case <-ctx.Done():
				results[j] = probe.Result{Outcome: domain.OutcomeSkipped, Err: ctx.Err()}
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			svc := toProbe[j]
			if svc.Warmup > 0 {
				s.recorder.Infof("stage %d: warming up %s for %s", idx, svc.Name, svc.Warmup)
				if err := sleepCtx(ctx, svc.Warmup); err != nil {
					results[j] = probe.Result{Outcome: domain.OutcomeSkipped, Err: err}
					return
				}
			}
			results[j] = s.prober.Poll(ctx, svc, p.Interval(svc), p.Timeout(svc))
		}(j)
	}
	wg.Wait()

	// Record every result in stage order before deciding the stage's fate,
	// so a failing service does not swallow its stage-mates' results.
	var firstErr error
	var firstReason string
	for j, svc := range toProbe {
		res := results[j]
		run.RecordStage(domain.StageResult{
			Service:  svc.Name,
			Stage:    idx,
			Optional: svc.Optional,
			Outcome:  res.Outcome,
			Elapsed:  res.Elapsed,
			Attempts: res.Attempts,
			Detail:   detailOf(res),
		})

		switch {
		case res.Outcome == domain.OutcomeHealthy:
			s.recorder.Successf("stage %d: %s healthy after %d attempt(s)", idx, svc.Name, res.Attempts)
		case svc.Optional:
			s.recorder.Warningf("stage %d: best-effort service %s %s: %s", idx, svc.Name, res.Outcome, detailOf(res))
		default:
			s.recorder.Errorf("stage %d: %s %s: %s", idx, svc.Name, res.Outcome, detailOf(res))
			if firstErr == nil {
				firstErr = failureError(svc.Name, res)
				firstReason = fmt.Sprintf("%s %s: %s", svc.Name, res.Outcome, detailOf(res))
			}
		}
	}

	if firstErr != nil {
		s.failRun(run, firstReason)
	}
	return firstErr
}

// failRun marks the run Fatal. Recording of the remaining results of the
// failed stage has already happened by then.
func (s *Sequencer) failRun(run *domain.DeploymentRun, reason string) {
	if !run.Terminal() {
		run.Fail(reason, time.Now())
	}
}

// skipRemaining records Skipped results for every service of the stages that
// were never attempted.
func (s *Sequencer) skipRemaining(run *domain.DeploymentRun, p *plan.Plan, from int) {
	for i := from; i < len(p.Stages); i++ {
		s.skipServices(run, i, p.Stages[i], "stage not attempted")
	}
}

func (s *Sequencer) skipServices(run *domain.DeploymentRun, idx int, services []domain.ServiceDescriptor, detail string) {
	for _, svc := range services {
		// The run is already terminal here; append directly so the report
		// still shows which services were never attempted.
		run.Stages = append(run.Stages, domain.StageResult{
			Service:  svc.Name,
			Stage:    idx,
			Optional: svc.Optional,
			Outcome:  domain.OutcomeSkipped,
			Detail:   detail,
		})
	}
}

func remainingAfter(stage []domain.ServiceDescriptor, name string) []domain.ServiceDescriptor {
	for i, svc := range stage {
		if svc.Name == name {
			return stage[i+1:]
		}
	}
	return nil
}

func detailOf(res probe.Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	return ""
}

func failureError(service string, res probe.Result) error {
	switch res.Outcome {
	case domain.OutcomeTimedOut:
		return fmt.Errorf("%w: %s", domain.ErrReadinessTimeout, service)
	case domain.OutcomeSkipped:
		return fmt.Errorf("%w: %s: %v", domain.ErrRunAborted, service, res.Err)
	default:
		return fmt.Errorf("%w: %s: %v", domain.ErrConfig, service, res.Err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
