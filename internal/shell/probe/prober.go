package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
)

// =============================================================================
// Prober
// =============================================================================

// Result is the terminal outcome of one polling loop.
type Result struct {
	Outcome  domain.Outcome
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Prober runs the bounded polling loop for a single service.
type Prober struct {
	factory EvaluatorFactory
	logger  *slog.Logger
}

// NewProber creates a prober using the default evaluator factory.
func NewProber(logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{factory: NewEvaluator, logger: logger}
}

// NewProberWithFactory creates a prober with a custom evaluator factory.
// Used by tests to substitute fake evaluators.
func NewProberWithFactory(factory EvaluatorFactory, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{factory: factory, logger: logger}
}

// MaxAttempts computes the attempt budget for a given interval and timeout.
// Always at least 1.
func MaxAttempts(interval, timeout time.Duration) int {
	if interval <= 0 || timeout <= 0 {
		return 1
	}
	n := int((timeout + interval - 1) / interval)
	if n < 1 {
		return 1
	}
	return n
}

// Poll probes the service until it reports ready, the attempt budget is
// exhausted, or the probe mechanism turns out to be unusable.
//
//   - Ready on attempt k returns Healthy immediately: no further attempts,
//     no trailing sleep.
//   - NotReady sleeps the interval and retries.
//   - A probe error on the primary spec switches to the configured fallback
//     once; a probe error on the fallback (or with no fallback left) is a
//     ConfigError, never a silent pass.
//   - Context cancellation aborts at the current attempt boundary and
//     records the service as Skipped.
func (p *Prober) Poll(ctx context.Context, svc domain.ServiceDescriptor, interval, timeout time.Duration) Result {
	start := time.Now()
	maxAttempts := MaxAttempts(interval, timeout)
	logger := p.logger.With("service", svc.Name)

	eval, usingFallback, err := p.evaluator(svc)
	if err != nil {
		return Result{Outcome: domain.OutcomeConfigError, Elapsed: time.Since(start), Err: err}
	}

	logger.Debug("probing service",
		"interval", interval,
		"timeout", timeout,
		"max_attempts", maxAttempts,
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Result{Outcome: domain.OutcomeSkipped, Attempts: attempt - 1, Elapsed: time.Since(start), Err: ctx.Err()}
		}

		status, evalErr := eval.Evaluate(ctx)
		switch status {
		case StatusReady:
			logger.Debug("service ready", "attempt", attempt)
			return Result{Outcome: domain.OutcomeHealthy, Attempts: attempt, Elapsed: time.Since(start)}

		case StatusError:
			if !usingFallback && svc.Fallback != nil && svc.Fallback.Usable() {
				logger.Warn("primary probe unusable, switching to fallback", "error", evalErr)
				fallback, err := p.factory(*svc.Fallback)
				if err != nil {
					return Result{
						Outcome:  domain.OutcomeConfigError,
						Attempts: attempt,
						Elapsed:  time.Since(start),
						Err:      fmt.Errorf("fallback probe unusable: %w", err),
					}
				}
				eval, usingFallback = fallback, true
				// Re-evaluate with the fallback on the same attempt.
				attempt--
				continue
			}
			return Result{
				Outcome:  domain.OutcomeConfigError,
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Err:      fmt.Errorf("%w: probe failed: %v", domain.ErrConfig, evalErr),
			}

		case StatusNotReady:
			logger.Debug("service not ready", "attempt", attempt, "error", evalErr)
			if attempt == maxAttempts {
				return Result{
					Outcome:  domain.OutcomeTimedOut,
					Attempts: attempt,
					Elapsed:  time.Since(start),
					Err:      fmt.Errorf("%w: %d attempts over %s", domain.ErrReadinessTimeout, attempt, timeout),
				}
			}
			if err := sleepCtx(ctx, interval); err != nil {
				return Result{Outcome: domain.OutcomeSkipped, Attempts: attempt, Elapsed: time.Since(start), Err: err}
			}
		}
	}

	// Unreachable: the loop always returns on the last attempt.
	return Result{Outcome: domain.OutcomeTimedOut, Attempts: maxAttempts, Elapsed: time.Since(start)}
}

// evaluator resolves the active probe spec for a service, falling back to the
// secondary spec when the primary carries no usable mechanism.
func (p *Prober) evaluator(svc domain.ServiceDescriptor) (Evaluator, bool, error) {
	if svc.Probe.Usable() {
		eval, err := p.factory(svc.Probe)
		if err == nil {
			return eval, false, nil
		}
		if svc.Fallback == nil || !svc.Fallback.Usable() {
			return nil, false, err
		}
	} else if svc.Fallback == nil || !svc.Fallback.Usable() {
		return nil, false, fmt.Errorf("%w: service %s has no usable probe mechanism", domain.ErrConfig, svc.Name)
	}

	eval, err := p.factory(*svc.Fallback)
	if err != nil {
		return nil, false, fmt.Errorf("fallback probe unusable: %w", err)
	}
	return eval, true, nil
}

// sleepCtx sleeps for d unless the context is cancelled first.
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
