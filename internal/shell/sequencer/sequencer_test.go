package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciereq/memstack/internal/core/domain"
	"github.com/glaciereq/memstack/internal/core/plan"
	"github.com/glaciereq/memstack/internal/shell/probe"
)

// =============================================================================
// Test Fakes
// =============================================================================

type fakeSubstrate struct {
	mu      sync.Mutex
	started []string
	failOn  map[string]error
}

func (f *fakeSubstrate) StartService(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[name]; ok {
		return err
	}
	f.started = append(f.started, name)
	return nil
}

func (f *fakeSubstrate) startedServices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type fakeProber struct {
	mu      sync.Mutex
	results map[string]probe.Result
	probed  []string
}

func (f *fakeProber) Poll(ctx context.Context, svc domain.ServiceDescriptor, _, _ time.Duration) probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return probe.Result{Outcome: domain.OutcomeSkipped, Err: err}
	}
	f.probed = append(f.probed, svc.Name)
	if res, ok := f.results[svc.Name]; ok {
		return res
	}
	return probe.Result{Outcome: domain.OutcomeHealthy, Attempts: 1}
}

func (f *fakeProber) probedServices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

type nopRecorder struct{}

func (nopRecorder) Infof(string, ...any)    {}
func (nopRecorder) Successf(string, ...any) {}
func (nopRecorder) Warningf(string, ...any) {}
func (nopRecorder) Errorf(string, ...any)   {}

func testPlan() *plan.Plan {
	httpProbe := func(url string) domain.ProbeSpec {
		return domain.ProbeSpec{HTTP: &domain.HTTPProbe{URL: url}}
	}
	return &plan.Plan{
		Defaults: plan.Defaults{Interval: time.Millisecond, Timeout: 10 * time.Millisecond},
		Stages: [][]domain.ServiceDescriptor{
			{
				{Name: "postgres", Stage: 0, Probe: httpProbe("http://localhost:5432/")},
				{Name: "redis", Stage: 0, Probe: httpProbe("http://localhost:6379/")},
			},
			{
				{Name: "memstack-api", Stage: 1, Probe: httpProbe("http://localhost:8000/health")},
			},
			{
				{Name: "grafana", Stage: 2, Optional: true, Probe: httpProbe("http://localhost:3000/api/health")},
			},
		},
	}
}

func newSequencer(sub *fakeSubstrate, pr *fakeProber) *Sequencer {
	return New(sub, pr, nopRecorder{}, slog.New(slog.DiscardHandler), Config{MaxConcurrentProbes: 2})
}

func outcomeOf(run *domain.DeploymentRun, service string) (domain.Outcome, bool) {
	for _, res := range run.Stages {
		if res.Service == service {
			return res.Outcome, true
		}
	}
	return "", false
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_AllStagesHealthy(t *testing.T) {
	sub := &fakeSubstrate{}
	pr := &fakeProber{}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"postgres", "redis", "memstack-api", "grafana"}, sub.startedServices())
	assert.Len(t, run.Stages, 4)
	for _, res := range run.Stages {
		assert.Equal(t, domain.OutcomeHealthy, res.Outcome)
	}
}

func TestRun_StageOrdering(t *testing.T) {
	sub := &fakeSubstrate{}
	pr := &fakeProber{}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)
	require.NoError(t, err)

	// memstack-api must not start until both stage-0 services were probed.
	started := sub.startedServices()
	apiIdx := indexOf(started, "memstack-api")
	require.GreaterOrEqual(t, apiIdx, 2)
	probed := pr.probedServices()
	assert.ElementsMatch(t, []string{"postgres", "redis"}, probed[:2])
}

func TestRun_MandatoryTimeoutAbortsLaterStages(t *testing.T) {
	sub := &fakeSubstrate{}
	pr := &fakeProber{results: map[string]probe.Result{
		"postgres": {Outcome: domain.OutcomeTimedOut, Attempts: 10, Err: domain.ErrReadinessTimeout},
	}}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)

	assert.ErrorIs(t, err, domain.ErrReadinessTimeout)
	assert.Equal(t, domain.StatusFatal, run.Status)

	// Stage 1 and 2 services were never started or probed.
	assert.NotContains(t, sub.startedServices(), "memstack-api")
	assert.NotContains(t, sub.startedServices(), "grafana")
	assert.NotContains(t, pr.probedServices(), "memstack-api")

	// But they are still visible in the record as skipped.
	outcome, ok := outcomeOf(run, "memstack-api")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSkipped, outcome)
	outcome, ok = outcomeOf(run, "grafana")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSkipped, outcome)
}

func TestRun_OptionalFailureDoesNotAbort(t *testing.T) {
	sub := &fakeSubstrate{}
	pr := &fakeProber{results: map[string]probe.Result{
		"grafana": {Outcome: domain.OutcomeTimedOut, Attempts: 10, Err: domain.ErrReadinessTimeout},
	}}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, run.Status)
	outcome, ok := outcomeOf(run, "grafana")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeTimedOut, outcome)
}

func TestRun_MandatoryStartFailureIsConfigError(t *testing.T) {
	sub := &fakeSubstrate{failOn: map[string]error{"postgres": errors.New("image pull failed")}}
	pr := &fakeProber{}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)

	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Equal(t, domain.StatusFatal, run.Status)
	outcome, ok := outcomeOf(run, "postgres")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeConfigError, outcome)

	// redis came after postgres in the stage; it is recorded as skipped and
	// never probed.
	outcome, ok = outcomeOf(run, "redis")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSkipped, outcome)
	assert.Empty(t, pr.probedServices())
}

func TestRun_StartFailureRecordsStartedStageMates(t *testing.T) {
	// postgres starts fine; redis, second in the stage, fails to start.
	sub := &fakeSubstrate{failOn: map[string]error{"redis": errors.New("port already allocated")}}
	pr := &fakeProber{}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)

	assert.ErrorIs(t, err, domain.ErrConfig)
	assert.Equal(t, domain.StatusFatal, run.Status)
	assert.Empty(t, pr.probedServices())

	// postgres was started but never probed; it must not vanish from the
	// record.
	outcome, ok := outcomeOf(run, "postgres")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeSkipped, outcome)

	// Every planned service appears exactly once.
	assert.Len(t, run.Stages, 4)
}

func TestRun_OptionalStartFailureContinues(t *testing.T) {
	sub := &fakeSubstrate{failOn: map[string]error{"grafana": errors.New("no such image")}}
	pr := &fakeProber{}
	run := domain.NewRun("run-test", time.Now())

	err := newSequencer(sub, pr).Run(context.Background(), testPlan(), run)

	require.NoError(t, err)
	outcome, ok := outcomeOf(run, "grafana")
	require.True(t, ok)
	assert.Equal(t, domain.OutcomeConfigError, outcome)
	assert.NotContains(t, pr.probedServices(), "grafana")
}

func TestRun_CancelledContextSkips(t *testing.T) {
	sub := &fakeSubstrate{}
	pr := &fakeProber{}
	run := domain.NewRun("run-test", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newSequencer(sub, pr).Run(ctx, testPlan(), run)

	assert.ErrorIs(t, err, domain.ErrRunAborted)
	assert.Equal(t, domain.StatusFatal, run.Status)
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}
