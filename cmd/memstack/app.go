package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glaciereq/memstack/internal/core/domain"
	"github.com/glaciereq/memstack/internal/core/plan"
	"github.com/glaciereq/memstack/internal/core/stack"
	"github.com/glaciereq/memstack/internal/shell/envfile"
	"github.com/glaciereq/memstack/internal/shell/extension"
	"github.com/glaciereq/memstack/internal/shell/history"
	"github.com/glaciereq/memstack/internal/shell/probe"
	"github.com/glaciereq/memstack/internal/shell/report"
	"github.com/glaciereq/memstack/internal/shell/runlog"
	"github.com/glaciereq/memstack/internal/shell/runtime"
	"github.com/glaciereq/memstack/internal/shell/sequencer"
	"github.com/glaciereq/memstack/internal/shell/validate"
)

// =============================================================================
// App
// =============================================================================

// App wires the orchestration components for one deployment run.
type App struct {
	cfg    *Config
	logger *slog.Logger

	// stdin/stdout are swappable for tests.
	stdin  io.Reader
	stdout io.Writer
}

// NewApp creates the application.
func NewApp(cfg *Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
}

// Run executes one deployment run end to end and returns the process exit
// code: 0 for Success, 1 for everything else.
func (a *App) Run(ctx context.Context, stackYAML string, assumeYes bool) int {
	recorder, closeLog, err := a.openRunLog()
	if err != nil {
		a.logger.Error("failed to open run log", "error", err)
		return ExitFailure
	}
	defer closeLog()

	run := domain.NewRun(newRunID(), time.Now())
	recorder.Infof("deployment %s starting", run.ID)

	exit := a.execute(ctx, run, recorder, stackYAML, assumeYes)

	a.journal(run)
	return exit
}

// execute drives the run through its phases. The run is terminal when this
// returns.
func (a *App) execute(ctx context.Context, run *domain.DeploymentRun, recorder runlog.Recorder, stackYAML string, assumeYes bool) int {
	// Precheck: secrets must exist before any service is started.
	run.EnterPrecheck()
	env, ok := a.precheck(run, recorder)
	if !ok {
		return ExitFailure
	}

	st, p, err := a.buildPlan(stackYAML)
	if err != nil {
		recorder.Errorf("invalid deployment plan: %v", err)
		run.Fail(fmt.Sprintf("invalid deployment plan: %v", err), time.Now())
		return ExitFailure
	}
	recorder.Infof("plan: %d stage(s), %d service(s)", len(p.Stages), len(p.Services()))

	if !assumeYes && !a.confirm(st) {
		recorder.Warningf("deployment aborted by operator")
		run.Fail("aborted by operator", time.Now())
		return ExitFailure
	}

	// Substrate preparation and the staged rollout.
	client, err := runtime.NewDockerClient(a.cfg.Docker.Host)
	if err != nil {
		recorder.Errorf("docker client: %v", err)
		run.Fail(fmt.Sprintf("docker client: %v", err), time.Now())
		return ExitFailure
	}
	defer client.Close()

	rt := runtime.New(client, st, env, a.logger)
	if err := rt.Prepare(ctx); err != nil {
		recorder.Errorf("substrate preparation failed: %v", err)
		run.Fail(fmt.Sprintf("substrate preparation failed: %v", err), time.Now())
		return ExitFailure
	}
	recorder.Successf("substrate ready: network and volumes created, images present")

	seq := sequencer.New(rt, probe.NewProber(a.logger), recorder, a.logger, sequencer.Config{
		MaxConcurrentProbes: a.cfg.Deploy.MaxConcurrentProbes,
	})
	if err := seq.Run(ctx, p, run); err != nil {
		a.logger.Error("rollout failed", "run", run.ID, "reason", run.FailureReason)
		return ExitFailure
	}

	// Post-deployment validation.
	suite := validate.New(a.cfg.API.BaseURL, validate.DefaultChecks(a.cfg.API.CaseID), recorder, a.logger)
	if err := suite.Run(ctx, run); err != nil {
		a.logger.Error("validation failed", "run", run.ID, "reason", run.FailureReason)
		return ExitFailure
	}

	run.Complete(time.Now())
	if run.Status != domain.StatusSuccess {
		recorder.Errorf("deployment %s failed: %s", run.ID, run.FailureReason)
		return ExitFailure
	}
	recorder.Successf("deployment %s succeeded", run.ID)

	// The summary and the plugin install happen only on Success, and neither
	// can change the outcome.
	report.New(a.cfg.API.BaseURL, a.logger).Render(ctx, run, a.stdout)
	extension.New(a.cfg.Extension.InstallCommand(), recorder, a.logger).Install(ctx)

	return ExitSuccess
}

// precheck materializes and verifies the env file. It returns the loaded
// environment and whether the run may proceed.
func (a *App) precheck(run *domain.DeploymentRun, recorder runlog.Recorder) (map[string]string, bool) {
	created, err := envfile.Ensure(a.cfg.Deploy.EnvFile)
	if err != nil {
		recorder.Errorf("env file: %v", err)
		run.Fail(fmt.Sprintf("env file: %v", err), time.Now())
		return nil, false
	}
	if created {
		recorder.Warningf("created %s; fill in the secrets and re-run", a.cfg.Deploy.EnvFile)
		fmt.Fprintf(a.stdout, "Created %s. Fill in the secrets and re-run.\n", a.cfg.Deploy.EnvFile)
		run.Fail("env file freshly created, secrets not yet set", time.Now())
		return nil, false
	}

	env, err := envfile.Load(a.cfg.Deploy.EnvFile)
	if err != nil {
		recorder.Errorf("env file: %v", err)
		run.Fail(fmt.Sprintf("env file: %v", err), time.Now())
		return nil, false
	}
	if err := envfile.CheckSecrets(env, envfile.DefaultRequired()); err != nil {
		recorder.Errorf("%v", err)
		run.Fail(err.Error(), time.Now())
		return nil, false
	}
	recorder.Successf("secrets precheck passed")
	return env, true
}

// buildPlan parses the stack and derives the staged plan from its memstack.*
// labels, falling back to the built-in platform plan for unlabeled stacks.
func (a *App) buildPlan(stackYAML string) (*stack.Stack, *plan.Plan, error) {
	st, err := stack.Parse(a.cfg.Deploy.StackName, stackYAML)
	if err != nil {
		return nil, nil, err
	}

	defaults := plan.Defaults{
		Interval: a.cfg.Deploy.ProbeInterval,
		Timeout:  a.cfg.Deploy.ProbeTimeout,
	}

	p, err := plan.FromStack(st, defaults)
	if err != nil {
		if !errors.Is(err, domain.ErrConfig) || !strings.Contains(err.Error(), "no service carries") {
			return nil, nil, err
		}
		p = plan.Default(plan.Endpoints{
			APIBaseURL:    a.cfg.API.BaseURL,
			PrometheusURL: a.cfg.API.PrometheusURL,
			GrafanaURL:    a.cfg.API.GrafanaURL,
		}, defaults)
		if err := p.Validate(); err != nil {
			return nil, nil, err
		}
	}

	// Every planned service must exist in the stack.
	for _, svc := range p.Services() {
		if st.Service(svc.Name) == nil {
			return nil, nil, fmt.Errorf("%w: planned service %s not in stack", domain.ErrConfig, svc.Name)
		}
	}

	return st, p, nil
}

// confirm asks the operator to approve the deployment.
func (a *App) confirm(st *stack.Stack) bool {
	fmt.Fprintf(a.stdout, "Deploy stack %q (%d services)? [y/N]: ", st.Name, len(st.Services))
	scanner := bufio.NewScanner(a.stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// openRunLog opens the append-only run log, creating its directory.
func (a *App) openRunLog() (runlog.Recorder, func(), error) {
	if dir := filepath.Dir(a.cfg.Deploy.RunLog); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	l := runlog.New(a.cfg.Deploy.RunLog, a.logger)
	return l, func() { l.Close() }, nil
}

// journal records the finished run. An empty DSN disables the journal;
// journal problems are warnings: the outcome has already been decided.
func (a *App) journal(run *domain.DeploymentRun) {
	if a.cfg.Deploy.HistoryDSN == "" {
		a.logger.Debug("history journal disabled")
		return
	}
	if dir := filepath.Dir(a.cfg.Deploy.HistoryDSN); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.logger.Warn("history directory", "error", err)
			return
		}
	}
	store, err := history.Open(a.cfg.Deploy.HistoryDSN)
	if err != nil {
		a.logger.Warn("history journal unavailable", "error", err)
		return
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Record(ctx, run); err != nil {
		a.logger.Warn("failed to journal run", "run", run.ID, "error", err)
	}
}

// newRunID returns a short unique run identifier.
func newRunID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		// uuid.NewRandom only fails when the entropy source does; fall back
		// to a direct read so the run still gets an ID.
		var b [4]byte
		rand.Read(b[:])
		return "run-" + hex.EncodeToString(b[:])
	}
	return "run-" + id.String()[:8]
}
