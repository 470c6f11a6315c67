package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glaciereq/memstack/internal/core/domain"
	"github.com/glaciereq/memstack/internal/shell/envfile"
	"github.com/glaciereq/memstack/internal/shell/history"
	"github.com/glaciereq/memstack/internal/shell/runlog"
)

// =============================================================================
// Test Helpers
// =============================================================================

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Deploy.EnvFile = filepath.Join(dir, ".env")
	cfg.Deploy.RunLog = filepath.Join(dir, "deploy.log")
	cfg.Deploy.HistoryDSN = filepath.Join(dir, "history.db")
	return cfg
}

func testApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	app := NewApp(cfg, slog.New(slog.DiscardHandler))
	app.stdin = strings.NewReader("")
	app.stdout = &strings.Builder{}
	return app
}

type captureRecorder struct{ lines []string }

func (c *captureRecorder) Infof(format string, args ...any)    { c.add("INFO", format, args) }
func (c *captureRecorder) Successf(format string, args ...any) { c.add("SUCCESS", format, args) }
func (c *captureRecorder) Warningf(format string, args ...any) { c.add("WARNING", format, args) }
func (c *captureRecorder) Errorf(format string, args ...any)   { c.add("ERROR", format, args) }

func (c *captureRecorder) add(level, format string, args []any) {
	c.lines = append(c.lines, level+" "+format)
}

var _ runlog.Recorder = (*captureRecorder)(nil)

// =============================================================================
// Plan Building Tests
// =============================================================================

func TestBuildPlan_EmbeddedStack(t *testing.T) {
	app := testApp(t, testConfig(t))

	st, p, err := app.buildPlan(defaultStackYAML)

	require.NoError(t, err)
	assert.Equal(t, "memstack", st.Name)
	require.Len(t, p.Stages, 3)

	// Stage 0: data stores by exec probe.
	names := make([]string, 0, 2)
	for _, svc := range p.Stages[0] {
		names = append(names, svc.Name)
	}
	assert.ElementsMatch(t, []string{"postgres", "redis"}, names)

	// Stage 1: the API with its warmup.
	require.Len(t, p.Stages[1], 1)
	api := p.Stages[1][0]
	assert.Equal(t, "memstack-api", api.Name)
	assert.Equal(t, 10*time.Second, api.Warmup)
	require.NotNil(t, api.Probe.HTTP)
	assert.Equal(t, 200, api.Probe.HTTP.ExpectStatus)

	// Stage 2: monitoring, grafana best-effort.
	var grafana *domain.ServiceDescriptor
	for i := range p.Stages[2] {
		if p.Stages[2][i].Name == "grafana" {
			grafana = &p.Stages[2][i]
		}
	}
	require.NotNil(t, grafana)
	assert.True(t, grafana.Optional)
}

func TestBuildPlan_UnlabeledStackFallsBackToDefault(t *testing.T) {
	app := testApp(t, testConfig(t))
	yaml := `
services:
  postgres:
    image: postgres:16-alpine
  redis:
    image: redis:7-alpine
  memstack-api:
    image: memstack/api:latest
  prometheus:
    image: prom/prometheus:v2.53.0
  grafana:
    image: grafana/grafana:11.1.0
`

	_, p, err := app.buildPlan(yaml)

	require.NoError(t, err)
	require.Len(t, p.Stages, 3)
	assert.Equal(t, "memstack-api", p.Stages[1][0].Name)
}

func TestBuildPlan_PlannedServiceMissingFromStack(t *testing.T) {
	app := testApp(t, testConfig(t))
	// Unlabeled stack triggers the built-in plan, which expects postgres,
	// redis, memstack-api, prometheus, and grafana to exist.
	yaml := `
services:
  postgres:
    image: postgres:16-alpine
`

	_, _, err := app.buildPlan(yaml)

	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestBuildPlan_InvalidYAML(t *testing.T) {
	app := testApp(t, testConfig(t))

	_, _, err := app.buildPlan("{{not yaml")

	assert.Error(t, err)
}

// =============================================================================
// Precheck Tests
// =============================================================================

func TestPrecheck_FreshEnvFileStopsRun(t *testing.T) {
	cfg := testConfig(t)
	app := testApp(t, cfg)
	run := domain.NewRun("run-test", time.Now())

	_, ok := app.precheck(run, &captureRecorder{})

	assert.False(t, ok)
	assert.Equal(t, domain.StatusFatal, run.Status)
	// The template was materialized for the operator.
	env, err := envfile.Load(cfg.Deploy.EnvFile)
	require.NoError(t, err)
	assert.Equal(t, "changeme", env["MEM0_API_KEY"])
}

func TestPrecheck_PlaceholderSecretsStopRun(t *testing.T) {
	cfg := testConfig(t)
	app := testApp(t, cfg)

	// First run materializes the template.
	_, ok := app.precheck(domain.NewRun("run-1", time.Now()), &captureRecorder{})
	require.False(t, ok)

	// Second run still refuses: the placeholders were never replaced.
	run := domain.NewRun("run-2", time.Now())
	_, ok = app.precheck(run, &captureRecorder{})

	assert.False(t, ok)
	assert.Contains(t, run.FailureReason, "secrets not set")
}

func TestPrecheck_FilledSecretsPass(t *testing.T) {
	cfg := testConfig(t)
	app := testApp(t, cfg)
	writeEnv(t, cfg.Deploy.EnvFile)

	run := domain.NewRun("run-test", time.Now())
	env, ok := app.precheck(run, &captureRecorder{})

	assert.True(t, ok)
	assert.Equal(t, domain.StatusRunning, run.Status)
	assert.Equal(t, "m0-abc", env["MEM0_API_KEY"])
}

func writeEnv(t *testing.T, path string) {
	t.Helper()
	content := `MEM0_API_KEY=m0-abc
SUPERMEMORY_API_KEY=sm-xyz
ENCRYPTION_KEY=0123456789abcdef
POSTGRES_PASSWORD=pg-secret
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// =============================================================================
// Journal Tests
// =============================================================================

func TestJournal_RecordsTerminalRun(t *testing.T) {
	cfg := testConfig(t)
	app := testApp(t, cfg)
	run := domain.NewRun("run-test", time.Now())
	run.Complete(time.Now())

	app.journal(run)

	store, err := history.Open(cfg.Deploy.HistoryDSN)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-test", runs[0].ID)
}

func TestJournal_EmptyDSNDisablesJournal(t *testing.T) {
	cfg := testConfig(t)
	dbPath := cfg.Deploy.HistoryDSN
	cfg.Deploy.HistoryDSN = ""
	app := testApp(t, cfg)
	run := domain.NewRun("run-test", time.Now())
	run.Complete(time.Now())

	app.journal(run)

	// Nothing was written anywhere, not even an anonymous database.
	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))
}

// =============================================================================
// Confirmation Tests
// =============================================================================

func TestConfirm_AcceptsYes(t *testing.T) {
	app := testApp(t, testConfig(t))
	st, _, err := app.buildPlan(defaultStackYAML)
	require.NoError(t, err)

	for answer, want := range map[string]bool{
		"y\n":     true,
		"yes\n":   true,
		"Y\n":     true,
		"n\n":     false,
		"\n":      false,
		"maybe\n": false,
	} {
		app.stdin = strings.NewReader(answer)
		assert.Equal(t, want, app.confirm(st), "answer %q", answer)
	}
}
