package plan

import (
	"strings"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
)

// =============================================================================
// Built-in Memory Platform Plan
// =============================================================================

// Endpoints are the probe targets of the built-in platform plan.
type Endpoints struct {
	APIBaseURL    string
	PrometheusURL string
	GrafanaURL    string
}

// Default returns the staged plan for the memory platform when the stack file
// carries no memstack.* labels: data stores first, then the memory API, then
// the monitoring pair. Postgres and redis expose no HTTP surface, so both
// probe via command exit status.
func Default(ep Endpoints, defaults Defaults) *Plan {
	api := strings.TrimRight(ep.APIBaseURL, "/")
	prom := strings.TrimRight(ep.PrometheusURL, "/")
	graf := strings.TrimRight(ep.GrafanaURL, "/")

	return &Plan{
		Defaults: defaults,
		Stages: [][]domain.ServiceDescriptor{
			{
				{
					Name:  "postgres",
					Stage: 0,
					Probe: domain.ProbeSpec{
						Exec: &domain.ExecProbe{Command: []string{"pg_isready", "-h", "localhost", "-p", "5432"}},
					},
				},
				{
					Name:  "redis",
					Stage: 0,
					Probe: domain.ProbeSpec{
						Exec: &domain.ExecProbe{Command: []string{"redis-cli", "-h", "localhost", "ping"}},
					},
				},
			},
			{
				{
					Name:  "memstack-api",
					Stage: 1,
					Probe: domain.ProbeSpec{
						HTTP: &domain.HTTPProbe{URL: api + "/health", ExpectStatus: 200},
					},
					// Provider adapters negotiate their upstream connections
					// on boot; probing earlier just burns attempts.
					Warmup: 10 * time.Second,
				},
			},
			{
				{
					Name:  "prometheus",
					Stage: 2,
					Probe: domain.ProbeSpec{
						HTTP: &domain.HTTPProbe{URL: prom + "/-/healthy", ExpectStatus: 200},
					},
				},
				{
					Name:  "grafana",
					Stage: 2,
					Probe: domain.ProbeSpec{
						HTTP: &domain.HTTPProbe{URL: graf + "/api/health", ExpectStatus: 200},
					},
					Optional: true,
				},
			},
		},
	}
}
