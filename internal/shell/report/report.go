// Package report renders the end-of-run deployment summary: what was
// deployed, how long each service took to come up, what validation found,
// and a live snapshot of the platform's own health and metrics endpoints.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
)

// =============================================================================
// Reporter
// =============================================================================

// Reporter renders the deployment summary. It only reports: a snapshot fetch
// failure degrades the report but never the run.
type Reporter struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a reporter against the platform API base URL.
func New(baseURL string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "report"),
	}
}

// Render writes the summary for a successful run to w.
func (r *Reporter) Render(ctx context.Context, run *domain.DeploymentRun, w io.Writer) {
	fmt.Fprintf(w, "\n========================================\n")
	fmt.Fprintf(w, " Deployment %s\n", run.ID)
	fmt.Fprintf(w, "========================================\n")
	fmt.Fprintf(w, "Status:   %s\n", run.Status)
	fmt.Fprintf(w, "Duration: %s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	r.renderStages(run, w)
	r.renderChecks(run, w)
	r.renderSnapshot(ctx, w)
}

// renderStages writes the per-service readiness table.
func (r *Reporter) renderStages(run *domain.DeploymentRun, w io.Writer) {
	if len(run.Stages) == 0 {
		return
	}
	fmt.Fprintln(w, "Services:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  STAGE\tSERVICE\tOUTCOME\tATTEMPTS\tELAPSED")
	for _, res := range run.Stages {
		name := res.Service
		if res.Optional {
			name += " (best-effort)"
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%s\n",
			res.Stage, name, res.Outcome, res.Attempts, res.Elapsed.Round(time.Millisecond))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

// renderChecks writes the validation results.
func (r *Reporter) renderChecks(run *domain.DeploymentRun, w io.Writer) {
	if len(run.Checks) == 0 {
		return
	}
	fmt.Fprintln(w, "Validation:")
	for _, c := range run.Checks {
		marker := "PASS"
		if c.Outcome == domain.CheckFailed {
			marker = "FAIL"
		}
		line := fmt.Sprintf("  [%s] %s", marker, c.Name)
		if c.Optional {
			line += " (best-effort)"
		}
		if c.Detail != "" {
			line += ": " + c.Detail
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

// renderSnapshot fetches and writes the platform's own view of itself.
func (r *Reporter) renderSnapshot(ctx context.Context, w io.Writer) {
	fmt.Fprintln(w, "Platform:")

	health, err := r.fetch(ctx, "/health")
	if err != nil {
		r.logger.Warn("health snapshot unavailable", "error", err)
		fmt.Fprintln(w, "  health: unavailable")
	} else {
		fmt.Fprintf(w, "  status: %v\n", health["overall_status"])
		if uptime, ok := health["uptime_human"]; ok {
			fmt.Fprintf(w, "  uptime: %v\n", uptime)
		}
		if providers, ok := health["providers"].(map[string]any); ok {
			names := make([]string, 0, len(providers))
			for name := range providers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  provider %s: %v\n", name, providers[name])
			}
		}
	}

	metrics, err := r.fetch(ctx, "/metrics")
	if err != nil {
		r.logger.Warn("metrics snapshot unavailable", "error", err)
		fmt.Fprintln(w, "  metrics: unavailable")
		return
	}
	if inner, ok := metrics["metrics"].(map[string]any); ok {
		if v, ok := inner["total_memories_stored"]; ok {
			fmt.Fprintf(w, "  memories stored: %v\n", v)
		}
		if v, ok := inner["successful_operations"]; ok {
			fmt.Fprintf(w, "  successful operations: %v\n", v)
		}
	}
	if v, ok := metrics["audit_chain_length"]; ok {
		fmt.Fprintf(w, "  audit chain length: %v\n", v)
	}
}

// fetch GETs a platform endpoint and decodes the JSON object response.
func (r *Reporter) fetch(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var obj map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256*1024)).Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
