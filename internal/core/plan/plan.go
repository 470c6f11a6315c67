// Package plan builds and validates the staged deployment plan: which
// services start in which stage, how each is probed, and the polling budget.
// Stage indices must be contiguous and monotonically increasing; the plan is
// fixed before the first service starts.
package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/glaciereq/memstack/internal/core/domain"
	"github.com/glaciereq/memstack/internal/core/stack"
)

// =============================================================================
// Stage Labels
// =============================================================================

// Services opt into orchestration via memstack.* compose labels.
const (
	LabelStage         = "memstack.stage"
	LabelOptional      = "memstack.optional"
	LabelWarmup        = "memstack.warmup"
	LabelProbeHTTP     = "memstack.probe.http"
	LabelProbeHTTPCode = "memstack.probe.http.status"
	LabelProbeHTTPBody = "memstack.probe.http.body"
	LabelProbeExec     = "memstack.probe.exec"
	LabelFallbackExec  = "memstack.fallback.exec"
	LabelProbeInterval = "memstack.probe.interval"
	LabelProbeTimeout  = "memstack.probe.timeout"
)

// =============================================================================
// Plan
// =============================================================================

// Defaults carries plan-wide polling defaults.
type Defaults struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Plan is the ordered list of stages. Stages[i] holds every service of
// stage i; intra-stage order carries no meaning.
type Plan struct {
	Defaults Defaults
	Stages   [][]domain.ServiceDescriptor
}

// Services returns all descriptors in stage order.
func (p *Plan) Services() []domain.ServiceDescriptor {
	var all []domain.ServiceDescriptor
	for _, stg := range p.Stages {
		all = append(all, stg...)
	}
	return all
}

// Interval returns the effective polling interval for a service.
func (p *Plan) Interval(svc domain.ServiceDescriptor) time.Duration {
	if svc.Interval > 0 {
		return svc.Interval
	}
	return p.Defaults.Interval
}

// Timeout returns the effective polling timeout for a service.
func (p *Plan) Timeout(svc domain.ServiceDescriptor) time.Duration {
	if svc.Timeout > 0 {
		return svc.Timeout
	}
	return p.Defaults.Timeout
}

// =============================================================================
// Building from a Stack
// =============================================================================

// FromStack builds a Plan from labeled compose services. Services without a
// memstack.stage label are not orchestrated and are left to the substrate's
// own dependency handling.
func FromStack(st *stack.Stack, defaults Defaults) (*Plan, error) {
	byStage := make(map[int][]domain.ServiceDescriptor)

	for _, svc := range st.Services {
		raw, ok := svc.Labels[LabelStage]
		if !ok {
			continue
		}

		desc, err := descriptorFromLabels(svc.Name, raw, svc.Labels)
		if err != nil {
			return nil, err
		}
		byStage[desc.Stage] = append(byStage[desc.Stage], desc)
	}

	if len(byStage) == 0 {
		return nil, fmt.Errorf("%w: no service carries a %s label", domain.ErrConfig, LabelStage)
	}

	indices := make([]int, 0, len(byStage))
	for i := range byStage {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	p := &Plan{Defaults: defaults}
	for _, i := range indices {
		p.Stages = append(p.Stages, byStage[i])
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// descriptorFromLabels parses one service's memstack.* labels.
func descriptorFromLabels(name, rawStage string, labels map[string]string) (domain.ServiceDescriptor, error) {
	stage, err := strconv.Atoi(rawStage)
	if err != nil || stage < 0 {
		return domain.ServiceDescriptor{}, fmt.Errorf("%w: service %s: invalid %s %q", domain.ErrConfig, name, LabelStage, rawStage)
	}

	desc := domain.ServiceDescriptor{
		Name:     name,
		Stage:    stage,
		Optional: labels[LabelOptional] == "true",
	}

	if url := labels[LabelProbeHTTP]; url != "" {
		httpProbe := &domain.HTTPProbe{URL: url}
		if code := labels[LabelProbeHTTPCode]; code != "" {
			n, err := strconv.Atoi(code)
			if err != nil {
				return domain.ServiceDescriptor{}, fmt.Errorf("%w: service %s: invalid %s %q", domain.ErrConfig, name, LabelProbeHTTPCode, code)
			}
			httpProbe.ExpectStatus = n
		}
		httpProbe.ExpectBodySubstring = labels[LabelProbeHTTPBody]
		desc.Probe.HTTP = httpProbe
	}

	if cmd := labels[LabelProbeExec]; cmd != "" {
		probe := domain.ExecProbe{Command: strings.Fields(cmd)}
		if desc.Probe.HTTP == nil {
			desc.Probe.Exec = &probe
		} else {
			desc.Fallback = &domain.ProbeSpec{Exec: &probe}
		}
	}
	if cmd := labels[LabelFallbackExec]; cmd != "" {
		desc.Fallback = &domain.ProbeSpec{Exec: &domain.ExecProbe{Command: strings.Fields(cmd)}}
	}

	for label, dst := range map[string]*time.Duration{
		LabelWarmup:        &desc.Warmup,
		LabelProbeInterval: &desc.Interval,
		LabelProbeTimeout:  &desc.Timeout,
	} {
		if raw := labels[label]; raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d < 0 {
				return domain.ServiceDescriptor{}, fmt.Errorf("%w: service %s: invalid %s %q", domain.ErrConfig, name, label, raw)
			}
			*dst = d
		}
	}

	return desc, nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the plan invariants: defaults set, contiguous stage
// indices starting at zero, unique service names, and a usable probe (or
// fallback) on every service.
func (p *Plan) Validate() error {
	if p.Defaults.Interval <= 0 || p.Defaults.Timeout <= 0 {
		return fmt.Errorf("%w: probe interval and timeout must be positive", domain.ErrConfig)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: plan has no stages", domain.ErrConfig)
	}

	seen := make(map[string]bool)
	for i, stg := range p.Stages {
		if len(stg) == 0 {
			return fmt.Errorf("%w: stage %d is empty", domain.ErrConfig, i)
		}
		for _, svc := range stg {
			if svc.Stage != i {
				return fmt.Errorf("%w: service %s declares stage %d but stage indices must be contiguous from 0 (found at position %d)", domain.ErrConfig, svc.Name, svc.Stage, i)
			}
			if seen[svc.Name] {
				return fmt.Errorf("%w: duplicate service %s", domain.ErrConfig, svc.Name)
			}
			seen[svc.Name] = true

			if !svc.Probe.Usable() && (svc.Fallback == nil || !svc.Fallback.Usable()) {
				return fmt.Errorf("%w: service %s has no usable probe mechanism", domain.ErrConfig, svc.Name)
			}
		}
	}
	return nil
}
