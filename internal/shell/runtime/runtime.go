package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glaciereq/memstack/internal/core/stack"
)

// =============================================================================
// Runtime
// =============================================================================

// Runtime deploys a parsed stack onto Docker. All containers it creates carry
// com.memstack.* labels so a later run can find and reuse them instead of
// creating duplicates.
type Runtime struct {
	client  Client
	stack   *stack.Stack
	env     map[string]string
	network string
	logger  *slog.Logger
}

// New creates a runtime for the given stack. The env map feeds ${VAR}
// substitution in service environment values.
func New(client Client, st *stack.Stack, env map[string]string, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		client:  client,
		stack:   st,
		env:     env,
		network: st.Name + "-net",
		logger:  logger.With("component", "runtime"),
	}
}

// Prepare makes the substrate ready for service starts: verifies the daemon
// is reachable, creates the stack network and named volumes, and pulls every
// image not already present.
func (r *Runtime) Prepare(ctx context.Context) error {
	if err := r.client.Ping(ctx); err != nil {
		return err
	}

	baseLabels := map[string]string{
		LabelManaged: "true",
		LabelStack:   r.stack.Name,
	}

	if _, err := r.client.CreateNetwork(ctx, r.network, baseLabels); err != nil {
		// A surviving network from a previous run is reused.
		if !errors.Is(err, ErrNetworkAlreadyExists) {
			return err
		}
		r.logger.Debug("reusing existing network", "network", r.network)
	} else {
		r.logger.Info("created network", "network", r.network)
	}

	for _, vol := range r.stack.Volumes {
		name := r.stack.Name + "-" + vol
		if _, err := r.client.CreateVolume(ctx, name, baseLabels); err != nil {
			return err
		}
		r.logger.Debug("ensured volume", "volume", name)
	}

	for _, svc := range r.stack.Services {
		exists, err := r.client.ImageExists(ctx, svc.Image)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		r.logger.Info("pulling image", "image", svc.Image, "service", svc.Name)
		if err := r.client.PullImage(ctx, svc.Image); err != nil {
			return err
		}
	}

	return nil
}

// StartService brings the named service up. An existing running container
// for the service is left alone; a stopped one is restarted; otherwise a
// fresh container is created and started.
func (r *Runtime) StartService(ctx context.Context, name string) error {
	svc := r.stack.Service(name)
	if svc == nil {
		return NewRuntimeError("StartService", "service", name, "service not in stack", ErrUnknownService)
	}

	existing, err := r.findContainer(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.State == StateRunning {
			r.logger.Debug("service already running", "service", name, "container", existing.ID[:12])
			return nil
		}
		r.logger.Info("restarting existing container", "service", name, "container", existing.ID[:12])
		return r.client.StartContainer(ctx, existing.ID)
	}

	spec := r.containerSpec(svc)
	id, err := r.client.CreateContainer(ctx, spec)
	if err != nil {
		return err
	}
	r.logger.Info("created container", "service", name, "container", id[:12])

	return r.client.StartContainer(ctx, id)
}

// findContainer locates the stack's container for a service, running or not.
func (r *Runtime) findContainer(ctx context.Context, service string) (*ContainerInfo, error) {
	containers, err := r.client.ListContainers(ctx, ListOptions{
		All: true,
		Filters: map[string]string{
			"label": fmt.Sprintf("%s=%s", LabelService, service),
		},
	})
	if err != nil {
		return nil, err
	}
	for i := range containers {
		if containers[i].Labels[LabelStack] == r.stack.Name {
			return &containers[i], nil
		}
	}
	return nil, nil
}

// containerSpec builds the container spec for a stack service, substituting
// env-file variables into environment values and prefixing named volumes
// with the stack name.
func (r *Runtime) containerSpec(svc *stack.Service) ContainerSpec {
	env := make(map[string]string, len(svc.Environment))
	for k, v := range svc.Environment {
		env[k] = stack.SubstituteVariables(v, r.env)
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelStack:   r.stack.Name,
		LabelService: svc.Name,
	}
	for k, v := range svc.Labels {
		labels[k] = v
	}

	var ports []PortBinding
	for _, p := range svc.Ports {
		ports = append(ports, PortBinding{
			ContainerPort: p.Target,
			HostPort:      p.Published,
			Protocol:      p.Protocol,
		})
	}

	var volumes []VolumeMount
	for _, m := range svc.Volumes {
		source := m.Source
		if m.Named {
			source = r.stack.Name + "-" + m.Source
		}
		volumes = append(volumes, VolumeMount{
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	return ContainerSpec{
		Name:          r.stack.Name + "-" + svc.Name,
		Image:         svc.Image,
		Command:       svc.Command,
		Env:           env,
		Labels:        labels,
		Ports:         ports,
		Volumes:       volumes,
		Network:       r.network,
		Alias:         svc.Name,
		RestartPolicy: "unless-stopped",
	}
}
