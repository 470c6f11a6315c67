// Package runtime is the container substrate the orchestrator deploys onto.
// It wraps the Docker Engine API behind a narrow client interface and exposes
// the stack-level operations the sequencer needs: prepare the substrate and
// start a named service idempotently.
package runtime

import (
	"context"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	Labels  map[string]string
	Ports   []PortBinding
	Volumes []VolumeMount
	Network string
	// Alias is the DNS name other containers on the network resolve this
	// container by. Defaults to the service name.
	Alias         string
	RestartPolicy string // "no", "always", "on-failure", "unless-stopped"
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // volume name or host path
	Target   string // container path
	ReadOnly bool
}

// ContainerState represents the container lifecycle state.
type ContainerState string

const (
	StateCreated    ContainerState = "created"
	StateRunning    ContainerState = "running"
	StateRestarting ContainerState = "restarting"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
)

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     ContainerState
	CreatedAt time.Time
	Labels    map[string]string
	ExitCode  int
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool              // include stopped containers
	Filters map[string]string // e.g. {"label": "com.memstack.service=postgres"}
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the Docker operations surface the runtime depends on.
type Client interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout *time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)

	CreateNetwork(ctx context.Context, name string, labels map[string]string) (networkID string, err error)
	CreateVolume(ctx context.Context, name string, labels map[string]string) (volumeName string, err error)

	PullImage(ctx context.Context, image string) error
	ImageExists(ctx context.Context, image string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

const (
	LabelManaged = "com.memstack.managed"
	LabelStack   = "com.memstack.stack"
	LabelService = "com.memstack.service"
)
