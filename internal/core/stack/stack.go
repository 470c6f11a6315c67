// Package stack parses the platform's compose file into the service
// definitions the orchestrator works with. This is a pure transformation -
// no I/O beyond the YAML content handed in.
package stack

import (
	"context"
	"sort"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Stack Types
// =============================================================================

// Port is a published container port.
type Port struct {
	Target    int
	Published int
	Protocol  string
}

// Mount is a service volume mount. Named is true for named volumes, false
// for host bind mounts.
type Mount struct {
	Source   string
	Target   string
	Named    bool
	ReadOnly bool
}

// Service is one service of the platform stack.
type Service struct {
	Name        string
	Image       string
	Command     []string
	Environment map[string]string
	Labels      map[string]string
	Ports       []Port
	Volumes     []Mount
	DependsOn   []string
}

// Stack is the parsed platform description.
type Stack struct {
	Name     string
	Services []Service
	Volumes  []string // named volume names
}

// Service returns the service with the given name, or nil.
func (s *Stack) Service(name string) *Service {
	for i := range s.Services {
		if s.Services[i].Name == name {
			return &s.Services[i]
		}
	}
	return nil
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses compose YAML into a Stack. Service order is stable
// (alphabetical) so plan building is deterministic.
func Parse(name, yamlContent string) (*Stack, error) {
	if strings.TrimSpace(yamlContent) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadProject(name, yamlContent)
	if err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	st := &Stack{Name: project.Name}

	for _, svc := range project.Services {
		converted, err := convertService(svc)
		if err != nil {
			return nil, err
		}
		st.Services = append(st.Services, converted)
	}
	sort.Slice(st.Services, func(i, j int) bool {
		return st.Services[i].Name < st.Services[j].Name
	})

	for volName := range project.Volumes {
		st.Volumes = append(st.Volumes, volName)
	}
	sort.Strings(st.Volumes)

	return st, nil
}

// loadProject loads the YAML with the compose-go loader. Extends and path
// normalization are skipped: the stack file is self-contained by contract.
func loadProject(name, yamlContent string) (*types.Project, error) {
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlContent), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(yamlContent),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(name, true)
		opts.SkipValidation = false
		// ${VAR} placeholders must survive parsing untouched: they are
		// resolved later against the operator's env file, not against the
		// loader's (empty) environment.
		opts.SkipInterpolation = true
		opts.SkipNormalization = true
		opts.SkipExtends = true
	})
	if err != nil {
		if strings.Contains(err.Error(), "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		return nil, NewParseError("", err.Error(), ErrInvalidYAML)
	}

	return project, nil
}

// convertService converts a compose-go service into a stack.Service.
func convertService(svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
	}

	if service.Image == "" {
		return Service{}, NewParseError("services."+svc.Name, "service must have an image", ErrServiceNoImage)
	}

	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	for _, p := range svc.Ports {
		published := 0
		if p.Published != "" {
			published = atoiOrZero(p.Published)
		}
		service.Ports = append(service.Ports, Port{
			Target:    int(p.Target),
			Published: published,
			Protocol:  p.Protocol,
		})
	}

	for _, v := range svc.Volumes {
		named := v.Type == "volume"
		if v.Type == "" {
			named = !strings.HasPrefix(v.Source, "/") && !strings.HasPrefix(v.Source, "./")
		}
		service.Volumes = append(service.Volumes, Mount{
			Source:   v.Source,
			Target:   v.Target,
			Named:    named,
			ReadOnly: v.ReadOnly,
		})
	}

	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	return service, nil
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
