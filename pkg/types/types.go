package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/validation"
)

// ResourceID identifies one tenant resource across the control plane and the orchestrator
type ResourceID = uuid.UUID

// MaxHorizontalScale is the upper bound for both scale limits
const MaxHorizontalScale = 256

// DeploymentStatus is the lifecycle state of a deployment
type DeploymentStatus string

const (
	DeploymentStatusCreated   DeploymentStatus = "created"
	DeploymentStatusPushed    DeploymentStatus = "pushed"
	DeploymentStatusDeploying DeploymentStatus = "deploying"
	DeploymentStatusRunning   DeploymentStatus = "running"
	DeploymentStatusStopped   DeploymentStatus = "stopped"
	DeploymentStatusErrored   DeploymentStatus = "errored"
	DeploymentStatusDeleted   DeploymentStatus = "deleted"
)

// Valid reports whether s is a known status
func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentStatusCreated, DeploymentStatusPushed, DeploymentStatusDeploying,
		DeploymentStatusRunning, DeploymentStatusStopped, DeploymentStatusErrored,
		DeploymentStatusDeleted:
		return true
	}
	return false
}

// Dormant reports whether the workload must be left alone in this state
func (s DeploymentStatus) Dormant() bool {
	return s == DeploymentStatusStopped || s == DeploymentStatusDeleted
}

// RegistryKind selects where a deployment's image lives
type RegistryKind string

const (
	RegistryInternal RegistryKind = "internal"
	RegistryExternal RegistryKind = "external"
)

// Registry describes the image source of a deployment
type Registry struct {
	Kind         RegistryKind `json:"kind"`
	Registry     string       `json:"registry"`
	RepositoryID *uuid.UUID   `json:"repositoryId,omitempty"`
	ImageName    string       `json:"imageName"`
}

// MachineType is the compute class a deployment runs on.
// MemoryCount is expressed in quarter gigabytes.
type MachineType struct {
	ID          uuid.UUID `json:"id"`
	CPUCount    int       `json:"cpuCount"`
	MemoryCount int       `json:"memoryCount"`
}

// PortType is the protocol exposed on a port
type PortType string

const (
	PortTypeHTTP PortType = "http"
	PortTypeTCP  PortType = "tcp"
	PortTypeUDP  PortType = "udp"
)

// Probe is an HTTP health check against one exposed port
type Probe struct {
	Port uint16 `json:"port"`
	Path string `json:"path"`
}

// EnvironmentVariable holds either a literal value or a secret reference
type EnvironmentVariable struct {
	Value      *string    `json:"value,omitempty"`
	FromSecret *uuid.UUID `json:"fromSecret,omitempty"`
}

// Volume is a persistent volume mounted into the workload. Size is in GiB.
type Volume struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

// CustomDomain is a tenant-owned host name pointed at a deployment. It is
// only routed once the control plane has verified ownership.
type CustomDomain struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// DeploymentSpec is the desired state of one deployment
type DeploymentSpec struct {
	Name                 string                         `json:"name"`
	Registry             Registry                       `json:"registry"`
	ImageTag             string                         `json:"imageTag"`
	Region               string                         `json:"region"`
	MachineType          MachineType                    `json:"machineType"`
	DeployOnPush         bool                           `json:"deployOnPush"`
	MinHorizontalScale   int                            `json:"minHorizontalScale"`
	MaxHorizontalScale   int                            `json:"maxHorizontalScale"`
	Ports                map[uint16]PortType            `json:"ports"`
	EnvironmentVariables map[string]EnvironmentVariable `json:"environmentVariables,omitempty"`
	StartupProbe         *Probe                         `json:"startupProbe,omitempty"`
	LivenessProbe        *Probe                         `json:"livenessProbe,omitempty"`
	ConfigMounts         map[string][]byte              `json:"configMounts,omitempty"`
	Volumes              map[uuid.UUID]Volume           `json:"volumes,omitempty"`
	CustomDomain         *CustomDomain                  `json:"customDomain,omitempty"`
}

// Deployment is a deployment record as the control plane stores it
type Deployment struct {
	ID                ResourceID       `json:"id"`
	WorkspaceID       uuid.UUID        `json:"workspaceId"`
	Status            DeploymentStatus `json:"status"`
	CurrentLiveDigest string           `json:"currentLiveDigest,omitempty"`
	Spec              DeploymentSpec   `json:"spec"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Validate checks the structural rules of a spec
func (s *DeploymentSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("deployment name is required")
	}
	if s.ImageTag == "" {
		return fmt.Errorf("image tag is required")
	}
	if s.Registry.ImageName == "" {
		return fmt.Errorf("image name is required")
	}
	switch s.Registry.Kind {
	case RegistryInternal:
		if s.Registry.RepositoryID == nil {
			return fmt.Errorf("internal registry requires a repository id")
		}
	case RegistryExternal:
		if s.Registry.Registry == "" {
			return fmt.Errorf("external registry requires a registry host")
		}
	default:
		return fmt.Errorf("unknown registry kind %q", s.Registry.Kind)
	}
	if s.MachineType.CPUCount <= 0 || s.MachineType.MemoryCount <= 0 {
		return fmt.Errorf("machine type must have cpu and memory")
	}
	if s.MinHorizontalScale < 0 || s.MinHorizontalScale > s.MaxHorizontalScale {
		return fmt.Errorf("min horizontal scale %d must be between 0 and max %d", s.MinHorizontalScale, s.MaxHorizontalScale)
	}
	if s.MaxHorizontalScale > MaxHorizontalScale {
		return fmt.Errorf("max horizontal scale %d exceeds %d", s.MaxHorizontalScale, MaxHorizontalScale)
	}
	if len(s.Ports) == 0 {
		return fmt.Errorf("at least one exposed port is required")
	}
	for port, pt := range s.Ports {
		if port == 0 {
			return fmt.Errorf("port must be between 1 and 65535")
		}
		switch pt {
		case PortTypeHTTP, PortTypeTCP, PortTypeUDP:
		default:
			return fmt.Errorf("port %d has unknown type %q", port, pt)
		}
	}
	for _, probe := range []*Probe{s.StartupProbe, s.LivenessProbe} {
		if probe == nil {
			continue
		}
		pt, ok := s.Ports[probe.Port]
		if !ok {
			return fmt.Errorf("probe port %d is not exposed", probe.Port)
		}
		if pt != PortTypeHTTP {
			return fmt.Errorf("probe port %d must be an http port", probe.Port)
		}
	}
	for name, env := range s.EnvironmentVariables {
		if (env.Value == nil) == (env.FromSecret == nil) {
			return fmt.Errorf("environment variable %s must have exactly one of value or secret", name)
		}
	}
	for id, vol := range s.Volumes {
		if vol.Path == "" || vol.Size <= 0 {
			return fmt.Errorf("volume %s needs a path and a positive size", id)
		}
	}
	if s.CustomDomain != nil {
		if errs := validation.IsDNS1123Subdomain(s.CustomDomain.Name); len(errs) > 0 {
			return fmt.Errorf("custom domain %q: %s", s.CustomDomain.Name, strings.Join(errs, ", "))
		}
		if len(s.HTTPPorts()) == 0 {
			return fmt.Errorf("custom domain requires an http port")
		}
	}
	return nil
}

// RoutedDomain returns the custom domain to serve, or "" when there is none
// or it is not verified yet
func (s *DeploymentSpec) RoutedDomain() string {
	if s.CustomDomain == nil || !s.CustomDomain.Verified {
		return ""
	}
	return s.CustomDomain.Name
}

// HTTPPorts returns the exposed http ports in ascending order
func (s *DeploymentSpec) HTTPPorts() []uint16 {
	var ports []uint16
	for port, pt := range s.Ports {
		if pt == PortTypeHTTP {
			ports = append(ports, port)
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// SortedPorts returns every exposed port in ascending order
func (s *DeploymentSpec) SortedPorts() []uint16 {
	ports := make([]uint16, 0, len(s.Ports))
	for port := range s.Ports {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}
