package deployment

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

// Labels stamped on every orchestrator object the executor creates
const (
	LabelDeploymentID = "burrow.dev/deployment-id"
	LabelWorkspaceID  = "burrow.dev/workspace-id"
	LabelManagedBy    = "burrow.dev/managed-by"
	ManagedByValue    = "burrow"
)

const (
	configMountPath   = "/etc/config"
	configVolumeName  = "config-mounts"
	containerName     = "app"
	autoscaleCPUUsage = 80
)

func deploymentName(id types.ResourceID) string  { return "deployment-" + id.String() }
func statefulSetName(id types.ResourceID) string { return "sts-" + id.String() }
func serviceName(id types.ResourceID) string     { return "service-" + id.String() }
func ingressName(id types.ResourceID) string     { return "ingress-" + id.String() }
func hpaName(id types.ResourceID) string         { return "hpa-" + id.String() }
func pdbName(id types.ResourceID) string         { return "pdb-" + id.String() }
func configMapName(id types.ResourceID) string   { return "config-mount-" + id.String() }
func tlsSecretName(id types.ResourceID) string   { return "tls-" + id.String() }
func customTLSName(id types.ResourceID) string   { return "custom-tls-" + id.String() }
func volumeName(id types.ResourceID) string      { return "pvc-" + id.String() }

func namespaceFor(d *types.Deployment) string {
	return d.WorkspaceID.String()
}

func objectLabels(d *types.Deployment) map[string]string {
	return map[string]string{
		LabelDeploymentID: d.ID.String(),
		LabelWorkspaceID:  d.WorkspaceID.String(),
		LabelManagedBy:    ManagedByValue,
	}
}

func selectorLabels(id types.ResourceID) map[string]string {
	return map[string]string{LabelDeploymentID: id.String()}
}

// mergeLabels sets want on an object's existing labels, keeping foreign ones
func mergeLabels(existing, want map[string]string) map[string]string {
	if existing == nil {
		existing = make(map[string]string, len(want))
	}
	for k, v := range want {
		existing[k] = v
	}
	return existing
}

// imageReference resolves the pullable image for d. A recorded live digest
// pins the image; otherwise the configured tag is used.
func imageReference(d *types.Deployment, internalRegistry string) (string, error) {
	registry := d.Spec.Registry.Registry
	if d.Spec.Registry.Kind == types.RegistryInternal && registry == "" {
		registry = internalRegistry
	}
	if registry == "" {
		return "", rerrors.WrapPermanentConfig(fmt.Errorf("deployment %s has no registry", d.ID))
	}

	ref := fmt.Sprintf("%s/%s:%s", registry, d.Spec.Registry.ImageName, d.Spec.ImageTag)
	if d.CurrentLiveDigest != "" {
		ref = fmt.Sprintf("%s/%s@%s", registry, d.Spec.Registry.ImageName, d.CurrentLiveDigest)
	}

	if _, err := name.ParseReference(ref, name.StrictValidation); err != nil {
		return "", rerrors.WrapPermanentConfig(fmt.Errorf("invalid image reference %q: %w", ref, err))
	}
	return ref, nil
}
