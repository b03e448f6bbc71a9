package deployment

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/cuemby/burrow/pkg/types"
)

// workload is the object that runs a deployment's pods
type workload struct {
	obj    client.Object
	kind   string
	name   string
	status func() int32
}

// applyConfigMap writes the config mounts of d, or removes the ConfigMap when there are none
func (e *Executor) applyConfigMap(ctx context.Context, d *types.Deployment) error {
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{
		Name:      configMapName(d.ID),
		Namespace: namespaceFor(d),
	}}
	if len(d.Spec.ConfigMounts) == 0 {
		return e.deleteIgnoreMissing(ctx, cm)
	}

	_, err := controllerutil.CreateOrUpdate(ctx, e.client, cm, func() error {
		cm.Labels = mergeLabels(cm.Labels, objectLabels(d))
		cm.Data = nil
		cm.BinaryData = make(map[string][]byte, len(d.Spec.ConfigMounts))
		for i, p := range sortedMountPaths(d) {
			cm.BinaryData[configKey(i)] = d.Spec.ConfigMounts[p]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply config map: %w", err)
	}
	return nil
}

// applyWorkload creates or updates the Deployment, or the StatefulSet when
// the spec declares volumes, and removes whichever of the two is not wanted
func (e *Executor) applyWorkload(ctx context.Context, d *types.Deployment, image string) (*workload, error) {
	ns := namespaceFor(d)
	hash := configHash(d)

	if len(d.Spec.Volumes) == 0 {
		if err := e.deleteIgnoreMissing(ctx, &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: statefulSetName(d.ID), Namespace: ns}}); err != nil {
			return nil, err
		}

		dep := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: deploymentName(d.ID), Namespace: ns}}
		_, err := controllerutil.CreateOrUpdate(ctx, e.client, dep, func() error {
			dep.Labels = mergeLabels(dep.Labels, objectLabels(d))
			if dep.ResourceVersion == "" {
				dep.Spec.Selector = &metav1.LabelSelector{MatchLabels: selectorLabels(d.ID)}
			}
			dep.Spec.Replicas = clampReplicas(dep.Spec.Replicas, d.Spec)
			e.mutatePodTemplate(&dep.Spec.Template, d, image, hash)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("apply deployment: %w", err)
		}
		return &workload{
			obj:    dep,
			kind:   "Deployment",
			name:   dep.Name,
			status: func() int32 { return dep.Status.AvailableReplicas },
		}, nil
	}

	if err := e.deleteIgnoreMissing(ctx, &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: deploymentName(d.ID), Namespace: ns}}); err != nil {
		return nil, err
	}

	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: statefulSetName(d.ID), Namespace: ns}}
	_, err := controllerutil.CreateOrUpdate(ctx, e.client, sts, func() error {
		sts.Labels = mergeLabels(sts.Labels, objectLabels(d))
		if sts.ResourceVersion == "" {
			// selector, service name and claim templates are immutable
			sts.Spec.Selector = &metav1.LabelSelector{MatchLabels: selectorLabels(d.ID)}
			sts.Spec.ServiceName = serviceName(d.ID)
			sts.Spec.VolumeClaimTemplates = volumeClaimTemplates(d)
		}
		sts.Spec.Replicas = clampReplicas(sts.Spec.Replicas, d.Spec)
		e.mutatePodTemplate(&sts.Spec.Template, d, image, hash)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply statefulset: %w", err)
	}
	return &workload{
		obj:    sts,
		kind:   "StatefulSet",
		name:   sts.Name,
		status: func() int32 { return sts.Status.AvailableReplicas },
	}, nil
}

func (e *Executor) mutatePodTemplate(tpl *corev1.PodTemplateSpec, d *types.Deployment, image, hash string) {
	tpl.Labels = mergeLabels(tpl.Labels, objectLabels(d))

	var container *corev1.Container
	for i := range tpl.Spec.Containers {
		if tpl.Spec.Containers[i].Name == containerName {
			container = &tpl.Spec.Containers[i]
			break
		}
	}
	if container == nil {
		tpl.Spec.Containers = []corev1.Container{{Name: containerName}}
		container = &tpl.Spec.Containers[0]
	}

	container.Image = image
	container.ImagePullPolicy = corev1.PullAlways
	container.Ports = containerPorts(d.Spec)
	container.Env = e.environment(d, hash)
	container.Resources = resourceRequirements(d.Spec.MachineType)
	container.StartupProbe = httpProbe(d.Spec.StartupProbe)
	container.LivenessProbe = httpProbe(d.Spec.LivenessProbe)

	var mounts []corev1.VolumeMount
	var volumes []corev1.Volume
	if len(d.Spec.ConfigMounts) > 0 {
		mounts = append(mounts, corev1.VolumeMount{
			Name:      configVolumeName,
			MountPath: configMountPath,
			ReadOnly:  true,
		})
		items := make([]corev1.KeyToPath, 0, len(d.Spec.ConfigMounts))
		for i, p := range sortedMountPaths(d) {
			items = append(items, corev1.KeyToPath{Key: configKey(i), Path: p})
		}
		volumes = append(volumes, corev1.Volume{
			Name: configVolumeName,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: configMapName(d.ID)},
					Items:                items,
				},
			},
		})
	}
	for _, id := range sortedVolumeIDs(d) {
		mounts = append(mounts, corev1.VolumeMount{
			Name:      volumeName(id),
			MountPath: d.Spec.Volumes[id].Path,
		})
	}
	container.VolumeMounts = mounts
	tpl.Spec.Volumes = volumes
}

// environment lists user variables sorted by name followed by the platform variables
func (e *Executor) environment(d *types.Deployment, hash string) []corev1.EnvVar {
	names := make([]string, 0, len(d.Spec.EnvironmentVariables))
	for n := range d.Spec.EnvironmentVariables {
		names = append(names, n)
	}
	sort.Strings(names)

	env := make([]corev1.EnvVar, 0, len(names)+5)
	for _, n := range names {
		v := d.Spec.EnvironmentVariables[n]
		switch {
		case v.Value != nil:
			env = append(env, corev1.EnvVar{Name: n, Value: *v.Value})
		case v.FromSecret != nil:
			env = append(env, corev1.EnvVar{Name: n, Value: path.Join(e.opts.SecretsPath, v.FromSecret.String())})
		}
	}
	return append(env,
		corev1.EnvVar{Name: "BURROW", Value: "true"},
		corev1.EnvVar{Name: "WORKSPACE_ID", Value: d.WorkspaceID.String()},
		corev1.EnvVar{Name: "DEPLOYMENT_ID", Value: d.ID.String()},
		corev1.EnvVar{Name: "DEPLOYMENT_NAME", Value: d.Spec.Name},
		corev1.EnvVar{Name: "CONFIG_MAP_HASH", Value: hash},
	)
}

func containerPorts(spec types.DeploymentSpec) []corev1.ContainerPort {
	ports := make([]corev1.ContainerPort, 0, len(spec.Ports))
	for _, port := range spec.SortedPorts() {
		ports = append(ports, corev1.ContainerPort{
			Name:          portName(port),
			ContainerPort: int32(port),
			Protocol:      protocol(spec.Ports[port]),
		})
	}
	return ports
}

// resourceRequirements maps a machine type to limits. Memory is counted in quarter gigabytes.
func resourceRequirements(mt types.MachineType) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    *resource.NewQuantity(int64(mt.CPUCount), resource.DecimalSI),
			corev1.ResourceMemory: *resource.NewQuantity(int64(mt.MemoryCount)*250_000_000, resource.DecimalSI),
		},
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("50m"),
			corev1.ResourceMemory: resource.MustParse("25M"),
		},
	}
}

func httpProbe(p *types.Probe) *corev1.Probe {
	if p == nil {
		return nil
	}
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{
				Path:   p.Path,
				Port:   intstr.FromInt32(int32(p.Port)),
				Scheme: corev1.URISchemeHTTP,
			},
		},
		FailureThreshold: 15,
		PeriodSeconds:    10,
		TimeoutSeconds:   3,
		SuccessThreshold: 1,
	}
}

func volumeClaimTemplates(d *types.Deployment) []corev1.PersistentVolumeClaim {
	claims := make([]corev1.PersistentVolumeClaim, 0, len(d.Spec.Volumes))
	for _, id := range sortedVolumeIDs(d) {
		claims = append(claims, corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{
				Name:   volumeName(id),
				Labels: objectLabels(d),
			},
			Spec: corev1.PersistentVolumeClaimSpec{
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceStorage: resource.MustParse(strconv.Itoa(d.Spec.Volumes[id].Size) + "Gi"),
					},
				},
			},
		})
	}
	return claims
}

// clampReplicas keeps the autoscaler's choice while it lies within the spec's bounds
func clampReplicas(current *int32, spec types.DeploymentSpec) *int32 {
	lo, hi := int32(spec.MinHorizontalScale), int32(spec.MaxHorizontalScale)
	if current == nil || *current < lo || *current > hi {
		return ptr.To(lo)
	}
	return current
}

// configHash fingerprints the config mounts so a change rolls the pods
func configHash(d *types.Deployment) string {
	h := sha512.New()
	for _, p := range sortedMountPaths(d) {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(d.Spec.ConfigMounts[p])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedMountPaths(d *types.Deployment) []string {
	paths := make([]string, 0, len(d.Spec.ConfigMounts))
	for p := range d.Spec.ConfigMounts {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func sortedVolumeIDs(d *types.Deployment) []types.ResourceID {
	ids := make([]types.ResourceID, 0, len(d.Spec.Volumes))
	for id := range d.Spec.Volumes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// ConfigMap keys must be plain names, mount paths may nest
func configKey(i int) string {
	return "file-" + strconv.Itoa(i)
}

func portName(port uint16) string {
	return "p-" + strconv.Itoa(int(port))
}

func protocol(pt types.PortType) corev1.Protocol {
	if pt == types.PortTypeUDP {
		return corev1.ProtocolUDP
	}
	return corev1.ProtocolTCP
}
