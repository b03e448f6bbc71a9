package deployment

import (
	"context"
	"fmt"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/cuemby/burrow/pkg/types"
)

// applyAutoscaler binds a CPU based autoscaler to the workload. A deployment
// scaled to zero gets none.
func (e *Executor) applyAutoscaler(ctx context.Context, d *types.Deployment, w *workload) error {
	hpa := &autoscalingv2.HorizontalPodAutoscaler{ObjectMeta: metav1.ObjectMeta{
		Name:      hpaName(d.ID),
		Namespace: namespaceFor(d),
	}}
	if d.Spec.MaxHorizontalScale < 1 {
		return e.deleteIgnoreMissing(ctx, hpa)
	}

	minReplicas := int32(max(d.Spec.MinHorizontalScale, 1))
	_, err := controllerutil.CreateOrUpdate(ctx, e.client, hpa, func() error {
		hpa.Labels = mergeLabels(hpa.Labels, objectLabels(d))
		hpa.Spec.ScaleTargetRef = autoscalingv2.CrossVersionObjectReference{
			APIVersion: "apps/v1",
			Kind:       w.kind,
			Name:       w.name,
		}
		hpa.Spec.MinReplicas = ptr.To(minReplicas)
		hpa.Spec.MaxReplicas = int32(d.Spec.MaxHorizontalScale)
		hpa.Spec.Metrics = []autoscalingv2.MetricSpec{{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: corev1.ResourceCPU,
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: ptr.To(int32(autoscaleCPUUsage)),
				},
			},
		}}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply autoscaler: %w", err)
	}
	return nil
}

// applyDisruptionBudget keeps half the pods up during voluntary disruption,
// only for deployments that always run more than one replica
func (e *Executor) applyDisruptionBudget(ctx context.Context, d *types.Deployment) error {
	pdb := &policyv1.PodDisruptionBudget{ObjectMeta: metav1.ObjectMeta{
		Name:      pdbName(d.ID),
		Namespace: namespaceFor(d),
	}}
	if d.Spec.MinHorizontalScale <= 1 {
		return e.deleteIgnoreMissing(ctx, pdb)
	}

	_, err := controllerutil.CreateOrUpdate(ctx, e.client, pdb, func() error {
		pdb.Labels = mergeLabels(pdb.Labels, objectLabels(d))
		pdb.Spec.MinAvailable = ptr.To(intstr.FromString("50%"))
		pdb.Spec.Selector = &metav1.LabelSelector{MatchLabels: selectorLabels(d.ID)}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply disruption budget: %w", err)
	}
	return nil
}
