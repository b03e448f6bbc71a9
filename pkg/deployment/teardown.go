package deployment

import (
	"context"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cuemby/burrow/pkg/types"
)

// ownedObjects lists every object name the executor may create for id in ns
func ownedObjects(id types.ResourceID, ns string) []client.Object {
	meta := func(name string) metav1.ObjectMeta {
		return metav1.ObjectMeta{Name: name, Namespace: ns}
	}
	return []client.Object{
		&networkingv1.Ingress{ObjectMeta: meta(ingressName(id))},
		&autoscalingv2.HorizontalPodAutoscaler{ObjectMeta: meta(hpaName(id))},
		&policyv1.PodDisruptionBudget{ObjectMeta: meta(pdbName(id))},
		&appsv1.Deployment{ObjectMeta: meta(deploymentName(id))},
		&appsv1.StatefulSet{ObjectMeta: meta(statefulSetName(id))},
		&corev1.Service{ObjectMeta: meta(serviceName(id))},
		&corev1.ConfigMap{ObjectMeta: meta(configMapName(id))},
		&corev1.Secret{ObjectMeta: meta(tlsSecretName(id))},
		&corev1.Secret{ObjectMeta: meta(customTLSName(id))},
	}
}

// teardown removes every orchestrator object of id from the given namespaces
// and revokes its certificates. Objects that are already gone count as removed.
func (e *Executor) teardown(ctx context.Context, id types.ResourceID, namespaces []string) error {
	for _, ns := range namespaces {
		for _, obj := range ownedObjects(id, ns) {
			if err := e.deleteIgnoreMissing(ctx, obj); err != nil {
				return err
			}
		}
	}
	if e.ca != nil {
		if err := e.ca.RevokeForResource(id); err != nil {
			return fmt.Errorf("revoke certificates: %w", err)
		}
	}
	return nil
}

// discoverNamespaces finds the namespaces holding objects labelled with id.
// It is used when the desired record is gone and its workspace is unknown.
func (e *Executor) discoverNamespaces(ctx context.Context, id types.ResourceID) ([]string, error) {
	found := make(map[string]struct{})
	if e.opts.Namespace != "" {
		found[e.opts.Namespace] = struct{}{}
	}

	selector := client.MatchingLabels(selectorLabels(id))
	lists := []client.ObjectList{
		&appsv1.DeploymentList{},
		&appsv1.StatefulSetList{},
		&corev1.ServiceList{},
	}
	for _, list := range lists {
		if err := e.client.List(ctx, list, selector); err != nil {
			return nil, fmt.Errorf("list labelled objects: %w", err)
		}
		switch l := list.(type) {
		case *appsv1.DeploymentList:
			for i := range l.Items {
				found[l.Items[i].Namespace] = struct{}{}
			}
		case *appsv1.StatefulSetList:
			for i := range l.Items {
				found[l.Items[i].Namespace] = struct{}{}
			}
		case *corev1.ServiceList:
			for i := range l.Items {
				found[l.Items[i].Namespace] = struct{}{}
			}
		}
	}

	namespaces := make([]string, 0, len(found))
	for ns := range found {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	return namespaces, nil
}

func (e *Executor) deleteIgnoreMissing(ctx context.Context, obj client.Object) error {
	if err := e.client.Delete(ctx, obj, client.PropagationPolicy(metav1.DeletePropagationBackground)); client.IgnoreNotFound(err) != nil {
		return fmt.Errorf("delete %T %s/%s: %w", obj, obj.GetNamespace(), obj.GetName(), err)
	}
	return nil
}
