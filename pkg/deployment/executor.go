// Package deployment converges application deployments onto Kubernetes and
// the edge routing table.
package deployment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	appsv1 "k8s.io/api/apps/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/cuemby/burrow/pkg/edge"
	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// Kind is the resource kind handled by this executor
const Kind = "deployment"

// Options carries the platform settings the executor needs
type Options struct {
	RootDomain       string
	Region           string
	IngressClass     string
	InternalRegistry string
	SecretsPath      string
	StoppedPageURL   string
	DeletedTTL       time.Duration
	RetryDelay       time.Duration
	// Namespace is searched on teardown when the desired record is gone
	Namespace string
}

func (o *Options) setDefaults() {
	if o.IngressClass == "" {
		o.IngressClass = "nginx"
	}
	if o.DeletedTTL == 0 {
		o.DeletedTTL = 15 * 24 * time.Hour
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = rerrors.DefaultRetryDelay
	}
	if o.SecretsPath == "" {
		o.SecretsPath = "/run/secrets"
	}
}

// Executor implements executor.Executor for deployments
type Executor struct {
	client      client.Client
	deployments store.DeploymentReader
	routes      *edge.Table
	ca          *security.CertAuthority
	opts        Options
	logger      zerolog.Logger
	now         func() time.Time
}

var _ executor.Executor = (*Executor)(nil)

// New creates a deployment executor. ca may be nil, in which case no TLS
// material is issued.
func New(c client.Client, deployments store.DeploymentReader, routes *edge.Table, ca *security.CertAuthority, opts Options) *Executor {
	opts.setDefaults()
	return &Executor{
		client:      c,
		deployments: deployments,
		routes:      routes,
		ca:          ca,
		opts:        opts,
		logger:      log.WithComponent("deployment-executor"),
		now:         time.Now,
	}
}

func (e *Executor) Kind() string {
	return Kind
}

// Reconcile converges one deployment
func (e *Executor) Reconcile(ctx context.Context, id types.ResourceID) types.Outcome {
	d, err := e.deployments.Get(ctx, id)
	if err != nil {
		if rerrors.IsNotFound(err) {
			return e.reconcileAbsent(ctx, id)
		}
		e.logger.Warn().Err(err).Str("resource_id", id.String()).Msg("Failed to load deployment")
		return rerrors.Classify(err, e.opts.RetryDelay)
	}

	switch d.Status {
	case types.DeploymentStatusDeleted:
		if err := e.teardown(ctx, id, []string{namespaceFor(d)}); err != nil {
			return e.retry(d, err)
		}
		if err := e.publishPlaceholder(d, e.now()); err != nil {
			return e.retry(d, err)
		}
		return types.Converged()
	case types.DeploymentStatusStopped:
		if err := e.publishPlaceholder(d, e.now()); err != nil {
			return e.retry(d, err)
		}
		return types.Converged()
	default:
		return e.apply(ctx, d)
	}
}

func (e *Executor) reconcileAbsent(ctx context.Context, id types.ResourceID) types.Outcome {
	namespaces, err := e.discoverNamespaces(ctx, id)
	if err == nil {
		err = e.teardown(ctx, id, namespaces)
	}
	if err == nil {
		err = e.removeRoutes(id)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("resource_id", id.String()).Msg("Teardown incomplete")
		return rerrors.Classify(err, e.opts.RetryDelay)
	}
	e.logger.Debug().Str("resource_id", id.String()).Msg("Deployment absent, teardown complete")
	return types.Converged()
}

// apply converges a live deployment: workload, service, certificate and
// ingress, autoscaler, disruption budget, then the edge routes
func (e *Executor) apply(ctx context.Context, d *types.Deployment) types.Outcome {
	if err := d.Spec.Validate(); err != nil {
		return e.fail(ctx, d, rerrors.WrapPermanentConfig(err))
	}
	image, err := imageReference(d, e.opts.InternalRegistry)
	if err != nil {
		return e.fail(ctx, d, err)
	}

	if err := e.applyConfigMap(ctx, d); err != nil {
		return e.fail(ctx, d, err)
	}
	w, err := e.applyWorkload(ctx, d, image)
	if err != nil {
		return e.fail(ctx, d, err)
	}
	if err := e.applyService(ctx, d); err != nil {
		return e.fail(ctx, d, err)
	}
	tls, err := e.ensureCertificate(ctx, d)
	if err != nil {
		return e.fail(ctx, d, err)
	}
	domainTLS, err := e.ensureDomainCertificate(ctx, d)
	if err != nil {
		return e.fail(ctx, d, err)
	}
	if err := e.applyIngress(ctx, d, tls, domainTLS); err != nil {
		return e.fail(ctx, d, err)
	}
	if err := e.applyAutoscaler(ctx, d, w); err != nil {
		return e.fail(ctx, d, err)
	}
	if err := e.applyDisruptionBudget(ctx, d); err != nil {
		return e.fail(ctx, d, err)
	}
	if err := e.publishRoutes(d); err != nil {
		return e.fail(ctx, d, err)
	}

	if err := e.client.Get(ctx, client.ObjectKeyFromObject(w.obj), w.obj); err != nil {
		return e.fail(ctx, d, fmt.Errorf("observe %s: %w", w.kind, err))
	}
	available := w.status()
	if available >= int32(d.Spec.MinHorizontalScale) {
		if err := e.setStatus(ctx, d, types.DeploymentStatusRunning); err != nil {
			return e.retry(d, err)
		}
		return types.Converged()
	}

	if err := e.setStatus(ctx, d, types.DeploymentStatusDeploying); err != nil {
		return e.retry(d, err)
	}
	return types.RetryAfter(e.opts.RetryDelay,
		fmt.Sprintf("%d of %d replicas available", available, d.Spec.MinHorizontalScale))
}

// fail classifies err. Permanent failures move the deployment to Errored.
func (e *Executor) fail(ctx context.Context, d *types.Deployment, err error) types.Outcome {
	outcome := rerrors.Classify(err, e.opts.RetryDelay)
	if outcome.Kind != types.OutcomeFatal {
		return e.retry(d, err)
	}

	e.logger.Error().Err(err).
		Str("resource_id", d.ID.String()).
		Str("workspace_id", d.WorkspaceID.String()).
		Msg("Deployment failed permanently")
	if serr := e.setStatus(ctx, d, types.DeploymentStatusErrored); serr != nil {
		e.logger.Warn().Err(serr).Str("resource_id", d.ID.String()).Msg("Failed to record errored status")
	}
	return outcome
}

func (e *Executor) retry(d *types.Deployment, err error) types.Outcome {
	outcome := rerrors.Classify(err, e.opts.RetryDelay)
	e.logger.Warn().Err(err).
		Str("resource_id", d.ID.String()).
		Str("outcome", outcome.Kind.String()).
		Dur("retry_after", outcome.After).
		Msg("Deployment not converged")
	return outcome
}

func (e *Executor) setStatus(ctx context.Context, d *types.Deployment, status types.DeploymentStatus) error {
	if d.Status == status {
		return nil
	}
	if err := e.deployments.UpdateStatus(ctx, d.ID, status); err != nil {
		return fmt.Errorf("update status to %s: %w", status, err)
	}
	e.logger.Info().
		Str("resource_id", d.ID.String()).
		Str("from", string(d.Status)).
		Str("to", string(status)).
		Msg("Deployment status changed")
	d.Status = status
	return nil
}

// ListOwnedResourceIDs returns every deployment in desired state plus every
// deployment that still has a labelled workload in the cluster
func (e *Executor) ListOwnedResourceIDs(ctx context.Context) ([]types.ResourceID, error) {
	deployments, err := e.deployments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	seen := make(map[types.ResourceID]struct{}, len(deployments))
	for _, d := range deployments {
		seen[d.ID] = struct{}{}
	}

	managed := client.MatchingLabels{LabelManagedBy: ManagedByValue}
	var labelled []string

	var deps appsv1.DeploymentList
	if err := e.client.List(ctx, &deps, managed); err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	for i := range deps.Items {
		labelled = append(labelled, deps.Items[i].Labels[LabelDeploymentID])
	}

	var sets appsv1.StatefulSetList
	if err := e.client.List(ctx, &sets, managed); err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	for i := range sets.Items {
		labelled = append(labelled, sets.Items[i].Labels[LabelDeploymentID])
	}

	for _, raw := range labelled {
		id, err := uuid.Parse(raw)
		if err != nil {
			e.logger.Warn().Str("label", raw).Msg("Ignoring workload with malformed deployment id label")
			continue
		}
		seen[id] = struct{}{}
	}

	ids := make([]types.ResourceID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
