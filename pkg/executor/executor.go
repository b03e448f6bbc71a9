// Package executor defines the capability the runner dispatches convergence to.
package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Executor owns all domain knowledge for one resource kind.
//
// Reconcile must be idempotent: a second call with no desired-state change in
// between produces no further side effects. A resource that no longer exists
// in desired state is torn down. The runner never calls Reconcile twice for
// the same id at once, so implementations need no per-resource locking.
type Executor interface {
	// Kind names the resource kind, used in logs and metrics
	Kind() string

	// Reconcile converges one resource and reports what the runner should do next
	Reconcile(ctx context.Context, id types.ResourceID) types.Outcome

	// ListOwnedResourceIDs enumerates every resource this runner is responsible for
	ListOwnedResourceIDs(ctx context.Context) ([]types.ResourceID, error)
}

// Result pairs a resource id with the outcome of reconciling it
type Result struct {
	ResourceID types.ResourceID
	Outcome    types.Outcome
}

// Reconcile calls exec.Reconcile and records metrics for the call
func Reconcile(ctx context.Context, exec Executor, id types.ResourceID) types.Outcome {
	timer := metrics.NewTimer()
	outcome := exec.Reconcile(ctx, id)
	timer.ObserveDurationVec(metrics.ReconcileDuration, exec.Kind())
	metrics.ReconcilesTotal.WithLabelValues(exec.Kind(), outcome.Kind.String()).Inc()
	return outcome
}

// ReconcileAll reconciles every id with at most limit calls in flight.
// Duplicate ids are collapsed so no id is ever reconciled twice at once.
//
// Once ctx is done no further call starts. Calls already running finish on a
// context detached from ctx's cancellation, bounded by timeout when it is
// positive. Results cover the ids that ran, in input order.
func ReconcileAll(ctx context.Context, exec Executor, ids []types.ResourceID, limit int, timeout time.Duration) []Result {
	if limit < 1 {
		limit = 1
	}

	seen := make(map[types.ResourceID]struct{}, len(ids))
	unique := make([]types.ResourceID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([]Result, len(unique))
	ran := make([]bool, len(unique))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range unique {
		if ctx.Err() != nil {
			break
		}
		// Go blocks while the pool is full, so shutdown is checked again once a slot frees
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			work, cancel := Detach(ctx, timeout)
			defer cancel()
			results[i] = Result{ResourceID: id, Outcome: Reconcile(work, exec, id)}
			ran[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for i, r := range results {
		if ran[i] {
			out = append(out, r)
		}
	}
	return out
}

// Detach returns a context carrying ctx's values but not its cancellation,
// bounded by timeout when it is positive
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	work := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(work)
	}
	return context.WithTimeout(work, timeout)
}
