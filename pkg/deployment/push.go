package deployment

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// Publisher accepts desired-state events for the runner
type Publisher interface {
	Publish(ev types.DesiredStateEvent)
}

// PushHandler redeploys deployments when a matching image is pushed
type PushHandler struct {
	repo      store.DeploymentRepository
	publisher Publisher
	logger    zerolog.Logger
}

// NewPushHandler creates a push handler writing to repo and announcing changes on publisher
func NewPushHandler(repo store.DeploymentRepository, publisher Publisher) *PushHandler {
	return &PushHandler{
		repo:      repo,
		publisher: publisher,
		logger:    log.WithComponent("push"),
	}
}

// skipOnPush reports whether a push must leave a deployment in status alone.
// An explicit stop must never be overridden by an automatic redeploy.
func skipOnPush(status types.DeploymentStatus) bool {
	switch status {
	case types.DeploymentStatusStopped, types.DeploymentStatusDeleted, types.DeploymentStatusCreated:
		return true
	}
	return false
}

// HandleImagePush records digest for every deployment running registry/image:tag
// with deploy-on-push enabled and queues it for convergence. It returns the
// ids that were redeployed.
func (h *PushHandler) HandleImagePush(ctx context.Context, registry, image, tag, digest string) ([]types.ResourceID, error) {
	if image == "" || tag == "" || digest == "" {
		return nil, fmt.Errorf("image, tag and digest are required")
	}

	matches, err := h.repo.ListByImage(ctx, registry, image, tag)
	if err != nil {
		return nil, fmt.Errorf("find deployments for %s/%s:%s: %w", registry, image, tag, err)
	}

	var redeployed []types.ResourceID
	for _, d := range matches {
		logger := h.logger.With().Str("resource_id", d.ID.String()).Str("status", string(d.Status)).Logger()
		if skipOnPush(d.Status) {
			logger.Debug().Msg("Ignoring push for dormant deployment")
			continue
		}
		if !d.Spec.DeployOnPush {
			logger.Debug().Msg("Deploy on push disabled")
			continue
		}
		if d.CurrentLiveDigest == digest {
			continue
		}

		if err := h.repo.RecordDigest(ctx, d.ID, digest); err != nil {
			return redeployed, err
		}
		if err := h.repo.UpdateStatus(ctx, d.ID, types.DeploymentStatusDeploying); err != nil {
			return redeployed, err
		}
		h.publisher.Publish(types.Updated(d.ID, d.Spec))
		redeployed = append(redeployed, d.ID)
		logger.Info().Str("digest", digest).Msg("Redeploying on image push")
	}
	return redeployed, nil
}
