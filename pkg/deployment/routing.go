package deployment

import (
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// publishRoutes points every public host of d at the deployment's service
func (e *Executor) publishRoutes(d *types.Deployment) error {
	id := d.ID
	region := d.Spec.Region
	if region == "" {
		region = e.opts.Region
	}

	var entries []*types.RouteEntry
	for _, h := range e.hostnames(d) {
		entries = append(entries, &types.RouteEntry{
			Host:       h.host,
			ResourceID: id,
			Mounts: map[string]types.RouteTarget{
				"/": {
					Type:         types.RouteTypeDeployment,
					DeploymentID: &id,
					Port:         h.port,
					Region:       region,
				},
			},
		})
	}
	if err := e.routes.Replace(id, entries); err != nil {
		return fmt.Errorf("publish routes: %w", err)
	}
	return nil
}

// publishPlaceholder routes every public host of d to the stopped page.
// Deleted deployments' entries expire so the sweeper eventually drops them.
func (e *Executor) publishPlaceholder(d *types.Deployment, now time.Time) error {
	if e.opts.StoppedPageURL == "" {
		return e.removeRoutes(d.ID)
	}

	var expiresAt *time.Time
	if d.Status == types.DeploymentStatusDeleted {
		at := now.Add(e.opts.DeletedTTL)
		expiresAt = &at
	}

	var entries []*types.RouteEntry
	for _, h := range e.hostnames(d) {
		entries = append(entries, &types.RouteEntry{
			Host:       h.host,
			ResourceID: d.ID,
			Mounts: map[string]types.RouteTarget{
				"/": {Type: types.RouteTypeProxy, To: e.opts.StoppedPageURL},
			},
			ExpiresAt: expiresAt,
		})
	}
	if err := e.routes.Replace(d.ID, entries); err != nil {
		return fmt.Errorf("publish placeholder routes: %w", err)
	}
	return nil
}

func (e *Executor) removeRoutes(id types.ResourceID) error {
	if err := e.routes.RemoveResource(id); err != nil {
		return fmt.Errorf("remove routes: %w", err)
	}
	return nil
}
