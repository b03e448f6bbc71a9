// Package store defines access to the authoritative deployment records.
//
// In managed mode the records live in the control plane and are reached
// through pkg/client. In self-hosted mode they live in a local SQLite
// database, see pkg/store/sqlite.
package store

import (
	"context"
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrAlreadyExists is returned when creating a record whose id is taken
var ErrAlreadyExists = errors.New("already exists")

// DeploymentReader is what the deployment executor needs from desired state.
// Get returns an error matching rerrors.ErrNotFound when the record is absent.
type DeploymentReader interface {
	Get(ctx context.Context, id types.ResourceID) (*types.Deployment, error)
	List(ctx context.Context) ([]*types.Deployment, error)
	UpdateStatus(ctx context.Context, id types.ResourceID, status types.DeploymentStatus) error
}

// DeploymentRepository is the full read-write record store used by the
// self-hosted API and the control plane server
type DeploymentRepository interface {
	DeploymentReader

	Create(ctx context.Context, d *types.Deployment) error
	Update(ctx context.Context, d *types.Deployment) error
	// Delete marks the record deleted. The row is kept so teardown can find it.
	Delete(ctx context.Context, id types.ResourceID) error

	ListByImage(ctx context.Context, registry, image, tag string) ([]*types.Deployment, error)
	RecordDigest(ctx context.Context, id types.ResourceID, digest string) error
	MachineType(ctx context.Context, id types.ResourceID) (*types.MachineType, error)
	CountByStatus(ctx context.Context) (map[types.DeploymentStatus]int, error)
}
