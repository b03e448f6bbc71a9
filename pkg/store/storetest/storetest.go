// Package storetest holds the behaviour every DeploymentRepository must share,
// plus fixtures for tests in other packages.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// SmallMachineType is seeded by the sqlite migrations
var SmallMachineType = types.MachineType{
	ID:          uuid.MustParse("00000000-0000-4000-8000-000000000002"),
	CPUCount:    1,
	MemoryCount: 4,
}

// NewDeployment returns a valid deployment exposing one http port
func NewDeployment(workspace uuid.UUID) *types.Deployment {
	value := "info"
	return &types.Deployment{
		ID:          uuid.New(),
		WorkspaceID: workspace,
		Status:      types.DeploymentStatusCreated,
		Spec: types.DeploymentSpec{
			Name: "web",
			Registry: types.Registry{
				Kind:      types.RegistryExternal,
				Registry:  "docker.io",
				ImageName: "library/nginx",
			},
			ImageTag:           "1.27",
			Region:             "eu-1",
			MachineType:        SmallMachineType,
			MinHorizontalScale: 1,
			MaxHorizontalScale: 3,
			Ports:              map[uint16]types.PortType{8080: types.PortTypeHTTP},
			EnvironmentVariables: map[string]types.EnvironmentVariable{
				"LOG_LEVEL": {Value: &value},
			},
			LivenessProbe: &types.Probe{Port: 8080, Path: "/healthz"},
		},
	}
}

// Run exercises a repository created fresh by factory for every subtest
func Run(t *testing.T, factory func(t *testing.T) store.DeploymentRepository) {
	ctx := context.Background()
	workspace := uuid.New()

	t.Run("create and get", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		secret := uuid.New()
		d.Spec.EnvironmentVariables["DB_PASSWORD"] = types.EnvironmentVariable{FromSecret: &secret}
		d.Spec.ConfigMounts = map[string][]byte{"app.yaml": []byte("debug: true\n")}
		d.Spec.Volumes = map[uuid.UUID]types.Volume{uuid.New(): {Path: "/data", Size: 5}}
		require.NoError(t, repo.Create(ctx, d))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, d.Spec.Name, got.Spec.Name)
		assert.Equal(t, types.DeploymentStatusCreated, got.Status)
		assert.Equal(t, d.Spec.Ports, got.Spec.Ports)
		assert.Equal(t, d.Spec.EnvironmentVariables, got.Spec.EnvironmentVariables)
		assert.Equal(t, d.Spec.ConfigMounts, got.Spec.ConfigMounts)
		assert.Equal(t, d.Spec.Volumes, got.Spec.Volumes)
		assert.Equal(t, d.Spec.LivenessProbe, got.Spec.LivenessProbe)
		assert.Nil(t, got.Spec.StartupProbe)
		assert.Equal(t, SmallMachineType, got.Spec.MachineType)
	})

	t.Run("create duplicate", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		require.NoError(t, repo.Create(ctx, d))
		assert.ErrorIs(t, repo.Create(ctx, d), store.ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, rerrors.ErrNotFound)
	})

	t.Run("update replaces children", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		require.NoError(t, repo.Create(ctx, d))

		d.Spec.Ports = map[uint16]types.PortType{9090: types.PortTypeHTTP, 5432: types.PortTypeTCP}
		d.Spec.LivenessProbe = &types.Probe{Port: 9090, Path: "/"}
		d.Spec.EnvironmentVariables = nil
		d.Spec.Name = "api"
		require.NoError(t, repo.Update(ctx, d))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "api", got.Spec.Name)
		assert.Equal(t, d.Spec.Ports, got.Spec.Ports)
		assert.Empty(t, got.Spec.EnvironmentVariables)
	})

	t.Run("custom domain", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		d.Spec.CustomDomain = &types.CustomDomain{Name: "shop.example.org"}
		require.NoError(t, repo.Create(ctx, d))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Spec.CustomDomain)
		assert.False(t, got.Spec.CustomDomain.Verified)

		d.Spec.CustomDomain.Verified = true
		require.NoError(t, repo.Update(ctx, d))
		got, err = repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "shop.example.org", got.Spec.RoutedDomain())

		other := NewDeployment(workspace)
		other.Spec.CustomDomain = &types.CustomDomain{Name: "shop.example.org"}
		assert.ErrorIs(t, repo.Create(ctx, other), store.ErrAlreadyExists)

		d.Spec.CustomDomain = nil
		require.NoError(t, repo.Update(ctx, d))
		got, err = repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Spec.CustomDomain)
	})

	t.Run("delete is soft", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		require.NoError(t, repo.Create(ctx, d))
		require.NoError(t, repo.Delete(ctx, d.ID))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, types.DeploymentStatusDeleted, got.Status)

		assert.ErrorIs(t, repo.Update(ctx, d), rerrors.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, uuid.New()), rerrors.ErrNotFound)
	})

	t.Run("update status", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		require.NoError(t, repo.Create(ctx, d))
		require.NoError(t, repo.UpdateStatus(ctx, d.ID, types.DeploymentStatusRunning))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, types.DeploymentStatusRunning, got.Status)

		assert.Error(t, repo.UpdateStatus(ctx, d.ID, "bogus"))
		assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.New(), types.DeploymentStatusRunning), rerrors.ErrNotFound)
	})

	t.Run("list and count", func(t *testing.T) {
		repo := factory(t)
		a := NewDeployment(workspace)
		b := NewDeployment(workspace)
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.Create(ctx, b))
		require.NoError(t, repo.UpdateStatus(ctx, b.ID, types.DeploymentStatusStopped))

		all, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[types.DeploymentStatusCreated])
		assert.Equal(t, 1, counts[types.DeploymentStatusStopped])
	})

	t.Run("list by image skips deleted", func(t *testing.T) {
		repo := factory(t)
		a := NewDeployment(workspace)
		b := NewDeployment(workspace)
		c := NewDeployment(workspace)
		c.Spec.ImageTag = "latest"
		for _, d := range []*types.Deployment{a, b, c} {
			require.NoError(t, repo.Create(ctx, d))
		}
		require.NoError(t, repo.Delete(ctx, b.ID))

		got, err := repo.ListByImage(ctx, "docker.io", "library/nginx", "1.27")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)
	})

	t.Run("record digest", func(t *testing.T) {
		repo := factory(t)
		d := NewDeployment(workspace)
		require.NoError(t, repo.Create(ctx, d))
		require.NoError(t, repo.RecordDigest(ctx, d.ID, "sha256:abc"))

		got, err := repo.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, "sha256:abc", got.CurrentLiveDigest)
	})

	t.Run("machine type", func(t *testing.T) {
		repo := factory(t)
		mt, err := repo.MachineType(ctx, SmallMachineType.ID)
		require.NoError(t, err)
		assert.Equal(t, SmallMachineType, *mt)

		_, err = repo.MachineType(ctx, uuid.New())
		assert.ErrorIs(t, err, rerrors.ErrNotFound)
	})
}
