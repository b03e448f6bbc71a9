package edge

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewTable(store)
}

func deploymentEntry(id types.ResourceID, host string, port uint16) *types.RouteEntry {
	return &types.RouteEntry{
		Host:       host,
		ResourceID: id,
		Mounts: map[string]types.RouteTarget{
			"/": {Type: types.RouteTypeDeployment, DeploymentID: &id, Port: port, Region: "eu-1"},
		},
	}
}

func TestTableWriteAndLookup(t *testing.T) {
	table := newTestTable(t)
	id := uuid.New()
	host := Key(id.String(), "Apps.Example.com")

	require.NoError(t, table.WriteBulk([]*types.RouteEntry{deploymentEntry(id, host, 8080)}))

	target, err := table.Lookup(id.String()+".apps.example.com:443", "/anything")
	require.NoError(t, err)
	assert.Equal(t, types.RouteTypeDeployment, target.Type)
	assert.Equal(t, uint16(8080), target.Port)
	assert.Equal(t, id, *target.DeploymentID)
}

func TestTableWriteRejectsInvalidTargets(t *testing.T) {
	table := newTestTable(t)
	id := uuid.New()

	err := table.WriteBulk([]*types.RouteEntry{{
		Host:       "x.example.com",
		ResourceID: id,
		Mounts:     map[string]types.RouteTarget{"/": {Type: types.RouteTypeProxy}},
	}})
	assert.Error(t, err)

	err = table.WriteBulk([]*types.RouteEntry{{
		Host:       "x.example.com",
		ResourceID: id,
		Mounts:     map[string]types.RouteTarget{"api": {Type: types.RouteTypeProxy, To: "https://x"}},
	}})
	assert.Error(t, err)
}

func TestTableLookupUnknownHost(t *testing.T) {
	table := newTestTable(t)
	_, err := table.Lookup("nobody.example.com:443", "/")
	assert.ErrorIs(t, err, rerrors.ErrNotFound)
}

func TestTableReplaceRemovesStaleHosts(t *testing.T) {
	table := newTestTable(t)
	id := uuid.New()

	require.NoError(t, table.Replace(id, []*types.RouteEntry{
		deploymentEntry(id, "80-a.eu-1.example.com", 80),
		deploymentEntry(id, "81-a.eu-1.example.com", 81),
	}))
	require.NoError(t, table.Replace(id, []*types.RouteEntry{
		deploymentEntry(id, "80-a.eu-1.example.com", 80),
	}))

	hosts, err := table.HostsFor(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"80-a.eu-1.example.com"}, hosts)

	require.NoError(t, table.RemoveResource(id))
	hosts, err = table.HostsFor(id)
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestTableSweep(t *testing.T) {
	table := newTestTable(t)
	now := time.Now()
	table.now = func() time.Time { return now }

	expired := deploymentEntry(uuid.New(), "old.example.com", 80)
	past := now.Add(-time.Minute)
	expired.ExpiresAt = &past

	fresh := deploymentEntry(uuid.New(), "new.example.com", 80)
	future := now.Add(time.Hour)
	fresh.ExpiresAt = &future

	require.NoError(t, table.WriteBulk([]*types.RouteEntry{expired, fresh}))

	_, err := table.Lookup("old.example.com", "/")
	assert.Error(t, err, "expired entries must not resolve")

	removed, err := table.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = table.Get("old.example.com")
	assert.ErrorIs(t, err, rerrors.ErrNotFound)
	_, err = table.Get("new.example.com")
	assert.NoError(t, err)
}

func TestTableReplaceKeepsUnchangedEntries(t *testing.T) {
	table := newTestTable(t)
	id := uuid.New()
	first := time.Now()
	table.now = func() time.Time { return first }

	entry := deploymentEntry(id, "a.example.com", 80)
	expiry := first.Add(time.Hour)
	entry.ExpiresAt = &expiry
	require.NoError(t, table.Replace(id, []*types.RouteEntry{entry}))

	table.now = func() time.Time { return first.Add(time.Minute) }
	again := deploymentEntry(id, "a.example.com", 80)
	later := first.Add(2 * time.Hour)
	again.ExpiresAt = &later
	require.NoError(t, table.Replace(id, []*types.RouteEntry{again}))

	got, err := table.Get("a.example.com")
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, expiry, *got.ExpiresAt, time.Millisecond)
	assert.WithinDuration(t, first, got.UpdatedAt, time.Millisecond)
}
