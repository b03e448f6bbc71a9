package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRoutesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	id := uuid.New()
	other := uuid.New()

	entries := []*types.RouteEntry{
		{
			Host:       id.String() + ".apps.example.com",
			ResourceID: id,
			Mounts: map[string]types.RouteTarget{
				"/": {Type: types.RouteTypeDeployment, DeploymentID: &id, Port: 8080, Region: "eu-1"},
			},
		},
		{
			Host:       "8080-" + id.String() + ".eu-1.apps.example.com",
			ResourceID: id,
			Mounts: map[string]types.RouteTarget{
				"/": {Type: types.RouteTypeDeployment, DeploymentID: &id, Port: 8080, Region: "eu-1"},
			},
		},
		{
			Host:       other.String() + ".apps.example.com",
			ResourceID: other,
			Mounts: map[string]types.RouteTarget{
				"/": {Type: types.RouteTypeProxy, To: "https://stopped.example.com"},
			},
		},
	}
	require.NoError(t, store.PutRoutes(entries))

	got, err := store.GetRoute(id.String() + ".apps.example.com")
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), got.Mounts["/"].Port)

	byResource, err := store.ListRoutesByResource(id)
	require.NoError(t, err)
	assert.Len(t, byResource, 2)

	n, err := store.CountRoutes()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, store.DeleteRoute(other.String()+".apps.example.com"))
	require.NoError(t, store.DeleteRoute("missing.example.com"), "deleting a missing host is not an error")

	_, err = store.GetRoute(other.String() + ".apps.example.com")
	assert.ErrorIs(t, err, rerrors.ErrNotFound)
}

func TestCAData(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCA()
	assert.ErrorIs(t, err, rerrors.ErrNotFound)

	require.NoError(t, store.SaveCA([]byte("ca-bytes")))
	data, err := store.GetCA()
	require.NoError(t, err)
	assert.Equal(t, []byte("ca-bytes"), data)
}

func TestCertificates(t *testing.T) {
	store := newTestStore(t)
	id := uuid.New()

	cert := &types.CertificateRecord{
		Serial:     "0a1b",
		ResourceID: id,
		DNSNames:   []string{id.String() + ".apps.example.com"},
		IssuedAt:   time.Now().UTC(),
		NotAfter:   time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, store.SaveCertificate(cert))
	require.NoError(t, store.SaveCertificate(&types.CertificateRecord{Serial: "ffff", ResourceID: uuid.New()}))

	_, err := store.GetCertificate("0000")
	assert.ErrorIs(t, err, rerrors.ErrNotFound)

	got, err := store.GetCertificate("0a1b")
	require.NoError(t, err)
	assert.Equal(t, cert.DNSNames, got.DNSNames)

	list, err := store.ListCertificatesByResource(id)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "0a1b", list[0].Serial)
}
