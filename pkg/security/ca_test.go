package security

import (
	"crypto/ecdsa"
	"crypto/tls"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/storage"
)

func newTestCA(t *testing.T) (*CertAuthority, *storage.BoltStore) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sm, err := NewSecretsManager(DeriveKey("test-workspace"))
	require.NoError(t, err)

	ca := NewCertAuthority(store, sm)
	require.NoError(t, ca.LoadOrInitialize())
	return ca, store
}

func TestLoadOrInitializeCA(t *testing.T) {
	ca, store := newTestCA(t)
	assert.True(t, ca.IsInitialized())

	root := ca.GetRootCACert()
	require.NotEmpty(t, root)

	sm, err := NewSecretsManager(DeriveKey("test-workspace"))
	require.NoError(t, err)

	reloaded := NewCertAuthority(store, sm)
	require.NoError(t, reloaded.LoadOrInitialize())
	assert.Equal(t, root, reloaded.GetRootCACert())
}

func TestLoadCAWithWrongKey(t *testing.T) {
	_, store := newTestCA(t)

	sm, err := NewSecretsManager(DeriveKey("other-workspace"))
	require.NoError(t, err)

	err = NewCertAuthority(store, sm).LoadFromStore()
	assert.Error(t, err)
}

func TestIssueDeploymentCertificate(t *testing.T) {
	ca, store := newTestCA(t)
	id := uuid.New()

	issued, err := ca.IssueDeploymentCertificate(id, "apps.example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.KeyPEM)
	assert.NotEmpty(t, issued.IssuerID)
	assert.WithinDuration(t, time.Now().Add(leafCertValidity), issued.NotAfter, time.Minute)

	cert, err := ParseCertPEM(issued.CertPEM)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		id.String() + ".apps.example.com",
		"*." + id.String() + ".apps.example.com",
	}, cert.DNSNames)
	assert.NoError(t, ca.VerifyCertificate(cert))

	record, err := store.GetCertificate(issued.IssuerID)
	require.NoError(t, err)
	assert.Equal(t, id, record.ResourceID)
	assert.False(t, record.Revoked)

	pair, err := tls.X509KeyPair(issued.CertPEM, issued.KeyPEM)
	require.NoError(t, err, "certificate and key must load as a TLS secret would")
	assert.IsType(t, &ecdsa.PrivateKey{}, pair.PrivateKey)
}

func TestIssueDomainCertificate(t *testing.T) {
	ca, store := newTestCA(t)
	id := uuid.New()

	issued, err := ca.IssueDomainCertificate(id, "shop.example.org")
	require.NoError(t, err)
	cert, err := ParseCertPEM(issued.CertPEM)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop.example.org"}, cert.DNSNames)
	assert.Error(t, cert.VerifyHostname("www.shop.example.org"))

	records, err := store.ListCertificatesByResource(id)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTrusts(t *testing.T) {
	ca, _ := newTestCA(t)
	other, _ := newTestCA(t)
	id := uuid.New()

	issued, err := ca.IssueDeploymentCertificate(id, "apps.example.com")
	require.NoError(t, err)
	cert, err := ParseCertPEM(issued.CertPEM)
	require.NoError(t, err)
	assert.Equal(t, issued.IssuerID, IssuerID(cert))

	assert.True(t, ca.Trusts(cert))
	assert.False(t, other.Trusts(cert), "a different root must not verify the chain")

	require.NoError(t, ca.Revoke(issued.IssuerID))
	assert.False(t, ca.Trusts(cert))
}

func TestIssueRequiresName(t *testing.T) {
	ca, _ := newTestCA(t)
	_, err := ca.IssueDeploymentCertificate(uuid.New(), "")
	assert.Error(t, err)
	_, err = ca.IssueDomainCertificate(uuid.New(), "")
	assert.Error(t, err)
}

func TestIssueWithoutInitialize(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	sm, err := NewSecretsManager(DeriveKey("x"))
	require.NoError(t, err)

	ca := NewCertAuthority(store, sm)
	assert.False(t, ca.IsInitialized())
	_, err = ca.IssueDeploymentCertificate(uuid.New(), "apps.example.com")
	assert.Error(t, err)
}

func TestRevokeForResource(t *testing.T) {
	ca, _ := newTestCA(t)
	id := uuid.New()
	other := uuid.New()

	first, err := ca.IssueDeploymentCertificate(id, "apps.example.com")
	require.NoError(t, err)
	second, err := ca.IssueDeploymentCertificate(id, "apps.example.com")
	require.NoError(t, err)
	kept, err := ca.IssueDeploymentCertificate(other, "apps.example.com")
	require.NoError(t, err)

	require.NoError(t, ca.RevokeForResource(id))
	// second call is a no-op
	require.NoError(t, ca.RevokeForResource(id))

	for _, serial := range []string{first.IssuerID, second.IssuerID} {
		revoked, err := ca.IsRevoked(serial)
		require.NoError(t, err)
		assert.True(t, revoked, serial)
	}

	revoked, err := ca.IsRevoked(kept.IssuerID)
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevokeUnknownSerial(t *testing.T) {
	ca, _ := newTestCA(t)
	assert.Error(t, ca.Revoke("deadbeef"))
}
