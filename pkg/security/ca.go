package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// CertAuthority issues TLS certificates for deployment hostnames
type CertAuthority struct {
	rootCert *x509.Certificate
	rootKey  *ecdsa.PrivateKey
	store    storage.Store
	secrets  *SecretsManager
	now      func() time.Time
	mu       sync.RWMutex
}

// IssuedCertificate is a freshly issued certificate and its key, PEM encoded.
// IssuerID identifies the certificate for later revocation.
type IssuedCertificate struct {
	CertPEM  []byte
	KeyPEM   []byte
	CAPEM    []byte
	IssuerID string
	NotAfter time.Time
}

// CAData is the stored form of the authority. RootKey is a PKCS#8 key
// sealed by the SecretsManager.
type CAData struct {
	RootCertDER []byte `json:"rootCert"`
	RootKey     []byte `json:"rootKey"`
}

const (
	rootCAValidity   = 10 * 365 * 24 * time.Hour
	leafCertValidity = 90 * 24 * time.Hour
)

// NewCertAuthority creates a certificate authority persisted in store.
// The root key is encrypted with secrets before it is written.
func NewCertAuthority(store storage.Store, secrets *SecretsManager) *CertAuthority {
	return &CertAuthority{
		store:   store,
		secrets: secrets,
		now:     time.Now,
	}
}

// LoadOrInitialize loads the CA from the store, creating and saving one when none exists
func (ca *CertAuthority) LoadOrInitialize() error {
	_, err := ca.store.GetCA()
	switch {
	case err == nil:
		return ca.LoadFromStore()
	case !errors.Is(err, rerrors.ErrNotFound):
		return fmt.Errorf("failed to read CA: %w", err)
	}
	if err := ca.Initialize(); err != nil {
		return err
	}
	return ca.SaveToStore()
}

// Initialize generates a new root CA certificate
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return err
	}

	now := ca.now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Burrow"},
			CommonName:   "Burrow Deployment CA",
		},
		NotBefore:             now,
		NotAfter:              now.Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// LoadFromStore loads the CA from storage
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	data, err := ca.store.GetCA()
	if err != nil {
		return fmt.Errorf("failed to get CA from storage: %w", err)
	}

	var caData CAData
	if err := json.Unmarshal(data, &caData); err != nil {
		return fmt.Errorf("failed to unmarshal CA data: %w", err)
	}

	keyDER, err := ca.secrets.DecryptSecret(caData.RootKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt root key: %w", err)
	}

	rootCert, err := x509.ParseCertificate(caData.RootCertDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return fmt.Errorf("failed to parse root key: %w", err)
	}
	rootKey, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("root key has unexpected type %T", parsed)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// SaveToStore saves the CA to storage
func (ca *CertAuthority) SaveToStore() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("CA not initialized")
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(ca.rootKey)
	if err != nil {
		return fmt.Errorf("failed to marshal root key: %w", err)
	}
	encryptedKey, err := ca.secrets.EncryptSecret(keyDER)
	if err != nil {
		return fmt.Errorf("failed to encrypt root key: %w", err)
	}

	data, err := json.Marshal(CAData{
		RootCertDER: ca.rootCert.Raw,
		RootKey:     encryptedKey,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal CA data: %w", err)
	}

	if err := ca.store.SaveCA(data); err != nil {
		return fmt.Errorf("failed to save CA to storage: %w", err)
	}
	return nil
}

// DeploymentHostnames returns the names a deployment certificate covers
func DeploymentHostnames(id types.ResourceID, rootDomain string) []string {
	host := fmt.Sprintf("%s.%s", id, rootDomain)
	return []string{host, "*." + host}
}

// IssueDeploymentCertificate issues a server certificate for <id>.<rootDomain>
// and its wildcard, and records it for later revocation
func (ca *CertAuthority) IssueDeploymentCertificate(id types.ResourceID, rootDomain string) (*IssuedCertificate, error) {
	if rootDomain == "" {
		return nil, fmt.Errorf("root domain is required")
	}
	return ca.issue(id, DeploymentHostnames(id, rootDomain))
}

// IssueDomainCertificate issues a server certificate for a verified custom
// domain of id
func (ca *CertAuthority) IssueDomainCertificate(id types.ResourceID, domain string) (*IssuedCertificate, error) {
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}
	return ca.issue(id, []string{domain})
}

func (ca *CertAuthority) issue(id types.ResourceID, dnsNames []string) (*IssuedCertificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate key: %w", err)
	}

	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := ca.now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Burrow"},
			CommonName:   dnsNames[0],
		},
		NotBefore:   now.Add(-time.Minute),
		NotAfter:    now.Add(leafCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &leafKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	issuerID := serialID(serialNumber)
	record := &types.CertificateRecord{
		Serial:     issuerID,
		ResourceID: id,
		DNSNames:   dnsNames,
		IssuedAt:   now,
		NotAfter:   template.NotAfter,
	}
	if err := ca.store.SaveCertificate(record); err != nil {
		return nil, fmt.Errorf("failed to record certificate: %w", err)
	}
	metrics.CertificatesIssuedTotal.Inc()

	keyPEM, err := EncodeKeyPEM(leafKey)
	if err != nil {
		return nil, err
	}

	return &IssuedCertificate{
		CertPEM:  EncodeCertPEM(certDER),
		KeyPEM:   keyPEM,
		CAPEM:    EncodeCertPEM(ca.rootCert.Raw),
		IssuerID: issuerID,
		NotAfter: template.NotAfter,
	}, nil
}

// Revoke marks a certificate as revoked. Revoking twice is a no-op.
func (ca *CertAuthority) Revoke(issuerID string) error {
	record, err := ca.store.GetCertificate(issuerID)
	if err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}
	if record.Revoked {
		return nil
	}
	now := ca.now()
	record.Revoked = true
	record.RevokedAt = &now
	if err := ca.store.SaveCertificate(record); err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}
	return nil
}

// RevokeForResource revokes every live certificate issued for id
func (ca *CertAuthority) RevokeForResource(id types.ResourceID) error {
	records, err := ca.store.ListCertificatesByResource(id)
	if err != nil {
		return fmt.Errorf("failed to list certificates for %s: %w", id, err)
	}
	for _, record := range records {
		if err := ca.Revoke(record.Serial); err != nil {
			return err
		}
	}
	return nil
}

// IsRevoked reports whether the certificate with issuerID has been revoked
func (ca *CertAuthority) IsRevoked(issuerID string) (bool, error) {
	record, err := ca.store.GetCertificate(issuerID)
	if err != nil {
		return false, err
	}
	return record.Revoked, nil
}

// Trusts reports whether cert was issued by this CA and has not been revoked.
// A certificate with no issuance record is not trusted.
func (ca *CertAuthority) Trusts(cert *x509.Certificate) bool {
	if ca.VerifyCertificate(cert) != nil {
		return false
	}
	revoked, err := ca.IsRevoked(IssuerID(cert))
	return err == nil && !revoked
}

// IssuerID returns the identifier recorded for cert at issuance
func IssuerID(cert *x509.Certificate) string {
	return serialID(cert.SerialNumber)
}

func serialID(serial *big.Int) string {
	return hex.EncodeToString(serial.Bytes())
}

// VerifyCertificate verifies a certificate against the root CA
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("CA not initialized")
	}
	return ValidateCertChain(cert, ca.rootCert)
}

// GetRootCACert returns the root CA certificate in DER format
func (ca *CertAuthority) GetRootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized returns true if the CA is initialized
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	return ca.rootCert != nil && ca.rootKey != nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}
