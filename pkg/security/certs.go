package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Rotate when less than 30 days remain
const certRotationThreshold = 30 * 24 * time.Hour

// EncodeCertPEM encodes a DER certificate as PEM
func EncodeCertPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// EncodeKeyPEM encodes a private key as PKCS#8 PEM
func EncodeKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParseCertPEM decodes the first certificate in a PEM block
func ParseCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// SaveCACertToFile writes the CA certificate as <certDir>/ca.crt
func SaveCACertToFile(caCert []byte, certDir string) (string, error) {
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create cert directory: %w", err)
	}

	caPath := filepath.Join(certDir, "ca.crt")
	if err := os.WriteFile(caPath, EncodeCertPEM(caCert), 0644); err != nil {
		return "", fmt.Errorf("failed to write CA certificate: %w", err)
	}
	return caPath, nil
}

// CertNeedsRotation returns true if the certificate should be reissued
func CertNeedsRotation(cert *x509.Certificate, now time.Time) bool {
	if cert == nil {
		return true
	}
	return cert.NotAfter.Sub(now) < certRotationThreshold
}

// ValidateCertChain validates that cert was signed by ca
func ValidateCertChain(cert, ca *x509.Certificate) error {
	if cert == nil || ca == nil {
		return fmt.Errorf("certificate and CA are required")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}
