package storage

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Store defines the interface for the runner's local edge and certificate state
type Store interface {
	// Edge routes, keyed by host
	PutRoutes(entries []*types.RouteEntry) error
	GetRoute(host string) (*types.RouteEntry, error)
	ListRoutes() ([]*types.RouteEntry, error)
	ListRoutesByResource(id types.ResourceID) ([]*types.RouteEntry, error)
	DeleteRoute(host string) error
	CountRoutes() (int, error)

	// Certificate authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Issued certificates, keyed by serial
	SaveCertificate(cert *types.CertificateRecord) error
	GetCertificate(serial string) (*types.CertificateRecord, error)
	ListCertificatesByResource(id types.ResourceID) ([]*types.CertificateRecord, error)

	// Utility
	Close() error
}
