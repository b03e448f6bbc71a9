package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// Bucket names
	bucketRoutes       = []byte("routes")
	bucketCA           = []byte("ca")
	bucketCertificates = []byte("certificates")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRoutes, bucketCA, bucketCertificates} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutRoutes writes all entries in a single transaction
func (s *BoltStore) PutRoutes(entries []*types.RouteEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoutes)
		for _, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entry.Host), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetRoute(host string) (*types.RouteEntry, error) {
	var entry types.RouteEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoutes)
		data := b.Get([]byte(host))
		if data == nil {
			return fmt.Errorf("route %s: %w", host, rerrors.ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	return &entry, err
}

func (s *BoltStore) ListRoutes() ([]*types.RouteEntry, error) {
	var entries []*types.RouteEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoutes)
		return b.ForEach(func(k, v []byte) error {
			var entry types.RouteEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) ListRoutesByResource(id types.ResourceID) ([]*types.RouteEntry, error) {
	all, err := s.ListRoutes()
	if err != nil {
		return nil, err
	}
	var entries []*types.RouteEntry
	for _, entry := range all {
		if entry.ResourceID == id {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// DeleteRoute removes a host; deleting a missing host is not an error
func (s *BoltStore) DeleteRoute(host string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRoutes)
		return b.Delete([]byte(host))
	})
}

func (s *BoltStore) CountRoutes() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutes).ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// CA operations
func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		// Use fixed key "ca" for the CA data
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA: %w", rerrors.ErrNotFound)
		}
		// BoltDB data is only valid during the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}

// Certificate operations
func (s *BoltStore) SaveCertificate(cert *types.CertificateRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		data, err := json.Marshal(cert)
		if err != nil {
			return err
		}
		return b.Put([]byte(cert.Serial), data)
	})
}

func (s *BoltStore) GetCertificate(serial string) (*types.CertificateRecord, error) {
	var cert types.CertificateRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		data := b.Get([]byte(serial))
		if data == nil {
			return fmt.Errorf("certificate %s: %w", serial, rerrors.ErrNotFound)
		}
		return json.Unmarshal(data, &cert)
	})
	return &cert, err
}

func (s *BoltStore) ListCertificatesByResource(id types.ResourceID) ([]*types.CertificateRecord, error) {
	var certs []*types.CertificateRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		return b.ForEach(func(k, v []byte) error {
			var cert types.CertificateRecord
			if err := json.Unmarshal(v, &cert); err != nil {
				return err
			}
			if cert.ResourceID == id {
				certs = append(certs, &cert)
			}
			return nil
		})
	})
	return certs, err
}
