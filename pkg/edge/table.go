// Package edge maintains the edge routing table the platform's traffic edge reads.
package edge

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// Table is a key/value routing table keyed by "<subdomain>.<domain>"
type Table struct {
	store  storage.Store
	now    func() time.Time
	logger zerolog.Logger
}

// NewTable creates a routing table backed by store
func NewTable(store storage.Store) *Table {
	return &Table{
		store:  store,
		now:    time.Now,
		logger: log.WithComponent("edge"),
	}
}

// Key builds a routing key from a subdomain and a domain
func Key(subdomain, domain string) string {
	return strings.ToLower(subdomain + "." + domain)
}

// WriteBulk publishes entries atomically. Every mount target is validated first.
func (t *Table) WriteBulk(entries []*types.RouteEntry) error {
	now := t.now()
	for _, entry := range entries {
		if entry.Host == "" {
			return fmt.Errorf("route entry without host")
		}
		entry.Host = strings.ToLower(entry.Host)
		for mount, target := range entry.Mounts {
			if !strings.HasPrefix(mount, "/") {
				return fmt.Errorf("mount point %q on %s must start with /", mount, entry.Host)
			}
			if err := target.Validate(); err != nil {
				return fmt.Errorf("invalid route for %s%s: %w", entry.Host, mount, err)
			}
		}
		entry.UpdatedAt = now
	}
	if err := t.store.PutRoutes(entries); err != nil {
		return fmt.Errorf("failed to write routes: %w", err)
	}
	return nil
}

// DeleteKey removes one host
func (t *Table) DeleteKey(host string) error {
	if err := t.store.DeleteRoute(strings.ToLower(host)); err != nil {
		return fmt.Errorf("failed to delete route %s: %w", host, err)
	}
	return nil
}

// Get returns the entry for host
func (t *Table) Get(host string) (*types.RouteEntry, error) {
	return t.store.GetRoute(strings.ToLower(host))
}

// HostsFor lists the hosts currently published for a resource
func (t *Table) HostsFor(id types.ResourceID) ([]string, error) {
	entries, err := t.store.ListRoutesByResource(id)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes for %s: %w", id, err)
	}
	hosts := make([]string, 0, len(entries))
	for _, entry := range entries {
		hosts = append(hosts, entry.Host)
	}
	return hosts, nil
}

// Replace publishes entries for id and removes any other host id owned before.
// Entries whose mounts are unchanged are left alone so an existing expiry is kept.
func (t *Table) Replace(id types.ResourceID, entries []*types.RouteEntry) error {
	current, err := t.store.ListRoutesByResource(id)
	if err != nil {
		return fmt.Errorf("failed to list routes for %s: %w", id, err)
	}
	existing := make(map[string]*types.RouteEntry, len(current))
	for _, entry := range current {
		existing[entry.Host] = entry
	}

	keep := make(map[string]struct{}, len(entries))
	changed := make([]*types.RouteEntry, 0, len(entries))
	for _, entry := range entries {
		entry.Host = strings.ToLower(entry.Host)
		keep[entry.Host] = struct{}{}
		if old, ok := existing[entry.Host]; ok && sameRoute(old, entry) {
			continue
		}
		changed = append(changed, entry)
	}
	if len(changed) > 0 {
		if err := t.WriteBulk(changed); err != nil {
			return err
		}
	}

	for host := range existing {
		if _, ok := keep[host]; ok {
			continue
		}
		if err := t.DeleteKey(host); err != nil {
			return err
		}
	}
	return nil
}

func sameRoute(a, b *types.RouteEntry) bool {
	return a.ResourceID == b.ResourceID &&
		(a.ExpiresAt == nil) == (b.ExpiresAt == nil) &&
		reflect.DeepEqual(a.Mounts, b.Mounts)
}

// RemoveResource deletes every host owned by id
func (t *Table) RemoveResource(id types.ResourceID) error {
	return t.Replace(id, nil)
}

// Sweep purges entries whose expiry has passed and returns how many were removed
func (t *Table) Sweep() (int, error) {
	entries, err := t.store.ListRoutes()
	if err != nil {
		return 0, fmt.Errorf("failed to list routes: %w", err)
	}
	now := t.now()
	removed := 0
	for _, entry := range entries {
		if !entry.Expired(now) {
			continue
		}
		if err := t.DeleteKey(entry.Host); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		t.logger.Info().Int("removed", removed).Msg("Swept expired routes")
	}
	if n, err := t.store.CountRoutes(); err == nil {
		metrics.EdgeRoutesTotal.Set(float64(n))
	}
	return removed, nil
}

// Lookup resolves the target for a request host and path
func (t *Table) Lookup(host, path string) (*types.RouteTarget, error) {
	entry, err := t.Get(stripPort(host))
	if err != nil {
		return nil, err
	}
	if entry.Expired(t.now()) {
		return nil, fmt.Errorf("route expired: %s", host)
	}
	target := matchMount(entry.Mounts, path)
	if target == nil {
		return nil, fmt.Errorf("no route for %s%s", host, path)
	}
	return target, nil
}
