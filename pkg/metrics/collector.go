package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// StatusCounter reports how many deployments sit in each status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[types.DeploymentStatus]int, error)
}

// RouteCounter reports how many edge routing entries are published
type RouteCounter interface {
	CountRoutes() (int, error)
}

// Collector samples gauges that are cheaper to poll than to track
type Collector struct {
	statuses StatusCounter
	routes   RouteCounter
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(statuses StatusCounter, routes RouteCounter) *Collector {
	return &Collector{
		statuses: statuses,
		routes:   routes,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectDeploymentMetrics()
	c.collectRouteMetrics()
}

func (c *Collector) collectDeploymentMetrics() {
	if c.statuses == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.statuses.CountByStatus(ctx)
	if err != nil {
		return
	}
	for _, status := range []types.DeploymentStatus{
		types.DeploymentStatusCreated,
		types.DeploymentStatusPushed,
		types.DeploymentStatusDeploying,
		types.DeploymentStatusRunning,
		types.DeploymentStatusStopped,
		types.DeploymentStatusErrored,
		types.DeploymentStatusDeleted,
	} {
		DeploymentsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectRouteMetrics() {
	if c.routes == nil {
		return
	}
	n, err := c.routes.CountRoutes()
	if err != nil {
		return
	}
	EdgeRoutesTotal.Set(float64(n))
}
