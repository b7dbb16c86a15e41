package agent

import (
	"time"

	"github.com/cuemby/warren-agent/pkg/metrics"
)

// metricsCollector periodically polls the registry and status manager's
// bounded in-memory collections and republishes their sizes as
// Prometheus gauges. Polling keeps these reads off the hot path of every
// registry/status-manager operation.
type metricsCollector struct {
	registry Registry
	status   StatusManager
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newMetricsCollector(registry Registry, status StatusManager, interval time.Duration) *metricsCollector {
	return &metricsCollector{
		registry: registry,
		status:   status,
		interval: interval,
	}
}

// Start begins the poll loop in a background goroutine.
func (c *metricsCollector) Start() {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the poll loop and waits for the in-flight collection, if
// any, to finish.
func (c *metricsCollector) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *metricsCollector) collect() {
	frameworks, executors, queuedTasks, launchedTasks, completedExecutors, completedTasks := c.registry.Occupancy()
	metrics.FrameworksTotal.Set(float64(frameworks))
	metrics.ExecutorsTotal.Set(float64(executors))
	metrics.TasksByQueue.WithLabelValues("queued").Set(float64(queuedTasks))
	metrics.TasksByQueue.WithLabelValues("launched").Set(float64(launchedTasks))
	metrics.CompletedRingOccupancy.WithLabelValues("executor").Set(float64(completedExecutors))
	metrics.CompletedRingOccupancy.WithLabelValues("task").Set(float64(completedTasks))

	valid, invalid := c.registry.Stats()
	metrics.StatusUpdatesValidTotal.Set(float64(valid))
	metrics.StatusUpdatesInvalidTotal.Set(float64(invalid))

	pending, forwarded, acked := c.status.Stats()
	metrics.StatusUpdatesByState.WithLabelValues("pending").Set(float64(pending))
	metrics.StatusUpdatesByState.WithLabelValues("forwarded").Set(float64(forwarded))
	metrics.StatusUpdatesByState.WithLabelValues("acked").Set(float64(acked))
}
