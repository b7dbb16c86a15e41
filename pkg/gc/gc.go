// Package gc implements the agent's disk-usage-driven sandbox garbage
// collector: a control loop where the permitted age of sandbox
// directories decays with disk usage. The decay curve itself is
// pluggable (DecayFunc), constrained only to be monotonic
// non-increasing in usage.
package gc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-agent/pkg/metrics"
)

// DecayFunc maps a disk-usage fraction in [0, 1] to the permitted
// sandbox age. Implementations must be monotonic non-increasing: higher
// usage never yields a longer permitted age.
type DecayFunc func(usageFraction float64) time.Duration

// LinearDecay is the default DecayFunc: permitted age falls linearly
// from maxAge at zero usage to floor at 100% usage. See DESIGN.md for
// why the curve itself is kept swappable.
func LinearDecay(maxAge, floor time.Duration) DecayFunc {
	return func(usageFraction float64) time.Duration {
		switch {
		case usageFraction <= 0:
			return maxAge
		case usageFraction >= 1:
			return floor
		}
		span := maxAge - floor
		permitted := maxAge - time.Duration(float64(span)*usageFraction)
		if permitted < floor {
			return floor
		}
		return permitted
	}
}

// DiskUsage reports the fraction of capacity in use under a path's
// filesystem, for the control loop to feed into a DecayFunc.
type DiskUsage func(path string) (fraction float64, err error)

// Collector periodically sweeps a root directory of sandbox
// directories, deleting any older than the currently permitted age.
type Collector struct {
	log           zerolog.Logger
	root          string
	decay         DecayFunc
	usage         DiskUsage
	watchInterval time.Duration
	clock         func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Collector. root is the directory whose immediate
// subdirectories are treated as sandboxes (one per executor run);
// watchInterval controls how often the sweep runs.
func New(log zerolog.Logger, root string, decay DecayFunc, usage DiskUsage, watchInterval time.Duration) *Collector {
	return &Collector{
		log:           log.With().Str("component", "gc").Logger(),
		root:          root,
		decay:         decay,
		usage:         usage,
		watchInterval: watchInterval,
	}
}

// Start begins the periodic sweep loop in a background goroutine.
func (c *Collector) Start(ctx context.Context) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.watchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-flight sweep, if any,
// to finish.
func (c *Collector) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) sweep() {
	metrics.GCSweepsTotal.Inc()

	fraction, err := c.usage(c.root)
	if err != nil {
		c.log.Error().Err(err).Str("root", c.root).Msg("failed to read disk usage")
		return
	}
	permittedAge := c.decay(fraction)

	entries, err := os.ReadDir(c.root)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Error().Err(err).Str("root", c.root).Msg("failed to list sandbox directories")
		}
		return
	}

	now := c.now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= permittedAge {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			c.log.Error().Err(err).Str("path", path).Msg("failed to remove aged-out sandbox")
			continue
		}
		metrics.GCReclaimedSandboxesTotal.Inc()
		c.log.Info().Str("path", path).Dur("age", age).Dur("permitted_age", permittedAge).
			Msg("removed aged-out sandbox directory")
	}
}

// now is overridden in tests to avoid depending on real wall-clock
// mtimes of freshly-created fixtures.
func (c *Collector) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}
