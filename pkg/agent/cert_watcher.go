package agent

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-agent/pkg/security"
)

// certWatcher periodically checks whether this agent's node certificate
// is entering its rotation window, logging a warning so an operator (or
// whatever drives actual certificate replacement) notices before the
// certificate expires outright. It is a no-op when cfg.CertDir is unset,
// since standalone mode has no certificate to watch.
type certWatcher struct {
	log     zerolog.Logger
	certDir string

	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newCertWatcher(log zerolog.Logger, certDir string, interval time.Duration) *certWatcher {
	return &certWatcher{
		log:      log.With().Str("component", "cert_watcher").Logger(),
		certDir:  certDir,
		interval: interval,
	}
}

// Start begins the poll loop in a background goroutine. It does nothing
// if no cert directory is configured.
func (c *certWatcher) Start() {
	if c.certDir == "" {
		return
	}

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.check()
		for {
			select {
			case <-ticker.C:
				c.check()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the poll loop, if it was started.
func (c *certWatcher) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *certWatcher) check() {
	if !security.CertExists(c.certDir) {
		return
	}

	cert, err := security.LoadCertFromFile(c.certDir)
	if err != nil {
		c.log.Error().Err(err).Str("cert_dir", c.certDir).Msg("failed to load node certificate for rotation check")
		return
	}

	if security.CertNeedsRotation(cert.Leaf) {
		c.log.Warn().Time("expires_at", security.GetCertExpiry(cert.Leaf)).
			Str("cert_dir", c.certDir).Msg("node certificate entering its rotation window")
	}
}
