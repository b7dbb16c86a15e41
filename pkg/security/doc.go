/*
Package security manages this agent's mTLS client identity: loading and
saving its node certificate, key, and the cluster CA certificate from
disk, and the lifecycle checks (expiry, rotation threshold) that decide
when a certificate needs replacing.

Certificate issuance itself is the master's job (the agent only ever
holds a node certificate it was issued); this package covers everything
the agent does with that certificate once it has one: persisting it
under its cert directory, loading it back, and checking whether it is
due for rotation.

# Certificate directory layout

Each agent's certificate material lives under:

	~/.warren-agent/certs/<agent-id>/
	  node.crt   (this agent's certificate, PEM)
	  node.key   (this agent's private key, PEM, RSA)
	  ca.crt     (the cluster CA certificate, PEM, for verifying the master)

# Rotation

CertNeedsRotation flags a certificate once less than 30 days remain
before NotAfter. pkg/agent's certWatcher polls this periodically
(whenever cfg.CertDir is configured) and logs a warning once a
certificate enters its rotation window; actually requesting and
installing a replacement certificate is the master's wire protocol's
job, out of scope here.
*/
package security
