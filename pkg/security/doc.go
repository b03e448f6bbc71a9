/*
Package security provides the runner's cryptographic services.

It covers two concerns:

  - Secrets encryption. SecretsManager seals data with AES-256-GCM. The key
    is expanded with HKDF from the configured encryption key, or from the
    workspace id (DeriveKey) when none is set.
  - Deployment certificates. CertAuthority keeps a self-signed root in the
    bbolt store, with the root key sealed by a SecretsManager. It issues
    90 day server certificates covering <id>.<rootDomain> and
    *.<id>.<rootDomain>. Every issued certificate is recorded by serial so
    that teardown can revoke it.

# Usage

	sm, err := security.NewSecretsManager(security.DeriveKey(cfg.WorkspaceID.String()))
	if err != nil {
		return err
	}
	ca := security.NewCertAuthority(store, sm)
	if err := ca.LoadOrInitialize(); err != nil {
		return err
	}
	issued, err := ca.IssueDeploymentCertificate(id, cfg.RootDomain)

The returned PEM blocks are written into a kubernetes.io/tls Secret named
tls-<id> by the deployment executor.
*/
package security
