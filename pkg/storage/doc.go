/*
Package storage provides BoltDB-backed persistence for the runner's local state.

The runner keeps three buckets in <dataDir>/burrow.db:

	routes        host -> RouteEntry (edge routing table)
	ca            "ca" -> encrypted root CA material
	certificates  serial -> CertificateRecord

Values are JSON. Every write is a bolt Update transaction, so PutRoutes
publishes a whole batch of hosts atomically. Reads copy data out of the
transaction before returning.

Desired state is not stored here; it lives with the control plane (managed
mode) or in the SQLite store (self-hosted mode).
*/
package storage
