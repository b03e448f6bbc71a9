// Package client is the runner side of the managed-mode wire protocol.
//
// A Client reads deployment records from the control plane, reports observed
// statuses back, and opens the desired-state stream. Every call carries the
// bearer token and the workspace and runner ids as metadata. gRPC status
// codes are mapped onto pkg/errors so the deployment executor can classify
// failures: NotFound becomes ErrNotFound, InvalidArgument and authentication
// failures are permanent, everything else is a transient connection error.
package client
