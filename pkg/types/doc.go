/*
Package types defines the data model shared by every burrow package.

# Desired state

A Deployment is the control plane's record of one tenant workload: its
DeploymentSpec (image, machine class, scale bounds, ports, probes,
environment, config mounts, volumes), its DeploymentStatus and the digest
currently live. Specs are validated with DeploymentSpec.Validate before
they are stored or applied.

# Status lifecycle

	created -> pushed -> deploying -> running -> stopped | errored -> deleted

Stopped and deleted deployments are dormant: the runner keeps their
bookkeeping (edge routes) current but never touches the workload.

# Events and outcomes

DesiredStateEvent carries a change notification (resourceCreated,
resourceUpdated, resourceDeleted). Convergence is always by id, so
redelivered events are harmless.

Outcome is the executor's answer to one reconcile call:

	Converged()          nothing left to do, drop pending retries
	RetryAfter(d, why)   try again no earlier than now+d
	Fatal(why)           stop retrying until desired state changes
*/
package types
