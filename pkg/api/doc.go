/*
Package api holds the network surfaces of burrow.

ControlPlaneServer implements the RunnerService gRPC service over a
deployment repository and an events.Hub. It is what managed runners connect
to in development and tests: every call is authenticated by Authenticator,
which checks the bearer token and the x-workspace-id and x-runner-id
metadata, and every response is scoped to the caller's workspace.

LocalServer is the HTTP API of a self-hosted runner:

	POST   /v1/deployments              create, publishes resourceCreated
	GET    /v1/deployments              list live records
	GET    /v1/deployments/{id}         read one record
	PUT    /v1/deployments/{id}         replace the spec, publishes resourceUpdated
	DELETE /v1/deployments/{id}         soft delete, publishes resourceDeleted
	POST   /v1/deployments/{id}/start   status deploying, publishes resourceUpdated
	POST   /v1/deployments/{id}/stop    status stopped, publishes resourceUpdated
	POST   /v1/webhook/push             redeploy deploy-on-push deployments

Writes reach the store before the event is published. Validation failures
return 400 with an ErrorResponse body.

HealthServer serves /health, /ready and /metrics for the runner process.
*/
package api
