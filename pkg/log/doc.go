/*
Package log provides structured logging for burrow using zerolog.

A single global Logger is configured once at startup with Init and shared by
every package. Packages derive child loggers that carry context fields:

	logger := log.WithComponent("runner")
	logger.Info().Str("resource_id", id.String()).Msg("reconciled")

	rlog := log.ForResource(logger, id)
	rlog.Warn().Dur("retry_after", d).Msg("transient failure")

Console output (RFC3339 timestamps) is the default; set JSONOutput for log
shippers:

	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true})

Kubernetes client libraries log through logr. LogrSink adapts the global
logger so their messages land in the same stream at debug level:

	ctrllog.SetLogger(log.LogrSink("kubernetes"))
*/
package log
