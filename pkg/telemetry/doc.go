// Package telemetry provides observability instrumentation for stackpilot.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and lifecycle event publishing.
//
// # Usage
//
// Initialize telemetry once per process and wrap each command in an
// invocation scope:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	scope := tel.StartInvocation(ctx, invocationID, "instance up")
//	err = orchestrator.Up(scope.Ctx)
//	scope.End(err)
//
// # Events
//
// EventPublisher implements engine.EventRecorder. Workflows record
// lifecycle events (instance created, deployment finished, clean skipped);
// subscribers persist them to the run store and feed the metrics collector.
//
// # Metrics
//
// A CLI run is short lived, so metrics are pushed to a Prometheus
// Pushgateway when the invocation ends rather than scraped. Without a
// gateway they are only kept in-process.
package telemetry
