// Package engine orchestrates the lifecycle of instances and deployments on a
// managed application-platform control plane.
//
// # Overview
//
// One CLI invocation runs one workflow start to finish. The workflow is driven by
// an Orchestrator bound to an Invocation, the per-command context object that
// memoizes the resolved configuration and hostname:
//
//	inv := engine.NewInvocation(opts, source, services)
//	err := engine.NewOrchestrator(inv).Up(ctx)
//	os.Exit(engine.ExitCode(err))
//
// # Components
//
//   - Poller: bounded, fixed-cadence status polling with a timeout notification
//   - Identity: deterministic, sanitized hostname resolution (ResolveHostname)
//   - Dispatcher: submits a deployment and polls it to completion
//   - Diagnostics: prints the tail of failed command logs and notifies
//   - Orchestrator: Up, Down, Rebuild, Clean, RunCommand, DeployApp, DescribeStack
//
// # Gateways
//
// The engine talks to the outside world only through narrow interfaces:
// ControlPlane, Notifier, Clock, Reporter, Prompter and RevisionSource, plus the
// optional Guard, LeaseManager, EventRecorder and CustomJSONHook.
//
// # Errors
//
// Every failure is returned as an *Error classified by ErrorKind. Lifecycle code
// never exits the process; ExitCode maps the returned error to a process status.
//
// # Concurrency
//
// Workflows are strictly sequential and block between polls. Concurrent
// invocations against the same stack are only serialized when the advisory lease
// is enabled and both share the same lease store.
package engine
