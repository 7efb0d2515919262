// Package sandbox implements engine.ControlPlane on top of the local SQLite
// store. It is used for dry runs, demos and integration tests of the
// lifecycle workflows without touching a real cloud account.
//
// The simulation is deliberately coarse:
//
//   - every DescribeInstances call moves each returned instance one status
//     towards its target (requested, pending, booting, running_setup, online
//     or stopping, stopped)
//   - a deployment completes after Config.DeployPolls DescribeDeployment calls
//   - commands named in Config.FailCommands fail and store a log that
//     FetchObject serves under the sandbox:// scheme
package sandbox
