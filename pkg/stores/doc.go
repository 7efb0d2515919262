// Package stores provides the SQLite persistence layer for stackpilot.
// It keeps the invocation history (runs, events, audit), the advisory
// leases that serialize mutating workflows, and the state of the sandbox
// control plane. The database runs in WAL mode and is migrated with
// golang-migrate from embedded SQL files.
package stores
