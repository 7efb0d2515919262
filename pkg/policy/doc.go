// Package policy provides Open Policy Agent (OPA) guards for stackpilot.
//
// Guards are Rego modules evaluated before every mutating workflow. Each module
// defines a deny set in its own package; any member with severity error or
// critical blocks the operation with an engine policy error.
//
// # Architecture
//
//  1. Engine - Compiles and evaluates Rego policies, implements engine.Guard
//  2. Loader - Loads operator policies from .rego files, .json files and bundles
//  3. Built-in Policies - Shipped guards that cannot be overridden
//
// # Input
//
// Every policy sees the same input document:
//
//	{
//	  "operation": "clean",
//	  "deploy_type": "staging",
//	  "environment": "staging",
//	  "hostname": "shop-feature-x",
//	  "protected_hostnames": ["shop-master", "shop-demo-*"],
//	  "user": "alice",
//	  "timestamp": "2024-05-01T10:00:00Z"
//	}
//
// Operations are up, down, deploy, clean and run_command. The hostname is
// empty for operations that do not target a single instance.
//
// # Built-in Policies
//
//   - hostname-dns-label: hostnames must be valid DNS labels
//   - production-clean: clean never runs against production targets
//   - protected-hostnames: clean never terminates a protected hostname
//
// # Custom Policies
//
// Directories and files listed in policy_paths are loaded on startup:
//
//	package stackpilot.guards.freeze
//
//	import rego.v1
//
//	# No deploys on Fridays.
//	deny contains msg if {
//		input.operation == "deploy"
//		time.weekday(time.parse_rfc3339_ns(input.timestamp)) == "Friday"
//		msg := "deploy freeze on Fridays"
//	}
//
// A string member uses the policy severity (error unless a JSON definition
// says otherwise); an object member may carry its own message and severity.
package policy
