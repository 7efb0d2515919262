package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		hostnameLabelPolicy(),
		productionCleanPolicy(),
		protectedHostnamesPolicy(),
	}
}

// hostnameLabelPolicy requires hostnames to be valid DNS labels.
func hostnameLabelPolicy() Policy {
	return Policy{
		Name:        "hostname-dns-label",
		Description: "Instance hostnames must be valid DNS labels",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"naming"},
		Rego: `package stackpilot.guards.hostname

import rego.v1

deny contains violation if {
	input.hostname != ""
	not regex.match("^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$", input.hostname)
	violation := {
		"message": sprintf("Hostname '%s' is not a valid DNS label", [input.hostname]),
		"severity": "error",
	}
}
`,
	}
}

// productionCleanPolicy forbids clean on production-class targets.
func productionCleanPolicy() Policy {
	return Policy{
		Name:        "production-clean",
		Description: "Idle instance cleanup only runs against staging environments",
		Severity:    SeverityCritical,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"clean", "production"},
		Rego: `package stackpilot.guards.production

import rego.v1

deny contains violation if {
	input.operation == "clean"
	input.deploy_type == "production"
	violation := {
		"message": sprintf("clean is not allowed in the %s environment", [input.environment]),
		"severity": "critical",
	}
}
`,
	}
}

// protectedHostnamesPolicy keeps clean away from protected hostnames.
func protectedHostnamesPolicy() Policy {
	return Policy{
		Name:        "protected-hostnames",
		Description: "Protected hostnames are never terminated by clean",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"clean"},
		Rego: `package stackpilot.guards.protected

import rego.v1

deny contains violation if {
	input.operation == "clean"
	input.hostname != ""
	some pattern in input.protected_hostnames
	glob.match(pattern, [], input.hostname)
	violation := {
		"message": sprintf("Hostname '%s' is protected by '%s'", [input.hostname, pattern]),
		"severity": "error",
	}
}
`,
	}
}
