package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxHostnameLength is the DNS label limit.
const MaxHostnameLength = 63

// DefaultRevision is used when no branch can be determined.
const DefaultRevision = "master"

var (
	invalidHostnameChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)
	repeatedHyphens      = regexp.MustCompile(`-+`)
	leadingNonAlnum      = regexp.MustCompile(`^[^A-Za-z0-9]+`)
	parameterizeChars    = regexp.MustCompile(`[^a-z0-9_-]+`)
)

// SanitizeHostname turns s into a DNS label: runs of characters outside
// [A-Za-z0-9-] become one hyphen, repeated hyphens collapse, the result is cut to
// 63 characters and leading non-alphanumerics are stripped.
func SanitizeHostname(s string) string {
	s = invalidHostnameChars.ReplaceAllString(s, "-")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	if len(s) > MaxHostnameLength {
		s = s[:MaxHostnameLength]
	}
	s = leadingNonAlnum.ReplaceAllString(s, "")
	return strings.TrimRight(s, "-")
}

// Parameterize lower-cases s and replaces runs of non-alphanumerics with a hyphen.
func Parameterize(s string) string {
	s = strings.ToLower(s)
	s = parameterizeChars.ReplaceAllString(s, "-")
	s = repeatedHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-_")
}

// HostnameSuffix returns the numeric trailing "-N" segment of hostname, or 0.
func HostnameSuffix(hostname string) int {
	idx := strings.LastIndex(hostname, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(hostname[idx+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NextHostname returns base-(N+1) where N is the largest suffix among existing.
func NextHostname(base string, existing []string) string {
	highest := 0
	for _, h := range existing {
		if n := HostnameSuffix(h); n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s-%d", base, highest+1)
}

// Revision returns the revision deployed by this invocation: the branch flag, the
// checked-out branch, or master. Production-class targets always use master.
func (inv *Invocation) Revision(ctx context.Context) (string, error) {
	if inv.revision != "" {
		return inv.revision, nil
	}
	cfg, err := inv.Config(ctx)
	if err != nil {
		return "", err
	}

	rev := DefaultRevision
	if cfg.DeployType.IsStaging() {
		switch {
		case inv.Options.Branch != "":
			rev = inv.Options.Branch
		case inv.Revisions != nil:
			current, err := inv.Revisions.CurrentRevision(ctx)
			if err != nil {
				inv.Logger.Debug().Err(err).Msg("could not read current revision, using master")
			} else if current != "" {
				rev = current
			}
		}
	}
	inv.revision = rev
	return rev, nil
}

// Hostname returns the hostname resolved so far without resolving it.
func (inv *Invocation) Hostname() string { return inv.hostname }

// ResolveHostname returns the hostname used for every instance reference in this
// invocation. It is computed once and memoized.
func (inv *Invocation) ResolveHostname(ctx context.Context) (string, error) {
	if inv.hostname != "" {
		return inv.hostname, nil
	}

	var raw string
	if inv.Options.Hostname != "" {
		raw = inv.Options.Hostname
		if inv.Reporter != nil {
			inv.Reporter.Warnf("NOTE: You have specified a custom hostname of %s. Be sure to continue to use this hostname for future commands to avoid problems.", raw)
		}
	} else {
		cfg, err := inv.Config(ctx)
		if err != nil {
			return "", err
		}

		var base string
		switch cfg.DeployType {
		case DeployTypeStaging:
			rev, err := inv.Revision(ctx)
			if err != nil {
				return "", err
			}
			base = Parameterize(rev)
			if base == "" {
				base = DefaultRevision
			}
		case DeployTypeProduction:
			instances, err := inv.ControlPlane.DescribeInstances(ctx, InstanceQuery{LayerID: cfg.LayerID})
			if err != nil {
				return "", NewInternalError("failed to list layer instances", err).WithOperation("resolve_hostname")
			}
			existing := make([]string, 0, len(instances))
			for _, in := range instances {
				existing = append(existing, in.Hostname)
			}
			base = NextHostname(cfg.AppName, existing)
		}
		raw = cfg.HostnamePrefix + base
	}

	hostname := SanitizeHostname(raw)
	if hostname == "" {
		return "", NewConfigurationError(fmt.Sprintf("hostname %q contains no usable characters", raw), nil).
			WithOperation("resolve_hostname")
	}

	inv.Logger.Debug().Str("hostname", hostname).Msg("resolved hostname")
	inv.hostname = hostname
	return hostname, nil
}
