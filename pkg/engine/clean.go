package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Matcher matches names against a set of glob patterns.
type Matcher struct {
	globs []glob.Glob
}

// NewMatcher compiles patterns. A plain name matches only itself.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{globs: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("invalid pattern %q", p), err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// Match reports whether s matches any pattern.
func (m *Matcher) Match(s string) bool {
	for _, g := range m.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// CleanSkipReason explains why clean keeps an instance. Empty means eligible.
func CleanSkipReason(tags Tags) string {
	if len(tags) == 0 {
		return "no tags"
	}
	if v, ok := tags.Get(TagCleanable); !ok || v != "true" {
		return "not cleanable"
	}
	if v, ok := tags.Get(TagEnvironment); !ok || v != string(DeployTypeStaging) {
		return "not a staging instance"
	}
	if v, ok := tags.Get(TagBranch); !ok || v == DefaultRevision {
		return "master branch"
	}
	return ""
}

// LatestActivity returns the later of createdAt and the activity time of every
// command whose type is not ignored.
func LatestActivity(createdAt time.Time, commands []Command, ignore *Matcher) time.Time {
	latest := createdAt
	for i := range commands {
		if ignore != nil && ignore.Match(commands[i].Type) {
			continue
		}
		if t := commands[i].ActivityTime(); t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Clean terminates staging instances idle for longer than the configured maximum
// instance duration. Per-instance failures do not stop the sweep; they are joined
// into the returned error alongside the instances that were terminated.
func (o *Orchestrator) Clean(ctx context.Context) ([]Instance, error) {
	cfg, release, err := o.begin(ctx, "clean", true)
	defer release()
	if err != nil {
		return nil, err
	}

	if cfg.DeployType.IsProduction() {
		return nil, NewConfigurationError(fmt.Sprintf("Cannot clean instances in a %s environment", cfg.DeployType), nil).
			WithOperation("clean")
	}
	if err := o.guard(ctx, cfg, "clean", ""); err != nil {
		return nil, err
	}

	protected, err := NewMatcher(cfg.ProtectedHostnamePatterns())
	if err != nil {
		return nil, err
	}
	ignore, err := NewMatcher(cfg.CleanCommandsToIgnore)
	if err != nil {
		return nil, err
	}

	instances, err := o.layerInstances(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var terminated []Instance
	var errs []error
	now := o.inv.Clock.Now()

	for _, instance := range instances {
		log := o.logger.With().Str("instance_id", instance.ID).Str("hostname", instance.Hostname).Logger()

		if protected.Match(instance.Hostname) {
			log.Debug().Msg("skipping protected hostname")
			continue
		}

		tags, err := o.inv.ControlPlane.DescribeTags(ctx, instance.EC2InstanceID)
		if err != nil {
			if IsKind(err, KindNotFound) {
				log.Debug().Msg("skipping instance unknown to the cloud provider")
				continue
			}
			errs = append(errs, NewInternalError("failed to describe tags", err).WithResource(instance.ID))
			continue
		}
		if reason := CleanSkipReason(tags); reason != "" {
			log.Debug().Str("reason", reason).Msg("skipping instance")
			o.inv.record(ctx, EventCleanSkipped, reason, map[string]any{"instance_id": instance.ID})
			continue
		}

		commands, err := o.inv.ControlPlane.DescribeCommands(ctx, CommandQuery{InstanceID: instance.ID})
		if err != nil {
			errs = append(errs, NewInternalError("failed to describe commands", err).WithResource(instance.ID))
			continue
		}

		idle := now.Sub(LatestActivity(instance.CreatedAt, commands, ignore))
		if idle <= cfg.MaxInstanceDuration {
			log.Debug().Dur("idle", idle).Msg("instance still in use")
			continue
		}

		if err := o.guard(ctx, cfg, "clean", instance.Hostname); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Info().Dur("idle", idle).Msg("terminating idle instance")
		if err := o.terminate(ctx, cfg, instance.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		terminated = append(terminated, instance)
	}

	if len(terminated) > 0 {
		o.inv.Reporter.Successf("Terminated instances: %s", strings.Join(hostnames(terminated), "\n"))
	} else {
		o.inv.Reporter.Infof("No unused instances old enough to terminate.")
	}

	return terminated, errors.Join(errs...)
}
