package policy

import (
	"context"
	"fmt"
	"os/user"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Engine evaluates Rego guards before mutating workflows. It implements
// engine.Guard.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
	user     string
}

var _ engine.Guard = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}
	if u, err := user.Current(); err == nil {
		e.user = u.Username
	}

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return e, nil
}

// LoadPolicies loads operator policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return engine.NewConfigurationError("failed to load policies", err).WithOperation("load_policies")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if existing, ok := e.policies[policies[i].Name]; ok && existing.policy.Builtin {
			return engine.NewConfigurationError(
				fmt.Sprintf("policy %s overrides a built-in policy", policies[i].Name), nil,
			).WithResource(policies[i].Name)
		}
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return engine.NewConfigurationError(fmt.Sprintf("failed to compile policy %s", policies[i].Name), err).
				WithResource(policies[i].Name)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// Check implements engine.Guard. A blocking violation is a policy error.
func (e *Engine) Check(ctx context.Context, op engine.GuardInput) error {
	result, err := e.Evaluate(ctx, op)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().Str("operation", op.Operation).Msg(w)
	}
	if result.Allowed {
		return nil
	}

	msgs := make([]string, len(result.Violations))
	names := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		msgs[i] = v.Message
		names[i] = v.Policy
	}
	perr := engine.NewPolicyError(strings.Join(msgs, "; "), nil).
		WithOperation(op.Operation).
		WithDetail("policies", names)
	if op.Hostname != "" {
		perr = perr.WithResource(op.Hostname)
	}
	return perr
}

// Evaluate runs every enabled policy against op.
func (e *Engine) Evaluate(ctx context.Context, op engine.GuardInput) (*Result, error) {
	startTime := e.now()
	input := Input{GuardInput: op, User: e.user, Timestamp: startTime}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, &input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("operation", op.Operation).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", v.Policy, v.Message))
			}
		}
	}

	result.Duration = e.now().Sub(startTime)
	e.logger.Debug().
		Str("operation", op.Operation).
		Str("hostname", op.Hostname).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Guard evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// Sets are returned as slices.
		if denySet, ok := result.Expressions[0].Value.([]any); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d, input))
			}
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(policy *Policy, result any, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Hostname: input.Hostname,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold the
// write lock or own the engine exclusively.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.ParsedModule(module),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    prepared,
		compiled: e.now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
