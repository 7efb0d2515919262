package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("environment", "#Environment", builtinEnvironmentSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema("seed", "#Seed", builtinSeedSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. Every
// violation is reported as a ValidationError joined into the returned error.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	// A cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return validationFailure(convertCUEErrors(err))
	}

	return nil
}

// ValidateEnvironment validates a decoded environment section.
func (sr *SchemaRegistry) ValidateEnvironment(ctx context.Context, raw map[string]any) error {
	return sr.ValidateAgainstSchema(ctx, "environment", raw)
}

// ValidateSeed validates a decoded sandbox seed file.
func (sr *SchemaRegistry) ValidateSeed(ctx context.Context, raw map[string]any) error {
	return sr.ValidateAgainstSchema(ctx, "seed", raw)
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors flattens a CUE error list.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

type validationErrors []ValidationError

func (v validationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func validationFailure(errs []ValidationError) error {
	return validationErrors(errs)
}

// Built-in schema definitions

const builtinEnvironmentSchema = `
#Weekday: "monday" | "tuesday" | "wednesday" | "thursday" | "friday" | "saturday" | "sunday"

#Environment: {
	deploy_type: "staging" | "production"
	region:      string & !=""
	app_name:    string & !=""

	stack_id?:       string
	stack_name?:     string
	application_id?: string
	layer_id?:       string
	layer_name?:     string

	subnet?:           string
	os?:               string
	instance_type?:    string
	hostname_prefix?:  string & =~"^[A-Za-z0-9-]*$"
	root_volume_size?: int & >=8 & <=16384
	ebs_optimize?:     bool

	autoscale_type?: "timer" | "load"
	schedule?: close({[#Weekday]: close({[=~"^([0-9]|1[0-9]|2[0-3])$"]: "on" | "off"})})
	public_search_elb?: string

	wait_iterations?:       int & >0
	wait_deploy?:           int & >0
	command_log_lines?:     int & >0
	max_instance_duration?: int & >0

	clean_commands_to_ignore?: [...string]
	protected_hostnames?:      [...string]

	migrate?:            bool
	advisory_lock?:      bool
	policy_paths?:       [...string]
	custom_json_script?: string

	cookbook_dir?:     string
	cookbook_store?:   string
	cookbook_path?:    string
	cookbook_name?:    string & =~"^[A-Za-z0-9_.-]+$"
	cookbook_version?: string
	cookbook_json?:    string

	// Operators may keep their own keys next to the known ones.
	...
}
`

const builtinSeedSchema = `
#Seed: {
	stack_name: string & !=""
	region?:    string
	subnet?:    string
	os?:        string
	configuration_manager?: {[string]: string}
	layers?: [...{
		name:      string & !=""
		shortname: string & =~"^[a-z0-9-]+$"
	}]
	apps?: [...string]
	instances?: [...{
		hostname: string & !=""
		layer:    string
		status?:  string
		age?:     string
		tags?: {[string]: string}
	}]
}
`
