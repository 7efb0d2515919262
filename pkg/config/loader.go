package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// DefaultProjectFile is the project config path relative to the project root.
var DefaultProjectFile = filepath.Join("config", "stackpilot.yml")

// ProjectFile is a parsed config/stackpilot.yml. Top-level keys are
// environment names; keys starting with "_" hold YAML anchors only.
type ProjectFile struct {
	Path     string
	sections map[string]yaml.Node
}

// LoadProjectFile reads, expands and parses the project file at path.
func LoadProjectFile(path string) (*ProjectFile, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("Could not find configuration file: %s", path), err,
		).WithOperation("load_config")
	}
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read configuration file", err).WithResource(path)
	}
	pf, err := ParseProjectFile(raw)
	if err != nil {
		return nil, err
	}
	pf.Path = path
	return pf, nil
}

// ParseProjectFile expands templates in raw and decodes the YAML document.
func ParseProjectFile(raw []byte) (*ProjectFile, error) {
	expanded, err := expandTemplate(raw)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to expand configuration template", err).WithOperation("load_config")
	}

	sections := map[string]yaml.Node{}
	if err := yaml.Unmarshal(expanded, &sections); err != nil {
		return nil, engine.NewConfigurationError("failed to parse configuration file", err).WithOperation("load_config")
	}
	return &ProjectFile{sections: sections}, nil
}

// expandTemplate runs raw through text/template with an env function:
// {{ env "NAME" }} or {{ env "NAME" "default" }}.
func expandTemplate(raw []byte) ([]byte, error) {
	tmpl, err := template.New("stackpilot.yml").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"env": func(name string, def ...string) string {
				if v, ok := os.LookupEnv(name); ok {
					return v
				}
				if len(def) > 0 {
					return def[0]
				}
				return ""
			},
		}).
		Parse(string(raw))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Environments returns the selectable environment names, sorted.
func (p *ProjectFile) Environments() []string {
	out := make([]string, 0, len(p.sections))
	for name := range p.sections {
		if !strings.HasPrefix(name, "_") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Has reports whether name is a selectable environment.
func (p *ProjectFile) Has(name string) bool {
	return name != "" && slices.Contains(p.Environments(), name)
}

// Environment decodes and validates the named section.
func (p *ProjectFile) Environment(ctx context.Context, name string, schemas *SchemaRegistry) (*Environment, error) {
	if !p.Has(name) {
		return nil, engine.NewConfigurationError(fmt.Sprintf("Invalid config environment '%s'", name), nil).
			WithDetail("available", p.Environments())
	}
	node := p.sections[name]

	raw := map[string]any{}
	if err := node.Decode(&raw); err != nil {
		return nil, engine.NewConfigurationError("failed to decode environment", err).WithResource(name)
	}
	var cfg EnvironmentConfig
	if err := node.Decode(&cfg); err != nil {
		return nil, engine.NewConfigurationError("failed to decode environment", err).WithResource(name)
	}

	options := make([]string, 0, len(raw))
	for k := range raw {
		options = append(options, k)
	}
	sort.Strings(options)

	env := &Environment{Name: name, Config: cfg, Options: options, Raw: raw}
	if err := validateEnvironment(env); err != nil {
		return nil, err
	}
	if schemas != nil {
		if err := schemas.ValidateEnvironment(ctx, raw); err != nil {
			return nil, engine.NewConfigurationError("configuration does not match schema", err).WithResource(name)
		}
	}
	return env, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("schedule", validSchedule); err != nil {
		panic(err)
	}
	return v
}

func validSchedule(fl validator.FieldLevel) bool {
	schedule, ok := fl.Field().Interface().(engine.AutoScalingSchedule)
	return ok && schedule.Validate() == nil
}

// validateEnvironment checks the struct tags and reports the first missing
// required setting the way operators expect.
func validateEnvironment(env *Environment) error {
	err := validate.Struct(env.Config)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewConfigurationError("invalid configuration", err).WithResource(env.Name)
	}

	fe := verrs[0]
	var msg string
	switch {
	case fe.Tag() == "required_without":
		msg = "Please configure stack_id or stack_name before continuing"
	case fe.Tag() == "required":
		msg = fmt.Sprintf("Please configure %s before continuing.", yamlName(fe.StructField()))
	case fe.Tag() == "schedule":
		msg = fmt.Sprintf("Invalid schedule: %v", env.Config.Schedule.Validate())
	default:
		msg = fmt.Sprintf("Invalid %s: failed %s=%s", yamlName(fe.StructField()), fe.Tag(), fe.Param())
	}
	return engine.NewConfigurationError(msg, err).
		WithResource(env.Name).
		WithDetail("field", yamlName(fe.StructField()))
}

// yamlName converts a Go field name to its snake_case config key.
func yamlName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(field[i-1] >= 'A' && field[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SelectEnvironment returns requested when it names a section. Otherwise the
// operator is asked to pick one; without a prompter the selection is a
// configuration error.
func SelectEnvironment(ctx context.Context, pf *ProjectFile, requested string, prompter engine.Prompter) (string, error) {
	if pf.Has(requested) {
		return requested, nil
	}

	title := "Run command using config environment:"
	if requested != "" {
		title = fmt.Sprintf("Invalid config environment '%s'. Switch to:", requested)
	}
	if prompter == nil {
		return "", engine.NewConfigurationError(title+" "+strings.Join(pf.Environments(), ", "), nil).
			WithOperation("select_environment")
	}
	choice, err := prompter.Select(ctx, title, pf.Environments())
	if err != nil {
		return "", err
	}
	if !pf.Has(choice) {
		return "", engine.NewConfigurationError(fmt.Sprintf("Invalid config environment '%s'", choice), nil)
	}
	return choice, nil
}
