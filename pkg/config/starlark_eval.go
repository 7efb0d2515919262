package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// CustomJSONGlobal is the global a custom JSON script must assign.
const CustomJSONGlobal = "custom_json"

// StarlarkEvaluator executes Starlark scripts with a time limit.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate executes script with input predeclared and returns its public
// globals converted to Go values.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, name, script string, input map[string]any) (map[string]any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) {},
	}

	// Cancel stops the interpreter at the next instruction.
	stop := context.AfterFunc(evalCtx, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", se.timeout))
	})
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   json.Module,
	}
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, name, script, predeclared)
	if err != nil {
		if evalCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]any)
	for key, val := range globals {
		if len(key) > 0 && key[0] == '_' {
			continue
		}
		if _, isFunc := val.(*starlark.Function); isFunc {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", key, err)
		}
		output[key] = goVal
	}
	return output, nil
}

// ScriptHook runs a custom JSON script as the engine's CustomJSONHook. The
// script sees app_name and revision plus Vars and must assign a dict to
// custom_json.
type ScriptHook struct {
	Path      string
	Vars      map[string]any
	Evaluator *StarlarkEvaluator
}

var _ engine.CustomJSONHook = (*ScriptHook)(nil)

// NewScriptHook returns a hook for the script at path.
func NewScriptHook(path string) *ScriptHook {
	return &ScriptHook{Path: path, Evaluator: NewStarlarkEvaluator(0)}
}

// Generate implements engine.CustomJSONHook.
func (h *ScriptHook) Generate(ctx context.Context, input map[string]any) (map[string]any, error) {
	src, err := os.ReadFile(h.Path)
	if err != nil {
		return nil, engine.NewConfigurationError("failed to read custom_json_script", err).WithResource(h.Path)
	}

	merged := make(map[string]any, len(h.Vars)+len(input))
	for k, v := range h.Vars {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}

	globals, err := h.Evaluator.Evaluate(ctx, h.Path, string(src), merged)
	if err != nil {
		return nil, engine.NewPayloadError("custom_json_script failed", err).WithResource(h.Path)
	}

	raw, ok := globals[CustomJSONGlobal]
	if !ok {
		return nil, engine.NewPayloadError(fmt.Sprintf("custom_json_script must assign %s", CustomJSONGlobal), nil).
			WithResource(h.Path)
	}
	out, ok := raw.(map[string]any)
	if !ok {
		return nil, engine.NewPayloadError(fmt.Sprintf("%s must be a dict, got %T", CustomJSONGlobal, raw), nil).
			WithResource(h.Path)
	}
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			goVal, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goVal
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
