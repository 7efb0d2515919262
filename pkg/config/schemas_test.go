package config

import (
	"context"
	"strings"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	err := sr.RegisterSchema("custom", "#CustomType", customSchema)
	if err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}

	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	if err := sr.ValidateAgainstSchema(context.Background(), "custom", map[string]any{"field1": "a", "field2": 2}); err != nil {
		t.Errorf("ValidateAgainstSchema() error = %v", err)
	}
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("bad", "#Bad", "#Bad: {"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", "#Missing", "#Other: {}"); err == nil {
		t.Error("expected missing definition error")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	got := strings.Join(sr.ListSchemas(), ",")
	if got != "environment,seed" {
		t.Errorf("ListSchemas() = %s, want environment,seed", got)
	}

	for _, name := range []string{"environment", "seed"} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}

			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_ValidateEnvironment(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	base := func() map[string]any {
		return map[string]any{
			"deploy_type": "staging",
			"region":      "us-east-1",
			"app_name":    "shop",
			"stack_name":  "shop-staging",
		}
	}

	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr bool
	}{
		{
			name:   "minimal",
			mutate: func(map[string]any) {},
		},
		{
			name: "unknown keys allowed",
			mutate: func(m map[string]any) {
				m["team"] = "payments"
			},
		},
		{
			name: "schedule",
			mutate: func(m map[string]any) {
				m["schedule"] = map[string]any{"friday": map[string]any{"9": "on", "18": "off"}}
			},
		},
		{
			name: "invalid deploy type",
			mutate: func(m map[string]any) {
				m["deploy_type"] = "qa"
			},
			wantErr: true,
		},
		{
			name: "hostname prefix with dots",
			mutate: func(m map[string]any) {
				m["hostname_prefix"] = "my.prefix"
			},
			wantErr: true,
		},
		{
			name: "root volume too small",
			mutate: func(m map[string]any) {
				m["root_volume_size"] = 4
			},
			wantErr: true,
		},
		{
			name: "schedule hour out of range",
			mutate: func(m map[string]any) {
				m["schedule"] = map[string]any{"monday": map[string]any{"24": "on"}}
			},
			wantErr: true,
		},
		{
			name: "schedule value",
			mutate: func(m map[string]any) {
				m["schedule"] = map[string]any{"monday": map[string]any{"8": "maybe"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := base()
			tt.mutate(data)
			err := sr.ValidateEnvironment(ctx, data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnvironment() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateSeed(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]any{
		"stack_name": "shop-staging",
		"layers": []any{
			map[string]any{"name": "Rails App Server", "shortname": "rails-app"},
		},
		"instances": []any{
			map[string]any{"hostname": "shop-1", "layer": "rails-app", "tags": map[string]any{"cleanable": "true"}},
		},
	}
	if err := sr.ValidateSeed(ctx, valid); err != nil {
		t.Errorf("ValidateSeed() error = %v", err)
	}

	invalid := map[string]any{
		"stack_name": "shop-staging",
		"unexpected": true,
	}
	err := sr.ValidateSeed(ctx, invalid)
	if err == nil {
		t.Fatal("ValidateSeed() expected error for closed schema")
	}
	var verrs validationErrors
	if ve, ok := err.(validationErrors); ok {
		verrs = ve
	}
	if len(verrs) == 0 {
		t.Errorf("expected validation errors, got %T", err)
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.ValidateAgainstSchema(context.Background(), "nope", map[string]any{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
