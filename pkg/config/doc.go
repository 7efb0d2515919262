// Package config loads the project configuration of stackpilot and resolves it
// into the immutable engine.ResolvedConfig of one invocation.
//
// # Overview
//
// A project keeps its settings in config/stackpilot.yml. Every top-level key is
// an environment; keys starting with "_" only hold YAML anchors and are never
// selectable. The file is expanded with text/template before decoding, so
// values can reference the process environment:
//
//	_defaults: &defaults
//	  region: us-east-1
//	  app_name: shop
//
//	staging:
//	  <<: *defaults
//	  deploy_type: staging
//	  stack_name: shop-staging
//	  layer_name: rails
//	  hostname_prefix: '{{ env "HOST_PREFIX" "stg-" }}'
//
// # Components
//
// ProjectFile: parses the project file and decodes one environment section.
// Sections are checked with validator struct tags and with the CUE schema
// registered in SchemaRegistry.
//
// Resolver: implements engine.ConfigSource. It discovers stack, layer and app
// identities through the control plane unless ForceConfig is set.
//
// ScriptHook: runs an optional Starlark custom_json_script and implements
// engine.CustomJSONHook.
//
// Settings: per-user settings read with viper from
// $XDG_CONFIG_HOME/stackpilot/settings.yaml and STACKPILOT_* variables.
//
// Profile: control plane credentials stored in the system keyring.
//
// GitRevision: reads the checked-out branch for staging hostnames.
//
// # Usage Example
//
//	pf, err := config.LoadProjectFile(config.DefaultProjectFile)
//	if err != nil {
//	    return err
//	}
//	name, err := config.SelectEnvironment(ctx, pf, os.Getenv(config.EnvEnvironment), prompter)
//	if err != nil {
//	    return err
//	}
//	env, err := pf.Environment(ctx, name, config.NewSchemaRegistry())
//	if err != nil {
//	    return err
//	}
//	source := &config.Resolver{Env: env, ControlPlane: cp, Reporter: console}
package config
