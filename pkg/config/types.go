package config

import (
	"github.com/stackpilot/stackpilot/pkg/engine"
)

// EnvironmentConfig is one environment section of config/stackpilot.yml.
type EnvironmentConfig struct {
	// DeployType is the class of deploy target (staging, production).
	DeployType string `yaml:"deploy_type" json:"deploy_type" validate:"required,oneof=staging production"`

	// Region is the control plane region.
	Region string `yaml:"region" json:"region" validate:"required"`

	// AppName names the deployed application.
	AppName string `yaml:"app_name" json:"app_name" validate:"required"`

	// StackID or StackName identifies the stack.
	StackID   string `yaml:"stack_id" json:"stack_id,omitempty" validate:"required_without=StackName"`
	StackName string `yaml:"stack_name" json:"stack_name,omitempty" validate:"required_without=StackID"`

	// ApplicationID is used verbatim with --force-config.
	ApplicationID string `yaml:"application_id" json:"application_id,omitempty"`

	// LayerID is used verbatim with --force-config; LayerName is matched
	// case-insensitively against layer names otherwise.
	LayerID   string `yaml:"layer_id" json:"layer_id,omitempty"`
	LayerName string `yaml:"layer_name" json:"layer_name,omitempty"`

	Subnet         string `yaml:"subnet" json:"subnet,omitempty"`
	OS             string `yaml:"os" json:"os,omitempty"`
	InstanceType   string `yaml:"instance_type" json:"instance_type,omitempty"`
	HostnamePrefix string `yaml:"hostname_prefix" json:"hostname_prefix,omitempty" validate:"omitempty,max=40"`
	RootVolumeSize int    `yaml:"root_volume_size" json:"root_volume_size,omitempty" validate:"omitempty,min=8"`
	EbsOptimize    *bool  `yaml:"ebs_optimize" json:"ebs_optimize,omitempty"`

	AutoscaleType   string                     `yaml:"autoscale_type" json:"autoscale_type,omitempty" validate:"omitempty,oneof=timer load"`
	Schedule        engine.AutoScalingSchedule `yaml:"schedule" json:"schedule,omitempty" validate:"omitempty,schedule"`
	PublicSearchELB string                     `yaml:"public_search_elb" json:"public_search_elb,omitempty"`

	// Polling limits. WaitDeploy and MaxInstanceDuration are in seconds.
	WaitIterations      int `yaml:"wait_iterations" json:"wait_iterations,omitempty" validate:"omitempty,min=1"`
	WaitDeploy          int `yaml:"wait_deploy" json:"wait_deploy,omitempty" validate:"omitempty,min=1"`
	CommandLogLines     int `yaml:"command_log_lines" json:"command_log_lines,omitempty" validate:"omitempty,min=1"`
	MaxInstanceDuration int `yaml:"max_instance_duration" json:"max_instance_duration,omitempty" validate:"omitempty,min=1"`

	CleanCommandsToIgnore []string `yaml:"clean_commands_to_ignore" json:"clean_commands_to_ignore,omitempty"`
	ProtectedHostnames    []string `yaml:"protected_hostnames" json:"protected_hostnames,omitempty"`

	Migrate          *bool    `yaml:"migrate" json:"migrate,omitempty"`
	AdvisoryLock     bool     `yaml:"advisory_lock" json:"advisory_lock,omitempty"`
	PolicyPaths      []string `yaml:"policy_paths" json:"policy_paths,omitempty"`
	CustomJSONScript string   `yaml:"custom_json_script" json:"custom_json_script,omitempty"`

	CookbookDir     string `yaml:"cookbook_dir" json:"cookbook_dir,omitempty"`
	CookbookStore   string `yaml:"cookbook_store" json:"cookbook_store,omitempty"`
	CookbookPath    string `yaml:"cookbook_path" json:"cookbook_path,omitempty"`
	CookbookName    string `yaml:"cookbook_name" json:"cookbook_name,omitempty"`
	CookbookVersion string `yaml:"cookbook_version" json:"cookbook_version,omitempty"`
	CookbookJSON    string `yaml:"cookbook_json" json:"cookbook_json,omitempty"`
}

// Environment is a selected section of the project file.
type Environment struct {
	// Name is the section key.
	Name string

	// Config is the decoded section.
	Config EnvironmentConfig

	// Options lists the keys present in the section, after merges.
	Options []string

	// Raw is the decoded section as generic values, used for schema checks.
	Raw map[string]any
}

// HasOption reports whether key was present in the section.
func (e *Environment) HasOption(key string) bool {
	for _, o := range e.Options {
		if o == key {
			return true
		}
	}
	return false
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// Path is the config path of the error (e.g., "staging.deploy_type").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}
