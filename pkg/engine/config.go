package engine

import (
	"time"
)

// Option names recognized by HasOption.
const (
	OptRegion                = "region"
	OptStackID               = "stack_id"
	OptStackName             = "stack_name"
	OptAppID                 = "application_id"
	OptAppName               = "app_name"
	OptLayerID               = "layer_id"
	OptLayerName             = "layer_name"
	OptDeployType            = "deploy_type"
	OptSubnet                = "subnet"
	OptOS                    = "os"
	OptInstanceType          = "instance_type"
	OptHostnamePrefix        = "hostname_prefix"
	OptRootVolumeSize        = "root_volume_size"
	OptEbsOptimize           = "ebs_optimize"
	OptAutoscaleType         = "autoscale_type"
	OptSchedule              = "schedule"
	OptPublicSearchELB       = "public_search_elb"
	OptWaitIterations        = "wait_iterations"
	OptWaitDeploy            = "wait_deploy"
	OptCommandLogLines       = "command_log_lines"
	OptMaxInstanceDuration   = "max_instance_duration"
	OptCleanCommandsToIgnore = "clean_commands_to_ignore"
	OptProtectedHostnames    = "protected_hostnames"
	OptMigrate               = "migrate"
	OptAdvisoryLock          = "advisory_lock"
	OptPolicyPaths           = "policy_paths"
	OptCustomJSONScript      = "custom_json_script"
	OptCookbookDir           = "cookbook_dir"
	OptCookbookStore         = "cookbook_store"
	OptCookbookPath          = "cookbook_path"
	OptCookbookName          = "cookbook_name"
	OptCookbookVersion       = "cookbook_version"
	OptCookbookJSON          = "cookbook_json"
)

// AutoscaleTimer is the autoscale type that uses a weekly boot schedule.
const AutoscaleTimer = "timer"

// Defaults applied when an option is absent.
const (
	DefaultWaitIterations      = 600
	DefaultWaitDeploy          = 180 * time.Second
	DefaultCommandLogLines     = 100
	DefaultMaxInstanceDuration = 86400 * time.Second
	DefaultRootVolumeSize      = 30
	DefaultCookbookJSON        = "custom.json"
)

// DefaultCleanCommandsToIgnore lists the maintenance command types that do not
// count as activity for clean.
func DefaultCleanCommandsToIgnore() []string {
	return []string{"update_custom_cookbooks", "update_agent", "configure", "shutdown"}
}

// ResolvedConfig holds the settings of one invocation. It is built once by the
// config package and must not be modified afterwards.
type ResolvedConfig struct {
	Environment string
	DeployType  DeployType
	Region      string

	StackID   string
	StackName string
	AppID     string
	AppName   string
	LayerID   string
	LayerName string

	SubnetID       string
	OS             string
	InstanceType   string
	HostnamePrefix string
	RootVolumeSize int
	EbsOptimize    bool

	AutoscaleType      string
	Schedule           AutoScalingSchedule
	PublicSearchELB    string
	ProtectedHostnames []string

	WaitIterations        int
	WaitDeploy            time.Duration
	CommandLogLines       int
	MaxInstanceDuration   time.Duration
	CleanCommandsToIgnore []string

	Migrate          bool
	AdvisoryLock     bool
	PolicyPaths      []string
	CustomJSONScript string
	ForceConfig      bool

	Cookbook CookbookConfig

	options map[string]struct{}
}

// CookbookConfig holds the cookbook packaging settings.
type CookbookConfig struct {
	Dir     string
	Store   string
	Path    string
	Name    string
	Version string
	JSON    string
}

// Artifact returns the packaged cookbook file name.
func (c CookbookConfig) Artifact() string {
	return c.Name + "-" + c.Version + ".zip"
}

// SetOptions records the option names that were explicitly configured.
// It is called once while the config is being built.
func (c *ResolvedConfig) SetOptions(names []string) {
	c.options = make(map[string]struct{}, len(names))
	for _, n := range names {
		c.options[n] = struct{}{}
	}
}

// HasOption reports whether name was explicitly configured.
func (c *ResolvedConfig) HasOption(name string) bool {
	_, ok := c.options[name]
	return ok
}

// UsesTimer reports whether instances boot on a weekly schedule.
func (c *ResolvedConfig) UsesTimer() bool {
	return c.AutoscaleType == AutoscaleTimer
}

// ProtectedHostnamePatterns returns the hostnames clean never removes:
// the prefixed master hostname plus any configured patterns.
func (c *ResolvedConfig) ProtectedHostnamePatterns() []string {
	out := []string{c.HostnamePrefix + "master"}
	return append(out, c.ProtectedHostnames...)
}

// ApplyDefaults fills zero values with defaults.
func (c *ResolvedConfig) ApplyDefaults() {
	if c.WaitIterations <= 0 {
		c.WaitIterations = DefaultWaitIterations
	}
	if c.WaitDeploy <= 0 {
		c.WaitDeploy = DefaultWaitDeploy
	}
	if c.CommandLogLines <= 0 {
		c.CommandLogLines = DefaultCommandLogLines
	}
	if c.MaxInstanceDuration <= 0 {
		c.MaxInstanceDuration = DefaultMaxInstanceDuration
	}
	if c.RootVolumeSize <= 0 {
		c.RootVolumeSize = DefaultRootVolumeSize
	}
	if c.CleanCommandsToIgnore == nil {
		c.CleanCommandsToIgnore = DefaultCleanCommandsToIgnore()
	}
	if c.Cookbook.JSON == "" {
		c.Cookbook.JSON = DefaultCookbookJSON
	}
}
