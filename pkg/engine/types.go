package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Instance is a compute instance managed by the control plane.
type Instance struct {
	// ID is the control-plane instance identifier.
	ID string `json:"instance_id"`

	// Hostname is the instance hostname, as resolved by the Identity Resolver at creation.
	Hostname string `json:"hostname"`

	// Status is the last observed status.
	Status InstanceStatus `json:"status"`

	// EC2InstanceID is the underlying cloud-provider instance id, used for tags and load balancers.
	EC2InstanceID string `json:"ec2_instance_id,omitempty"`

	// PublicIP is the public address, empty when none is assigned.
	PublicIP string `json:"public_ip,omitempty"`

	// PrivateIP is the private address.
	PrivateIP string `json:"private_ip,omitempty"`

	// LayerIDs lists the layers the instance belongs to.
	LayerIDs []string `json:"layer_ids,omitempty"`

	// CreatedAt is when the control plane created the instance.
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a key/value pair attached to a provisioned resource.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags is a list of tags with lookup helpers.
type Tags []Tag

// Get returns the value for key and whether it was present.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Well-known tag keys.
const (
	TagEnvironment = "environment"
	TagBranch      = "branch"
	TagApp         = "app"
	TagCleanable   = "cleanable"
)

// Deployment is one execution of a named command against one or more instances.
type Deployment struct {
	ID          string            `json:"deployment_id"`
	StackID     string            `json:"stack_id"`
	AppID       string            `json:"app_id,omitempty"`
	Command     DeploymentCommand `json:"command"`
	InstanceIDs []string          `json:"instance_ids,omitempty"`
	Status      DeploymentStatus  `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`

	// CompletedAt is nil while the deployment is in progress.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsCompleted returns true once the control plane reported a completion time.
func (d *Deployment) IsCompleted() bool {
	return d.CompletedAt != nil
}

// DeploymentCommand names the command a deployment runs and its arguments.
type DeploymentCommand struct {
	Name string              `json:"name"`
	Args map[string][]string `json:"args,omitempty"`
}

// DeploymentRequest is the request submitted by the Dispatcher.
type DeploymentRequest struct {
	StackID string            `json:"stack_id"`
	AppID   string            `json:"app_id,omitempty"`
	Command DeploymentCommand `json:"command"`

	// CustomJSON is the serialized custom JSON payload, empty when none is attached.
	CustomJSON string `json:"custom_json,omitempty"`

	// InstanceIDs restricts the deployment; empty targets every instance on the layer.
	InstanceIDs []string `json:"instance_ids,omitempty"`
}

// Clone returns a deep copy so fan-out workflows can vary arguments per dispatch.
func (r DeploymentRequest) Clone() DeploymentRequest {
	out := r
	if r.Command.Args != nil {
		out.Command.Args = make(map[string][]string, len(r.Command.Args))
		for k, v := range r.Command.Args {
			out.Command.Args[k] = append([]string(nil), v...)
		}
	}
	out.InstanceIDs = append([]string(nil), r.InstanceIDs...)
	return out
}

// Command is a control-plane command record, used only for diagnostics and cleanup.
type Command struct {
	ID             string     `json:"command_id"`
	DeploymentID   string     `json:"deployment_id,omitempty"`
	InstanceID     string     `json:"instance_id,omitempty"`
	Type           string     `json:"type"`
	Status         string     `json:"status"`
	LogURL         string     `json:"log_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ActivityTime returns the completed, acknowledged or created time, in that preference.
func (c *Command) ActivityTime() time.Time {
	if c.CompletedAt != nil {
		return *c.CompletedAt
	}
	if c.AcknowledgedAt != nil {
		return *c.AcknowledgedAt
	}
	return c.CreatedAt
}

// Stack is the managed grouping of layers, apps and instances.
type Stack struct {
	ID                    string            `json:"stack_id"`
	Name                  string            `json:"name"`
	Region                string            `json:"region"`
	DefaultSubnetID       string            `json:"default_subnet_id,omitempty"`
	DefaultOS             string            `json:"default_os,omitempty"`
	ConfigurationManager  map[string]string `json:"configuration_manager,omitempty"`
	CustomJSON            string            `json:"custom_json,omitempty"`
	UseCustomCookbooks    bool              `json:"use_custom_cookbooks"`
	CustomCookbooksSource *CookbookSource   `json:"custom_cookbooks_source,omitempty"`
}

// CookbookSource points a stack at a packaged cookbook artifact.
type CookbookSource struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Layer is a role-tagged subset of a stack's instances.
type Layer struct {
	ID        string `json:"layer_id"`
	StackID   string `json:"stack_id,omitempty"`
	Name      string `json:"name"`
	Shortname string `json:"shortname"`
}

// App is a deployable application definition attached to a stack.
type App struct {
	ID      string `json:"app_id"`
	StackID string `json:"stack_id,omitempty"`
	Name    string `json:"name"`
}

// CreateInstanceRequest carries the config-derived sizing and placement of a new instance.
type CreateInstanceRequest struct {
	StackID         string   `json:"stack_id"`
	LayerIDs        []string `json:"layer_ids"`
	InstanceType    string   `json:"instance_type"`
	OS              string   `json:"os,omitempty"`
	Hostname        string   `json:"hostname"`
	SubnetID        string   `json:"subnet_id,omitempty"`
	AutoScalingType string   `json:"auto_scaling_type,omitempty"`
	Architecture    string   `json:"architecture"`
	RootDeviceType  string   `json:"root_device_type"`
	RootVolume      Volume   `json:"root_volume"`
	EbsOptimized    bool     `json:"ebs_optimized"`
}

// Volume describes a block device attached at creation.
type Volume struct {
	DeviceName          string `json:"device_name"`
	SizeGiB             int    `json:"size_gib"`
	VolumeType          string `json:"volume_type"`
	DeleteOnTermination bool   `json:"delete_on_termination"`
}

// AutoScalingSchedule maps a weekday to hour->"on" entries. An empty schedule removes it.
type AutoScalingSchedule map[string]map[string]string

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

// Validate checks that days are weekday names, hours are 0-23 and every
// entry is "on" or "off". Day names are case-insensitive.
func (s AutoScalingSchedule) Validate() error {
	for day, hours := range s {
		if !weekdays[strings.ToLower(day)] {
			return fmt.Errorf("unknown weekday %q", day)
		}
		for hour, state := range hours {
			h, err := strconv.Atoi(hour)
			if err != nil || h < 0 || h > 23 || strconv.Itoa(h) != hour {
				return fmt.Errorf("invalid hour %q on %s", hour, day)
			}
			if state != "on" && state != "off" {
				return fmt.Errorf("invalid state %q at %s %s:00", state, day, hour)
			}
		}
	}
	return nil
}

// StackUpdate is a partial stack update; nil fields are left unchanged.
type StackUpdate struct {
	CustomJSON            *string         `json:"custom_json,omitempty"`
	UseCustomCookbooks    *bool           `json:"use_custom_cookbooks,omitempty"`
	CustomCookbooksSource *CookbookSource `json:"custom_cookbooks_source,omitempty"`
}

// InstanceQuery selects instances either by layer or by explicit ids.
type InstanceQuery struct {
	LayerID     string
	InstanceIDs []string
}

// CommandQuery selects commands either by deployment or by instance.
type CommandQuery struct {
	DeploymentID string
	InstanceID   string
}

// StackSummary is the `stack describe` report.
type StackSummary struct {
	Name          string            `json:"name"`
	StackID       string            `json:"stack_id"`
	Subnet        string            `json:"subnet"`
	Layers        []Layer           `json:"layers"`
	Apps          []App             `json:"apps"`
	ConfigManager map[string]string `json:"config_manager"`
	DefaultOS     string            `json:"default_os"`
}

// MarshalIndent renders the summary the way the CLI prints it.
func (s *StackSummary) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
