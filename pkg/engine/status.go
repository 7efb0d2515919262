package engine

import (
	"encoding/json"
	"fmt"
)

// InstanceStatus is an instance status as observed from the control plane.
// The engine never invents status values; it only classifies the ones it polls.
type InstanceStatus string

const (
	InstanceStatusRequested    InstanceStatus = "requested"
	InstanceStatusPending      InstanceStatus = "pending"
	InstanceStatusBooting      InstanceStatus = "booting"
	InstanceStatusRunningSetup InstanceStatus = "running_setup"
	InstanceStatusOnline       InstanceStatus = "online"
	InstanceStatusSetupFailed  InstanceStatus = "setup_failed"
	InstanceStatusStopping     InstanceStatus = "stopping"
	InstanceStatusStopped      InstanceStatus = "stopped"
	InstanceStatusTerminating  InstanceStatus = "terminating"
	InstanceStatusTerminated   InstanceStatus = "terminated"
)

// IsBooting returns true while the instance has not yet left the boot phase.
func (s InstanceStatus) IsBooting() bool {
	return s == InstanceStatusRequested || s == InstanceStatusPending || s == InstanceStatusBooting
}

// IsStarted returns true if a start request would be redundant.
func (s InstanceStatus) IsStarted() bool {
	return s == InstanceStatusOnline || s == InstanceStatusBooting
}

// IsSetupTerminal returns true once setup has either succeeded or failed.
func (s InstanceStatus) IsSetupTerminal() bool {
	return s == InstanceStatusOnline || s == InstanceStatusSetupFailed
}

// Validate checks that the status is one the engine knows how to classify.
func (s InstanceStatus) Validate() error {
	switch s {
	case InstanceStatusRequested, InstanceStatusPending, InstanceStatusBooting,
		InstanceStatusRunningSetup, InstanceStatusOnline, InstanceStatusSetupFailed,
		InstanceStatusStopping, InstanceStatusStopped, InstanceStatusTerminating,
		InstanceStatusTerminated:
		return nil
	default:
		return fmt.Errorf("invalid instance status: %s", s)
	}
}

// DeploymentStatus is a deployment status as observed from the control plane.
// A deployment is in progress while its CompletedAt is absent.
type DeploymentStatus string

const (
	DeploymentStatusRunning    DeploymentStatus = "running"
	DeploymentStatusSuccessful DeploymentStatus = "successful"
	DeploymentStatusFailed     DeploymentStatus = "failed"
)

// IsSuccessful returns true for the only success terminal status.
func (s DeploymentStatus) IsSuccessful() bool {
	return s == DeploymentStatusSuccessful
}

// DeployType is the class of deploy target.
type DeployType string

const (
	DeployTypeStaging    DeployType = "staging"
	DeployTypeProduction DeployType = "production"
)

// Validate checks that the deploy type is supported.
func (d DeployType) Validate() error {
	switch d {
	case DeployTypeStaging, DeployTypeProduction:
		return nil
	default:
		return fmt.Errorf("invalid deploy type: %q", string(d))
	}
}

// IsStaging returns true for staging-class targets.
func (d DeployType) IsStaging() bool { return d == DeployTypeStaging }

// IsProduction returns true for production-class targets.
func (d DeployType) IsProduction() bool { return d == DeployTypeProduction }

// RunCommandMode selects how run_command fans out over instances.
type RunCommandMode string

const (
	// RunModeAllAtOnce runs a single deployment against every instance.
	RunModeAllAtOnce RunCommandMode = "all_in_once"

	// RunModeCurrent is an alias for RunModeAllAtOnce kept for operators used to it.
	RunModeCurrent RunCommandMode = "current"

	// RunModeOneByOne runs the command instance by instance with a delay in between.
	RunModeOneByOne RunCommandMode = "one_by_one"
)

// Validate checks that the mode is supported.
func (m RunCommandMode) Validate() error {
	switch m {
	case RunModeAllAtOnce, RunModeCurrent, RunModeOneByOne:
		return nil
	default:
		return fmt.Errorf("invalid run command mode: %q", string(m))
	}
}

// RunCommandModes lists the selectable modes in prompt order.
func RunCommandModes() []string {
	return []string{string(RunModeCurrent), string(RunModeAllAtOnce), string(RunModeOneByOne)}
}

// RemoteCommands lists the commands an operator may run through run_command.
func RemoteCommands() []string {
	return []string{"setup", "configure", "install_dependencies", "update_dependencies", "execute_recipes"}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (d DeployType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (d *DeployType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*d = DeployType(str)
	return d.Validate()
}
