package engine

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestRunCommand_AllInOnce(t *testing.T) {
	env := newTestEnv(DeployTypeProduction)
	env.cp.addInstance(Instance{ID: "a", Hostname: "demo-1"})
	env.cp.addInstance(Instance{ID: "b", Hostname: "demo-2"})
	o := env.orchestrator(InvocationOptions{RemoteCommand: "configure", Mode: RunModeAllAtOnce})

	done, err := o.RunCommand(context.Background())
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if len(done) != 2 {
		t.Errorf("Expected both instances reported, got %d", len(done))
	}
	if len(env.cp.requests) != 1 || len(env.cp.requests[0].InstanceIDs) != 0 {
		t.Fatalf("Expected a single deployment across the layer, got %+v", env.cp.requests)
	}
	if env.cp.requests[0].Command.Name != "configure" || env.cp.requests[0].Command.Args != nil {
		t.Errorf("Unexpected command %+v", env.cp.requests[0].Command)
	}
	if len(env.clock.sleeps) != 0 {
		t.Errorf("Expected no inter-instance delay, got %v", env.clock.sleeps)
	}
}

func TestRunCommand_OneByOneWaitsBetweenInstances(t *testing.T) {
	env := newTestEnv(DeployTypeProduction)
	env.cfg.WaitDeploy = 90 * time.Second
	for _, id := range []string{"a", "b", "c"} {
		env.cp.addInstance(Instance{ID: id, Hostname: "demo-" + id})
	}
	o := env.orchestrator(InvocationOptions{RemoteCommand: "setup", Mode: RunModeOneByOne})

	done, err := o.RunCommand(context.Background())
	if err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if got := instanceIDs(done); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("Expected a, b, c, got %v", got)
	}
	for i, id := range []string{"a", "b", "c"} {
		if !slices.Equal(env.cp.requests[i].InstanceIDs, []string{id}) {
			t.Errorf("Request %d: expected target %s, got %v", i, id, env.cp.requests[i].InstanceIDs)
		}
	}
	waits := 0
	for _, d := range env.clock.sleeps {
		if d == 90*time.Second {
			waits++
		}
	}
	if waits != 2 {
		t.Errorf("Expected 2 inter-instance waits, got %d", waits)
	}
}

func TestRunCommand_OneByOneAbortsQueue(t *testing.T) {
	env := newTestEnv(DeployTypeProduction)
	for _, id := range []string{"a", "b", "c"} {
		env.cp.addInstance(Instance{ID: id, Hostname: "demo-" + id})
	}
	env.cp.failDeployOnInstance = "b"
	o := env.orchestrator(InvocationOptions{RemoteCommand: "setup", Mode: RunModeOneByOne})

	done, err := o.RunCommand(context.Background())
	if !IsKind(err, KindOperationFailure) {
		t.Fatalf("Expected operation failure, got %v", err)
	}
	if got := instanceIDs(done); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Expected only a to have succeeded, got %v", got)
	}
	if len(env.cp.requests) != 2 {
		t.Errorf("Expected c never to be dispatched, got %d requests", len(env.cp.requests))
	}
}

func TestRunCommand_PromptsForInputs(t *testing.T) {
	env := newTestEnv(DeployTypeStaging)
	env.cp.addInstance(Instance{ID: "a", Hostname: "feature-x"})
	env.prompter.answers = []string{"execute_recipes", "current", "app::deploy, app::restart"}
	o := env.orchestrator(InvocationOptions{})

	if _, err := o.RunCommand(context.Background()); err != nil {
		t.Fatalf("RunCommand() error = %v", err)
	}
	if len(env.prompter.asked) != 3 {
		t.Errorf("Expected three prompts, got %v", env.prompter.asked)
	}
	got := env.cp.requests[0].Command.Args["recipes"]
	if !slices.Equal(got, []string{"app::deploy", "app::restart"}) {
		t.Errorf("Expected recipes to be passed, got %v", got)
	}
}

func TestRunCommand_RejectsUnknownCommand(t *testing.T) {
	env := newTestEnv(DeployTypeStaging)
	env.cp.addInstance(Instance{ID: "a", Hostname: "feature-x"})
	o := env.orchestrator(InvocationOptions{RemoteCommand: "rm -rf", Mode: RunModeCurrent})

	_, err := o.RunCommand(context.Background())
	if !IsKind(err, KindConfiguration) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if len(env.cp.requests) != 0 {
		t.Error("Expected nothing to be dispatched")
	}
}

func TestRunCommand_DeclinedPrompt(t *testing.T) {
	env := newTestEnv(DeployTypeStaging)
	env.cp.addInstance(Instance{ID: "a", Hostname: "feature-x"})

	_, err := env.orchestrator(InvocationOptions{}).RunCommand(context.Background())
	if ExitCode(err) != ExitDeclined {
		t.Errorf("Expected declined exit code, got %d (%v)", ExitCode(err), err)
	}
}
