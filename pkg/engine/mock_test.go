package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mock control plane for testing
type mockControlPlane struct {
	mu sync.Mutex

	stacks []Stack
	layers []Layer
	apps   []App

	instances map[string]*Instance
	order     []string

	// statusScript is consumed one entry per DescribeInstances-by-id call.
	statusScript map[string][]InstanceStatus

	created     []CreateInstanceRequest
	started     []string
	stopped     []string
	deleted     []string
	schedules   map[string][]AutoScalingSchedule
	registered  []string
	deregister  []string
	tags        map[string]Tags
	tagErrors   map[string]error
	commands    map[string][]Command
	logs        map[string]string
	deployments map[string]*Deployment
	requests    []DeploymentRequest

	// deployPolls is the number of describes before a deployment completes.
	deployPolls int
	pollsLeft   map[string]int

	// deployStatus forces the final status of deployments by command name.
	deployStatus map[string]DeploymentStatus

	// failDeployOnInstance fails deployments that target the instance id.
	failDeployOnInstance string

	createErr error
	nextID    int
}

func newMockControlPlane() *mockControlPlane {
	return &mockControlPlane{
		stacks:       []Stack{{ID: "stack-1", Name: "demo", DefaultSubnetID: "subnet-1", DefaultOS: "Ubuntu 22.04 LTS"}},
		layers:       []Layer{{ID: "layer-1", StackID: "stack-1", Name: "App Servers", Shortname: "app"}},
		apps:         []App{{ID: "app-1", StackID: "stack-1", Name: "demo"}},
		instances:    make(map[string]*Instance),
		statusScript: make(map[string][]InstanceStatus),
		schedules:    make(map[string][]AutoScalingSchedule),
		tags:         make(map[string]Tags),
		tagErrors:    make(map[string]error),
		commands:     make(map[string][]Command),
		logs:         make(map[string]string),
		deployments:  make(map[string]*Deployment),
		pollsLeft:    make(map[string]int),
		deployStatus: make(map[string]DeploymentStatus),
	}
}

func (m *mockControlPlane) addInstance(in Instance, script ...InstanceStatus) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(in.LayerIDs) == 0 {
		in.LayerIDs = []string{"layer-1"}
	}
	if in.EC2InstanceID == "" {
		in.EC2InstanceID = "i-" + in.ID
	}
	m.instances[in.ID] = &in
	m.order = append(m.order, in.ID)
	if len(script) > 0 {
		m.statusScript[in.ID] = script
	}
	return &in
}

func (m *mockControlPlane) DescribeStacks(ctx context.Context) ([]Stack, error) {
	return m.stacks, nil
}

func (m *mockControlPlane) DescribeLayers(ctx context.Context, stackID string) ([]Layer, error) {
	return append([]Layer(nil), m.layers...), nil
}

func (m *mockControlPlane) DescribeApps(ctx context.Context, stackID string) ([]App, error) {
	return append([]App(nil), m.apps...), nil
}

func (m *mockControlPlane) DescribeInstances(ctx context.Context, q InstanceQuery) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Instance
	if len(q.InstanceIDs) > 0 {
		for _, id := range q.InstanceIDs {
			in, ok := m.instances[id]
			if !ok {
				continue
			}
			if script := m.statusScript[id]; len(script) > 0 {
				in.Status = script[0]
				m.statusScript[id] = script[1:]
			}
			out = append(out, *in)
		}
		return out, nil
	}
	for _, id := range m.order {
		in, ok := m.instances[id]
		if !ok {
			continue
		}
		if q.LayerID == "" || slices.Contains(in.LayerIDs, q.LayerID) {
			out = append(out, *in)
		}
	}
	return out, nil
}

func (m *mockControlPlane) CreateInstance(ctx context.Context, req CreateInstanceRequest) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("new-%d", m.nextID)
	m.created = append(m.created, req)
	m.mu.Unlock()

	m.addInstance(Instance{
		ID:        id,
		Hostname:  req.Hostname,
		Status:    InstanceStatusStopped,
		PrivateIP: "10.0.0.1",
		LayerIDs:  req.LayerIDs,
	}, InstanceStatusStopped, InstanceStatusRequested, InstanceStatusBooting, InstanceStatusRunningSetup, InstanceStatusOnline)
	return id, nil
}

func (m *mockControlPlane) StartInstance(ctx context.Context, id string) error {
	m.started = append(m.started, id)
	return nil
}

func (m *mockControlPlane) StopInstance(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, id)
	if len(m.statusScript[id]) == 0 {
		m.statusScript[id] = []InstanceStatus{InstanceStatusStopping, InstanceStatusStopped}
	}
	return nil
}

func (m *mockControlPlane) DeleteInstance(ctx context.Context, id string, deleteVolumes bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	delete(m.instances, id)
	return nil
}

func (m *mockControlPlane) CreateDeployment(ctx context.Context, req DeploymentRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("dep-%d", m.nextID)
	m.requests = append(m.requests, req.Clone())

	status := DeploymentStatusSuccessful
	if s, ok := m.deployStatus[req.Command.Name]; ok {
		status = s
	}
	if m.failDeployOnInstance != "" && slices.Contains(req.InstanceIDs, m.failDeployOnInstance) {
		status = DeploymentStatusFailed
	}
	m.deployments[id] = &Deployment{ID: id, Command: req.Command, InstanceIDs: req.InstanceIDs, Status: status}
	m.pollsLeft[id] = m.deployPolls
	if status != DeploymentStatusSuccessful {
		url := "mem://logs/" + id
		m.commands["deployment:"+id] = []Command{{ID: "cmd-" + id, DeploymentID: id, Type: req.Command.Name, Status: "failed", LogURL: url}}
		m.logs[url] = "line 1\nline 2\nline 3\n"
	}
	return id, nil
}

func (m *mockControlPlane) DescribeDeployment(ctx context.Context, id string) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dep, ok := m.deployments[id]
	if !ok {
		return nil, NewNotFoundError("deployment not found", nil)
	}
	out := *dep
	if m.pollsLeft[id] > 0 {
		m.pollsLeft[id]--
		out.Status = DeploymentStatusRunning
		return &out, nil
	}
	done := time.Unix(0, 0)
	out.CompletedAt = &done
	return &out, nil
}

func (m *mockControlPlane) DescribeCommands(ctx context.Context, q CommandQuery) ([]Command, error) {
	if q.DeploymentID != "" {
		return m.commands["deployment:"+q.DeploymentID], nil
	}
	return m.commands["instance:"+q.InstanceID], nil
}

func (m *mockControlPlane) SetTimeBasedAutoScaling(ctx context.Context, id string, schedule AutoScalingSchedule) error {
	m.schedules[id] = append(m.schedules[id], schedule)
	return nil
}

func (m *mockControlPlane) RegisterWithLoadBalancer(ctx context.Context, lb, ec2ID string) error {
	m.registered = append(m.registered, lb+"/"+ec2ID)
	return nil
}

func (m *mockControlPlane) DeregisterFromLoadBalancer(ctx context.Context, lb, ec2ID string) error {
	m.deregister = append(m.deregister, lb+"/"+ec2ID)
	return nil
}

func (m *mockControlPlane) CreateTags(ctx context.Context, resourceID string, tags Tags) error {
	m.tags[resourceID] = append(m.tags[resourceID], tags...)
	return nil
}

func (m *mockControlPlane) DescribeTags(ctx context.Context, resourceID string) (Tags, error) {
	if err := m.tagErrors[resourceID]; err != nil {
		return nil, err
	}
	return m.tags[resourceID], nil
}

func (m *mockControlPlane) UpdateStack(ctx context.Context, stackID string, update StackUpdate) error {
	return nil
}

func (m *mockControlPlane) FetchObject(ctx context.Context, url string) ([]byte, error) {
	content, ok := m.logs[url]
	if !ok {
		return nil, NewNotFoundError("object not found", nil).WithResource(url)
	}
	return []byte(content), nil
}

// Mock clock for testing
type mockClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time { return c.now }

func (c *mockClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

// Mock notifier for testing
type mockNotifier struct {
	notifications []Notification
}

func (n *mockNotifier) Notify(ctx context.Context, notification Notification) error {
	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *mockNotifier) titles() []string {
	out := make([]string, len(n.notifications))
	for i, x := range n.notifications {
		out[i] = x.Title
	}
	return out
}

// Mock reporter for testing
type mockReporter struct {
	out strings.Builder
}

func (r *mockReporter) Progress(marker string)              { r.out.WriteString(marker) }
func (r *mockReporter) Infof(format string, args ...any)    { fmt.Fprintf(&r.out, format+"\n", args...) }
func (r *mockReporter) Warnf(format string, args ...any)    { fmt.Fprintf(&r.out, "WARN "+format+"\n", args...) }
func (r *mockReporter) Successf(format string, args ...any) { fmt.Fprintf(&r.out, format+"\n", args...) }
func (r *mockReporter) Errorf(format string, args ...any)   { fmt.Fprintf(&r.out, "ERROR "+format+"\n", args...) }
func (r *mockReporter) Block(title, body string)            { fmt.Fprintf(&r.out, "%s\n%s\n", title, body) }

// Mock prompter for testing
type mockPrompter struct {
	answers []string
	asked   []string
}

func (p *mockPrompter) next(title string) (string, error) {
	p.asked = append(p.asked, title)
	if len(p.answers) == 0 {
		return "", NewDeclinedError("no answer")
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func (p *mockPrompter) Select(ctx context.Context, title string, options []string) (string, error) {
	return p.next(title)
}

func (p *mockPrompter) Input(ctx context.Context, title string) (string, error) {
	return p.next(title)
}

func (p *mockPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	a, err := p.next(question)
	return a == "y", err
}

type staticRevision struct {
	rev   string
	err   error
	calls int
}

func (s *staticRevision) CurrentRevision(ctx context.Context) (string, error) {
	s.calls++
	return s.rev, s.err
}

// Mock diagnoser for testing
type mockDiagnoser struct {
	scopes []CommandQuery
}

func (d *mockDiagnoser) Diagnose(ctx context.Context, scope CommandQuery, opts DiagnoseOptions) error {
	d.scopes = append(d.scopes, scope)
	return NewOperationFailureError("diagnosed", nil).WithResource(scope.DeploymentID + scope.InstanceID)
}

type testEnv struct {
	cp       *mockControlPlane
	clock    *mockClock
	notifier *mockNotifier
	reporter *mockReporter
	prompter *mockPrompter
	revision *staticRevision
	cfg      *ResolvedConfig
	resolves int
}

func newTestEnv(deployType DeployType) *testEnv {
	cfg := &ResolvedConfig{
		Environment:    "test",
		DeployType:     deployType,
		Region:         "us-east-1",
		StackID:        "stack-1",
		AppID:          "app-1",
		AppName:        "demo",
		LayerID:        "layer-1",
		InstanceType:   "t3.small",
		WaitIterations: 20,
	}
	cfg.ApplyDefaults()
	return &testEnv{
		cp:       newMockControlPlane(),
		clock:    newMockClock(),
		notifier: &mockNotifier{},
		reporter: &mockReporter{},
		prompter: &mockPrompter{},
		revision: &staticRevision{rev: "feature-x"},
		cfg:      cfg,
	}
}

func (e *testEnv) invocation(opts InvocationOptions) *Invocation {
	source := ConfigSourceFunc(func(ctx context.Context) (*ResolvedConfig, error) {
		e.resolves++
		return e.cfg, nil
	})
	return NewInvocation(opts, source, Services{
		ControlPlane: e.cp,
		Notifier:     e.notifier,
		Clock:        e.clock,
		Reporter:     e.reporter,
		Prompter:     e.prompter,
		Revisions:    e.revision,
		Logger:       zerolog.Nop(),
	})
}

func (e *testEnv) orchestrator(opts InvocationOptions) *Orchestrator {
	return NewOrchestrator(e.invocation(opts))
}
