package deployment

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/flowfile"
	"github.com/flow-tools/axf-deploy/pkg/installer"
	"github.com/flow-tools/axf-deploy/pkg/logging"
	"github.com/flow-tools/axf-deploy/pkg/monitoring"
	"github.com/flow-tools/axf-deploy/pkg/process"
	"github.com/flow-tools/axf-deploy/pkg/processfile"
)

// DeploymentStatus is a point-in-time snapshot of the deployment for
// operator-facing surfaces
type DeploymentStatus struct {
	ID        string                       `json:"id"`
	Name      string                       `json:"name,omitempty"`
	State     DeploymentState              `json:"state"`
	PID       int                          `json:"pid,omitempty"`
	Port      int                          `json:"port"`
	FlowFile  string                       `json:"flow_file"`
	Flow      *flowfile.Info               `json:"flow,omitempty"`
	Health    *monitoring.HealthCheckState `json:"health,omitempty"`
	StartedAt *time.Time                   `json:"started_at,omitempty"`
	ReadyAt   *time.Time                   `json:"ready_at,omitempty"`
	Error     string                       `json:"error,omitempty"`
}

// Orchestrator drives a single deployment through its lifecycle: install
// dependencies, start the flow executor, watch its health, and tear it
// down on request. One orchestrator manages one deployment; it is not
// reusable after Stop.
type Orchestrator struct {
	config       *DeploymentConfig
	logger       logging.Logger
	stateMachine *StateMachine
	processFiles *processfile.ProcessFileManager
	execution    process.ExecutionConfig

	checkCallback monitoring.CheckCallback

	mutex      sync.Mutex
	proc       *os.Process
	monitor    monitoring.HealthMonitor
	flowInfo   *flowfile.Info
	startedAt  time.Time
	readyAt    time.Time
	failureErr error

	stopping    atomic.Bool
	stopOnce    sync.Once
	failureOnce sync.Once

	readyCh  chan struct{}
	failedCh chan error
	exitedCh chan struct{}
}

// NewOrchestrator creates an orchestrator for the given configuration.
// The configuration must already have defaults applied and be validated.
func NewOrchestrator(config *DeploymentConfig, logger logging.Logger) *Orchestrator {
	var processFilesConfig processfile.ProcessFileConfig
	if config.ProcessFiles != nil {
		processFilesConfig = *config.ProcessFiles
	} else {
		processFilesConfig = processfile.GetRecommendedProcessFileConfig("user", processfile.DefaultAppName)
	}

	return &Orchestrator{
		config:       config,
		logger:       logger,
		stateMachine: NewStateMachine(config.Deployment.ID, logger),
		processFiles: processfile.NewProcessFileManager(processFilesConfig, logger),
		execution:    ServeCommand(config),
		readyCh:      make(chan struct{}),
		failedCh:     make(chan error, 1),
		exitedCh:     make(chan struct{}),
	}
}

// SetCheckCallback registers a callback invoked after every health check,
// for metrics. Must be called before Deploy.
func (o *Orchestrator) SetCheckCallback(callback monitoring.CheckCallback) {
	o.checkCallback = callback
}

// ID returns the deployment ID
func (o *Orchestrator) ID() string {
	return o.config.Deployment.ID
}

// State returns the current deployment state
func (o *Orchestrator) State() DeploymentState {
	return o.stateMachine.CurrentState()
}

// Deploy runs the deployment sequence and blocks until the service is
// ready, the deployment fails, or the context is cancelled. Every error
// is fatal: there are no retries at this level, a failed deployment stays
// failed until an operator intervenes.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	id := o.config.Deployment.ID
	o.logger.Infof("Deploying, id: %s, flow: %s, port: %d", id, o.config.Serve.FlowFile, o.config.Serve.Port)

	if err := o.install(ctx); err != nil {
		o.fail(DeploymentStateFailed, err)
		return err
	}

	if err := o.prepareFlowFile(); err != nil {
		o.fail(DeploymentStateFailed, err)
		return err
	}

	if err := o.startExecutor(ctx); err != nil {
		o.fail(DeploymentStateFailed, err)
		return err
	}

	if err := o.startMonitoring(); err != nil {
		o.fail(DeploymentStateFailed, err)
		return err
	}

	select {
	case <-o.readyCh:
		o.logger.Infof("Deployment is ready, id: %s", id)
		return nil
	case err := <-o.failedCh:
		o.logger.Errorf("Deployment failed, id: %s: %v", id, err)
		return err
	case <-ctx.Done():
		return errors.NewCancelledError("deployment cancelled", ctx.Err()).WithContext("deployment_id", id)
	}
}

// Failed returns a channel that delivers the fatal deployment error, if
// one occurs after Deploy returned successfully (process exit, health
// check budget exhausted).
func (o *Orchestrator) Failed() <-chan error {
	return o.failedCh
}

// Status returns a snapshot of the deployment for status surfaces
func (o *Orchestrator) Status() DeploymentStatus {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	status := DeploymentStatus{
		ID:       o.config.Deployment.ID,
		Name:     o.config.Deployment.Name,
		State:    o.stateMachine.CurrentState(),
		Port:     o.config.Serve.Port,
		FlowFile: o.config.Serve.FlowFile,
		Flow:     o.flowInfo,
	}
	if o.proc != nil {
		status.PID = o.proc.Pid
	}
	if o.monitor != nil {
		status.Health = o.monitor.State()
	}
	if !o.startedAt.IsZero() {
		startedAt := o.startedAt
		status.StartedAt = &startedAt
	}
	if !o.readyAt.IsZero() {
		readyAt := o.readyAt
		status.ReadyAt = &readyAt
	}
	if o.failureErr != nil {
		status.Error = o.failureErr.Error()
	}
	return status
}

// Stop gracefully terminates the deployment: the health monitor stops
// first, then the executor process group receives a termination signal,
// with a force kill after the configured shutdown timeout.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var stopErr error
	o.stopOnce.Do(func() {
		id := o.config.Deployment.ID
		o.stopping.Store(true)
		o.logger.Infof("Stopping deployment, id: %s", id)

		if o.stateMachine.CanTransition(DeploymentStateStopping) {
			o.stateMachine.Transition(DeploymentStateStopping, "operator requested stop")
		}

		o.mutex.Lock()
		monitor := o.monitor
		proc := o.proc
		o.mutex.Unlock()

		if monitor != nil {
			monitor.Stop()
		}

		if proc != nil {
			stopErr = o.terminateProcess(ctx, proc)
		}

		o.processFiles.RemoveProcessFiles(id)

		if o.stateMachine.CanTransition(DeploymentStateStopped) {
			o.stateMachine.Transition(DeploymentStateStopped, "shutdown complete")
		}
		o.logger.Infof("Deployment stopped, id: %s", id)
	})
	return stopErr
}

func (o *Orchestrator) install(ctx context.Context) error {
	inst := installer.NewInstaller(o.config.Install, o.config.Deployment.ID, o.logger)
	steps := inst.Steps()
	if len(steps) == 0 {
		o.logger.Debugf("No install steps configured, id: %s", o.config.Deployment.ID)
		return nil
	}

	if err := o.stateMachine.Transition(DeploymentStateInstalling, "install steps configured"); err != nil {
		return err
	}

	return inst.Run(ctx)
}

func (o *Orchestrator) prepareFlowFile() error {
	flowFile := o.config.Serve.FlowFile

	if err := flowfile.Verify(flowFile); err != nil {
		return err
	}

	// Inspection is informational only, the file is handed to the
	// executor as-is either way.
	info, err := flowfile.Inspect(flowFile)
	if err != nil {
		o.logger.Debugf("Flow file is not inspectable, id: %s, file: %s: %v", o.config.Deployment.ID, flowFile, err)
		return nil
	}

	o.logger.Infof("Flow file loaded, id: %s, name: %s, nodes: %d, edges: %d",
		o.config.Deployment.ID, info.Name, info.Nodes, info.Edges)

	o.mutex.Lock()
	o.flowInfo = info
	o.mutex.Unlock()
	return nil
}

func (o *Orchestrator) startExecutor(ctx context.Context) error {
	id := o.config.Deployment.ID

	if err := o.stateMachine.Transition(DeploymentStateStarting, "starting flow executor"); err != nil {
		return err
	}

	execution := o.execution
	o.logger.Infof("Starting flow executor, id: %s, command: %s %v", id, execution.ExecutablePath, execution.Args)

	executeCmd := process.NewStdExecuteCmd(execution, id, o.logger)
	proc, stdout, err := executeCmd(ctx)
	if err != nil {
		return errors.NewProcessError("failed to start flow executor", err).WithContext("deployment_id", id)
	}

	o.mutex.Lock()
	o.proc = proc
	o.startedAt = time.Now()
	o.mutex.Unlock()

	o.logger.Infof("Flow executor started, id: %s, pid: %d", id, proc.Pid)

	if err := o.processFiles.WritePIDFile(id, proc.Pid); err != nil {
		o.logger.Warnf("Failed to write PID file, id: %s: %v", id, err)
	}
	if err := o.processFiles.WritePortFile(id, o.config.Serve.Port); err != nil {
		o.logger.Warnf("Failed to write port file, id: %s: %v", id, err)
	}

	go o.forwardOutput(stdout)
	go o.watchExit(proc)

	return o.stateMachine.Transition(DeploymentStateRunning, "flow executor process started")
}

func (o *Orchestrator) startMonitoring() error {
	id := o.config.Deployment.ID

	o.mutex.Lock()
	pid := o.proc.Pid
	o.mutex.Unlock()

	monitor := monitoring.NewHealthMonitor(&o.config.HealthCheck, id, pid, o.logger)
	monitor.SetReadyCallback(o.onReady)
	monitor.SetUnhealthyCallback(o.onUnhealthy)
	if o.checkCallback != nil {
		monitor.SetCheckCallback(o.checkCallback)
	}

	o.mutex.Lock()
	o.monitor = monitor
	o.mutex.Unlock()

	return monitor.Start()
}

func (o *Orchestrator) onReady() {
	o.mutex.Lock()
	o.readyAt = time.Now()
	o.mutex.Unlock()

	if o.stateMachine.CanTransition(DeploymentStateReady) {
		o.stateMachine.Transition(DeploymentStateReady, "first successful health check")
	}
	close(o.readyCh)
}

func (o *Orchestrator) onUnhealthy(reason string) {
	err := errors.NewHealthCheckError(reason, nil).WithContext("deployment_id", o.config.Deployment.ID)
	o.fail(DeploymentStateUnhealthy, err)
}

// forwardOutput relays combined stdout+stderr of the executor into the
// deployment log, line by line
func (o *Orchestrator) forwardOutput(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		o.logger.Infof("executor: %s", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the executor never blocks on a full pipe
		o.logger.Warnf("Executor output forwarding stopped: %v", err)
		io.Copy(io.Discard, stdout)
	}
}

// watchExit reaps the executor process. Any exit that was not requested
// through Stop is a deployment failure, there is no restart.
func (o *Orchestrator) watchExit(proc *os.Process) {
	state, err := proc.Wait()
	close(o.exitedCh)

	if o.stopping.Load() {
		return
	}

	var exitErr *errors.DomainError
	if err != nil {
		exitErr = errors.NewProcessError("failed to wait for flow executor", err)
	} else {
		exitErr = errors.NewProcessError(
			fmt.Sprintf("flow executor exited unexpectedly: %s", state.String()), nil)
	}
	exitErr = exitErr.
		WithContext("deployment_id", o.config.Deployment.ID).
		WithContext("pid", proc.Pid)

	o.fail(DeploymentStateFailed, exitErr)
}

// fail records the first fatal error, moves the state machine and wakes
// whoever is waiting on the failure channel. Later failures are dropped:
// only the first cause matters.
func (o *Orchestrator) fail(state DeploymentState, err error) {
	if o.stopping.Load() {
		return
	}

	o.failureOnce.Do(func() {
		o.mutex.Lock()
		o.failureErr = err
		monitor := o.monitor
		o.mutex.Unlock()

		if o.stateMachine.CanTransition(state) {
			o.stateMachine.Transition(state, err.Error())
		}
		if monitor != nil {
			monitor.Stop()
		}
		o.failedCh <- err
	})
}

func (o *Orchestrator) terminateProcess(ctx context.Context, proc *os.Process) error {
	id := o.config.Deployment.ID
	timeout := o.config.Deployment.ForceShutdownTimeout

	select {
	case <-o.exitedCh:
		// Already gone, nothing to signal
		return nil
	default:
	}

	o.logger.Infof("Sending termination signal, id: %s, pid: %d", id, proc.Pid)
	if err := process.SendTerminationSignal(proc.Pid, false, timeout); err != nil {
		o.logger.Warnf("Failed to send termination signal, id: %s, pid: %d: %v", id, proc.Pid, err)
	}

	select {
	case <-o.exitedCh:
		return nil
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	o.logger.Warnf("Graceful shutdown timed out, killing, id: %s, pid: %d", id, proc.Pid)
	if err := proc.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return errors.NewProcessError("failed to kill flow executor", err).
			WithContext("deployment_id", id).WithContext("pid", proc.Pid)
	}

	<-o.exitedCh
	return nil
}
