package deployment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/monitoring"
	"github.com/flow-tools/axf-deploy/pkg/process"
	"github.com/flow-tools/axf-deploy/pkg/processfile"
	"github.com/flow-tools/axf-deploy/pkg/processstate"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFlowDocument = `{
  "data": {
    "nodes": [{"id": "ChatInput-1"}, {"id": "OpenAIModel-1"}, {"id": "ChatOutput-1"}],
    "edges": [{"id": "e1"}, {"id": "e2"}]
  },
  "name": "Test Flow",
  "description": "A test flow",
  "endpoint_name": "test-flow"
}`

func writeTestFlowFile(t *testing.T) string {
	t.Helper()

	flowFile := filepath.Join(t.TempDir(), "flow.json")
	require.NoError(t, os.WriteFile(flowFile, []byte(testFlowDocument), 0644))
	return flowFile
}

// testOrchestrator builds an orchestrator whose executor command is
// replaced by a long-running stub, with a fast process health check
func testOrchestrator(t *testing.T, execution process.ExecutionConfig, healthCheck *monitoring.HealthCheckConfig) *Orchestrator {
	t.Helper()

	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	config := &DeploymentConfig{
		Deployment: DeploymentOptions{
			ID:                   "test-deployment",
			ForceShutdownTimeout: 2 * time.Second,
		},
		Serve: ServeConfig{
			FlowFile: writeTestFlowFile(t),
			Port:     port,
		},
		ProcessFiles: &processfile.ProcessFileConfig{
			BaseDirectory: t.TempDir(),
		},
	}
	require.NoError(t, setConfigDefaults(config))

	if healthCheck != nil {
		config.HealthCheck = *healthCheck
	} else {
		config.HealthCheck = monitoring.HealthCheckConfig{
			Type: monitoring.HealthCheckTypeProcess,
			RunOptions: monitoring.HealthCheckRunOptions{
				Interval: 50 * time.Millisecond,
				Timeout:  20 * time.Millisecond,
				Retries:  2,
			},
		}
	}

	orchestrator := NewOrchestrator(config, &TestLogger{})
	orchestrator.execution = execution
	return orchestrator
}

func sleepExecution() process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath: "/bin/sleep",
		Args:           []string{"30"},
		WaitDelay:      1 * time.Second,
	}
}

func TestOrchestratorDeployBecomesReady(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test uses Unix executables")
	}

	orchestrator := testOrchestrator(t, sleepExecution(), nil)
	defer orchestrator.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, orchestrator.Deploy(ctx))
	assert.Equal(t, DeploymentStateReady, orchestrator.State())

	status := orchestrator.Status()
	assert.Equal(t, "test-deployment", status.ID)
	assert.Equal(t, DeploymentStateReady, status.State)
	assert.NotZero(t, status.PID)
	assert.NotNil(t, status.StartedAt)
	assert.NotNil(t, status.ReadyAt)
	assert.Empty(t, status.Error)

	// Flow file was inspected on the way up
	require.NotNil(t, status.Flow)
	assert.Equal(t, "Test Flow", status.Flow.Name)
	assert.Equal(t, 3, status.Flow.Nodes)
	assert.Equal(t, 2, status.Flow.Edges)

	// PID file points at the live executor
	manager := processfile.NewProcessFileManager(*orchestrator.config.ProcessFiles, &TestLogger{})
	pid, err := manager.ReadPIDFile("test-deployment")
	require.NoError(t, err)
	assert.Equal(t, status.PID, pid)
}

func TestOrchestratorStopTerminatesExecutor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test uses Unix executables")
	}

	orchestrator := testOrchestrator(t, sleepExecution(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, orchestrator.Deploy(ctx))
	pid := orchestrator.Status().PID
	require.NotZero(t, pid)

	require.NoError(t, orchestrator.Stop(context.Background()))
	assert.Equal(t, DeploymentStateStopped, orchestrator.State())

	// The executor process group must be gone
	assert.Eventually(t, func() bool {
		running, err := processstate.IsProcessRunning(pid)
		return err == nil && !running
	}, 5*time.Second, 50*time.Millisecond)

	// Process files are cleaned up
	manager := processfile.NewProcessFileManager(*orchestrator.config.ProcessFiles, &TestLogger{})
	_, err := manager.ReadPIDFile("test-deployment")
	assert.Error(t, err)
}

func TestOrchestratorForwardOutputOversizedLine(t *testing.T) {
	orchestrator := testOrchestrator(t, sleepExecution(), nil)

	// A line beyond the scanner limit must not stop the drain, or the
	// executor would block on a full pipe
	reader := strings.NewReader(strings.Repeat("a", 2*1024*1024))
	orchestrator.forwardOutput(reader)
	assert.Zero(t, reader.Len())
}

func TestOrchestratorTerminateAlreadyFinishedProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test uses Unix executables")
	}

	orchestrator := testOrchestrator(t, sleepExecution(), nil)
	orchestrator.config.Deployment.ForceShutdownTimeout = 50 * time.Millisecond

	execute := process.NewStdExecuteCmd(sleepExecution(), "test-deployment", &TestLogger{})
	proc, stdout, err := execute(context.Background())
	require.NoError(t, err)
	defer stdout.Close()

	// Reap the executor out of band: the force kill after the graceful
	// timeout now finds the process already finished
	require.NoError(t, proc.Kill())
	_, err = proc.Wait()
	require.NoError(t, err)

	// Exit watcher reporting late, after the force kill has run
	go func() {
		time.Sleep(200 * time.Millisecond)
		close(orchestrator.exitedCh)
	}()

	assert.NoError(t, orchestrator.terminateProcess(context.Background(), proc))
}

func TestOrchestratorProcessExitIsFatal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test uses Unix executables")
	}

	// An executor that exits immediately, even with status 0, fails the
	// deployment: there is no restart.
	execution := process.ExecutionConfig{
		ExecutablePath: "/bin/sleep",
		Args:           []string{"0.05"},
		WaitDelay:      1 * time.Second,
	}

	// Delay the first health check past the stub's lifetime so the exit
	// watcher reports the failure, not the health monitor
	healthCheck := &monitoring.HealthCheckConfig{
		Type: monitoring.HealthCheckTypeProcess,
		RunOptions: monitoring.HealthCheckRunOptions{
			Interval:     50 * time.Millisecond,
			Timeout:      20 * time.Millisecond,
			InitialDelay: 500 * time.Millisecond,
			Retries:      2,
		},
	}

	orchestrator := testOrchestrator(t, execution, healthCheck)
	defer orchestrator.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := orchestrator.Deploy(ctx)
	require.Error(t, err)
	assert.Contains(t, []DeploymentState{DeploymentStateFailed, DeploymentStateUnhealthy}, orchestrator.State())
}

func TestOrchestratorUnhealthyAfterRetryBudget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test uses Unix executables")
	}

	// TCP check against a port nobody listens on: degraded, then
	// unhealthy once the retry budget is exhausted.
	deadPort, err := freeport.GetFreePort()
	require.NoError(t, err)

	healthCheck := &monitoring.HealthCheckConfig{
		Type: monitoring.HealthCheckTypeTCP,
		TCP: monitoring.TCPHealthCheckConfig{
			Address: "127.0.0.1",
			Port:    deadPort,
		},
		RunOptions: monitoring.HealthCheckRunOptions{
			Interval: 50 * time.Millisecond,
			Timeout:  20 * time.Millisecond,
			Retries:  2,
		},
	}

	orchestrator := testOrchestrator(t, sleepExecution(), healthCheck)
	defer orchestrator.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = orchestrator.Deploy(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsHealthCheckError(err))
	assert.Equal(t, DeploymentStateUnhealthy, orchestrator.State())

	status := orchestrator.Status()
	assert.Contains(t, status.Error, "health check failed")
}

func TestOrchestratorMissingFlowFileFails(t *testing.T) {
	orchestrator := testOrchestrator(t, sleepExecution(), nil)
	orchestrator.config.Serve.FlowFile = "/nonexistent/flow.json"

	err := orchestrator.Deploy(context.Background())
	require.Error(t, err)
	assert.Equal(t, DeploymentStateFailed, orchestrator.State())
}

func TestOrchestratorInstallFailureAborts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Test uses Unix executables")
	}

	orchestrator := testOrchestrator(t, sleepExecution(), nil)
	orchestrator.config.Install.Python = "/bin/false"
	orchestrator.config.Install.Requirements = []string{"axf"}

	err := orchestrator.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsInstallError(err))
	assert.Equal(t, DeploymentStateFailed, orchestrator.State())

	// The executor was never started
	assert.Zero(t, orchestrator.Status().PID)
}
