package installer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/logging"
)

// DefaultPython is the interpreter used for pip invocations when the
// configuration does not name one.
const DefaultPython = "python3"

// EditableInstall describes a package installed in editable/development mode
// from a subdirectory of the application checkout.
type EditableInstall struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// InstallConfig describes the dependency installation phase of a deployment
type InstallConfig struct {
	// Interpreter used for "python -m pip ..." invocations
	Python string `yaml:"python,omitempty"`

	// Packages installed first, in one pip invocation
	Requirements []string `yaml:"requirements,omitempty"`

	// Editable installs performed after requirements, in order
	Editable []EditableInstall `yaml:"editable,omitempty"`

	// Working directory for all install steps
	WorkingDirectory string `yaml:"working_directory,omitempty"`

	// Per-step timeout, zero means no timeout
	StepTimeout time.Duration `yaml:"step_timeout,omitempty"`
}

// Step is a single resolved installation command
type Step struct {
	Name    string
	Command string
	Args    []string
}

// Installer runs the installation steps of a deployment sequentially.
// Every step is fail-fast: a non-zero exit aborts the deployment with no
// retry. Re-running the same steps is idempotent (pip converges on the
// same installed state).
type Installer struct {
	config InstallConfig
	id     string
	logger logging.Logger
}

// NewInstaller creates an installer for the given deployment ID
func NewInstaller(config InstallConfig, id string, logger logging.Logger) *Installer {
	if config.Python == "" {
		config.Python = DefaultPython
	}
	return &Installer{
		config: config,
		id:     id,
		logger: logger,
	}
}

// Steps resolves the configured installation into an ordered command list
func (i *Installer) Steps() []Step {
	var steps []Step

	if len(i.config.Requirements) > 0 {
		args := append([]string{"-m", "pip", "install"}, i.config.Requirements...)
		steps = append(steps, Step{
			Name:    "install-requirements",
			Command: i.config.Python,
			Args:    args,
		})
	}

	for _, editable := range i.config.Editable {
		steps = append(steps, Step{
			Name:    "install-" + editable.Name,
			Command: i.config.Python,
			Args:    []string{"-m", "pip", "install", "-e", editable.Path},
		})
	}

	return steps
}

// Run executes all installation steps in order, blocking on each until its
// exit status is known. The first failure aborts the run.
func (i *Installer) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil).WithContext("id", i.id)
	}

	if err := ValidateInstallConfig(i.config); err != nil {
		return errors.NewValidationError("invalid install configuration", err).WithContext("id", i.id)
	}

	steps := i.Steps()
	if len(steps) == 0 {
		i.logger.Infof("No installation steps configured, id: %s", i.id)
		return nil
	}

	i.logger.Infof("Running %d installation steps, id: %s", len(steps), i.id)

	for index, step := range steps {
		if err := i.runStep(ctx, index, step); err != nil {
			return err
		}
	}

	i.logger.Infof("All installation steps completed, id: %s", i.id)
	return nil
}

func (i *Installer) runStep(ctx context.Context, index int, step Step) error {
	i.logger.Infof("Running installation step, id: %s, step: %s (%d), command: %s %v",
		i.id, step.Name, index, step.Command, step.Args)

	stepCtx := ctx
	if i.config.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, i.config.StepTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, step.Command, step.Args...)
	if i.config.WorkingDirectory != "" {
		cmd.Dir = i.config.WorkingDirectory
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.NewInstallError("failed to create stdout pipe", err).WithContext("id", i.id).WithContext("step", step.Name)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return errors.NewInstallError("failed to start installation step", err).WithContext("id", i.id).WithContext("step", step.Name)
	}

	// Stream build output to the operator log as it arrives
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		i.logger.Infof("%s: %s", step.Name, scanner.Text())
	}
	if scanErr := scanner.Err(); scanErr != nil {
		// Keep draining so the step never blocks on a full pipe
		i.logger.Warnf("Output streaming stopped, id: %s, step: %s: %v", i.id, step.Name, scanErr)
		io.Copy(io.Discard, stdout)
	}

	err = cmd.Wait()
	if stepCtx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(
			fmt.Sprintf("installation step timed out after %v", i.config.StepTimeout),
			stepCtx.Err(),
		).WithContext("id", i.id).WithContext("step", step.Name)
	}
	if err != nil {
		return errors.NewInstallError("installation step failed", err).
			WithContext("id", i.id).
			WithContext("step", step.Name).
			WithContext("command", fmt.Sprintf("%s %v", step.Command, step.Args))
	}

	i.logger.Infof("Installation step completed, id: %s, step: %s", i.id, step.Name)
	return nil
}

// ValidateInstallConfig validates install configuration
func ValidateInstallConfig(config InstallConfig) error {
	if config.Python == "" {
		return errors.NewValidationError("python interpreter is required", nil)
	}

	for _, pkg := range config.Requirements {
		if pkg == "" {
			return errors.NewValidationError("requirement package name cannot be empty", nil)
		}
	}

	if config.WorkingDirectory != "" {
		if info, err := os.Stat(config.WorkingDirectory); err != nil {
			return errors.NewValidationError("working directory not accessible: "+config.WorkingDirectory, err)
		} else if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+config.WorkingDirectory, nil)
		}
	}

	for _, editable := range config.Editable {
		if editable.Name == "" {
			return errors.NewValidationError("editable install name is required", nil)
		}
		if editable.Path == "" {
			return errors.NewValidationError("editable install path is required: "+editable.Name, nil)
		}
		// Steps run in the working directory, so relative paths are
		// checked from there rather than from the orchestrator's cwd.
		path := editable.Path
		if !filepath.IsAbs(path) && config.WorkingDirectory != "" {
			path = filepath.Join(config.WorkingDirectory, path)
		}
		if info, err := os.Stat(path); err != nil {
			return errors.NewValidationError("editable install path not accessible: "+path, err)
		} else if !info.IsDir() {
			return errors.NewValidationError("editable install path is not a directory: "+path, nil)
		}
	}

	if config.StepTimeout < 0 {
		return errors.NewValidationError("step timeout cannot be negative", nil)
	}

	return nil
}
