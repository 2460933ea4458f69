package deployment

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/installer"
	"github.com/flow-tools/axf-deploy/pkg/logging"
	"github.com/flow-tools/axf-deploy/pkg/monitoring"
	"github.com/flow-tools/axf-deploy/pkg/process"
	"github.com/flow-tools/axf-deploy/pkg/processfile"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Well-known environment variable names forwarded to the flow executor
const (
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvAxieStudioAPIKey = "AXIESTUDIO_API_KEY"
	EnvPythonPath       = "PYTHONPATH"
)

// Default flow executor invocation
const (
	DefaultServeModule = "axf"
	DefaultServeHost   = "0.0.0.0"
)

// DeploymentConfig represents the top-level configuration file structure
type DeploymentConfig struct {
	Deployment   DeploymentOptions             `yaml:"deployment"`
	Install      installer.InstallConfig       `yaml:"install,omitempty"`
	Serve        ServeConfig                   `yaml:"serve"`
	Environment  map[string]string             `yaml:"environment,omitempty"`
	HealthCheck  monitoring.HealthCheckConfig  `yaml:"health_check,omitempty"`
	StatusServer *StatusServerConfig           `yaml:"status_server,omitempty"` // Optional operator status endpoint
	ProcessFiles *processfile.ProcessFileConfig `yaml:"process_files,omitempty"`
	Logging      *logging.ZapConfig            `yaml:"logging,omitempty"`
}

// DeploymentOptions represents deployment-level configuration
type DeploymentOptions struct {
	ID                   string        `yaml:"id,omitempty"` // Generated if not specified
	Name                 string        `yaml:"name,omitempty"`
	LogLevel             string        `yaml:"log_level,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
}

// ServeConfig describes the flow executor serve invocation
type ServeConfig struct {
	// Interpreter used to launch the executor. Defaults to the install
	// interpreter, falling back to python3.
	Python string `yaml:"python,omitempty"`

	// Python module invoked with -m. Defaults to axf.
	Module string `yaml:"module,omitempty"`

	// Flow definition file passed to the serve command
	FlowFile string `yaml:"flow_file"`

	// Bind address and port of the executor
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port"`

	// Directories joined into PYTHONPATH for the executor process
	PythonPath []string `yaml:"python_path,omitempty"`

	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// StatusServerConfig configures the operator-facing HTTP status endpoint
type StatusServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// LoadConfigFromFile loads deployment configuration from a YAML file
func LoadConfigFromFile(filename string) (*DeploymentConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config DeploymentConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *DeploymentConfig) error {
	if config.Deployment.ID == "" {
		config.Deployment.ID = uuid.NewString()
	}
	if config.Deployment.LogLevel == "" {
		config.Deployment.LogLevel = "info"
	}
	if config.Deployment.ForceShutdownTimeout == 0 {
		config.Deployment.ForceShutdownTimeout = 30 * time.Second
	}

	if config.Install.Python == "" {
		config.Install.Python = installer.DefaultPython
	}
	if config.Serve.Python == "" {
		config.Serve.Python = config.Install.Python
	}
	if config.Serve.Module == "" {
		config.Serve.Module = DefaultServeModule
	}
	if config.Serve.Host == "" {
		config.Serve.Host = DefaultServeHost
	}
	if config.Serve.WaitDelay == 0 {
		config.Serve.WaitDelay = 10 * time.Second
	}

	setHealthCheckDefaults(&config.HealthCheck, config.Serve.Port)

	return nil
}

// setHealthCheckDefaults fills in the health check section. An absent
// section becomes an HTTP probe of the executor health endpoint on the
// loopback interface.
func setHealthCheckDefaults(config *monitoring.HealthCheckConfig, servePort int) {
	if config.Type == "" {
		config.Type = monitoring.HealthCheckTypeHTTP
	}
	if config.Type == monitoring.HealthCheckTypeHTTP && config.HTTP.URL == "" {
		config.HTTP.URL = fmt.Sprintf("http://127.0.0.1:%d/health", servePort)
	}
	if config.Type == monitoring.HealthCheckTypeTCP && config.TCP.Address == "" {
		config.TCP.Address = "127.0.0.1"
	}
	if config.Type == monitoring.HealthCheckTypeTCP && config.TCP.Port == 0 {
		config.TCP.Port = servePort
	}

	if config.RunOptions.Interval == 0 {
		config.RunOptions.Interval = 30 * time.Second
	}
	if config.RunOptions.Timeout == 0 {
		config.RunOptions.Timeout = 10 * time.Second
	}
	if config.RunOptions.Retries == 0 {
		config.RunOptions.Retries = 3
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *DeploymentConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateDeploymentOptions(&config.Deployment); err != nil {
		return errors.NewValidationError("invalid deployment configuration", err)
	}

	if err := installer.ValidateInstallConfig(config.Install); err != nil {
		return errors.NewValidationError("invalid install configuration", err)
	}

	if err := validateServeConfig(&config.Serve); err != nil {
		return errors.NewValidationError("invalid serve configuration", err)
	}

	if err := monitoring.ValidateHealthCheckConfig(config.HealthCheck); err != nil {
		return errors.NewValidationError("invalid health check configuration", err)
	}

	if config.StatusServer != nil {
		if err := ValidatePort(config.StatusServer.Port); err != nil {
			return errors.NewValidationError("invalid status server configuration", err)
		}
		if config.StatusServer.Port == config.Serve.Port {
			return errors.NewValidationError("status server port conflicts with serve port", nil).
				WithContext("port", strconv.Itoa(config.Serve.Port))
		}
	}

	for name := range config.Environment {
		if name == "" || strings.Contains(name, "=") {
			return errors.NewValidationError(
				fmt.Sprintf("invalid environment variable name: %q", name), nil)
		}
	}

	return nil
}

func validateDeploymentOptions(options *DeploymentOptions) error {
	if err := ValidateDeploymentID(options.ID); err != nil {
		return err
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if options.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if options.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			return errors.NewValidationError(
				fmt.Sprintf("invalid log level: %s", options.LogLevel),
				nil,
			).WithContext("valid_levels", "debug, info, warn, error")
		}
	}

	if options.ForceShutdownTimeout < 0 {
		return errors.NewValidationError("force shutdown timeout cannot be negative", nil)
	}

	return nil
}

func validateServeConfig(config *ServeConfig) error {
	if config.FlowFile == "" {
		return errors.NewValidationError("flow file cannot be empty", nil)
	}

	if err := ValidatePort(config.Port); err != nil {
		return err
	}

	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}

	return nil
}

// BuildEnvironment renders the environment section into K=V pairs for the
// executor process, in deterministic (sorted) order. PYTHONPATH entries
// from the serve section are appended to any PYTHONPATH already present in
// the environment map. The rendered slice is the complete deployment
// environment: it is captured once at process start and never mutated
// afterwards.
func BuildEnvironment(config *DeploymentConfig) []string {
	merged := make(map[string]string, len(config.Environment)+1)
	for name, value := range config.Environment {
		merged[name] = value
	}

	if len(config.Serve.PythonPath) > 0 {
		joined := strings.Join(config.Serve.PythonPath, string(os.PathListSeparator))
		if existing := merged[EnvPythonPath]; existing != "" {
			merged[EnvPythonPath] = existing + string(os.PathListSeparator) + joined
		} else {
			merged[EnvPythonPath] = joined
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	environment := make([]string, 0, len(names))
	for _, name := range names {
		environment = append(environment, name+"="+merged[name])
	}
	return environment
}

// ServeCommand builds the execution configuration for the flow executor:
// python -m axf serve <flow-file> --host <host> --port <port>
func ServeCommand(config *DeploymentConfig) process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath: config.Serve.Python,
		Args: []string{
			"-m", config.Serve.Module,
			"serve", config.Serve.FlowFile,
			"--host", config.Serve.Host,
			"--port", strconv.Itoa(config.Serve.Port),
		},
		Environment:      BuildEnvironment(config),
		WorkingDirectory: config.Serve.WorkingDirectory,
		WaitDelay:        config.Serve.WaitDelay,
	}
}
