package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/logging"
)

// Default application name used for process file subdirectories
const DefaultAppName = "axf-deploy"

// ProcessFileConfig holds configuration for process file generation (PID files, port files)
type ProcessFileConfig struct {
	// Base directory for process files. If empty, uses OS-appropriate default
	BaseDirectory string `yaml:"base_directory,omitempty"`

	// Service context - affects directory selection
	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	// Application name for subdirectory creation
	AppName string `yaml:"app_name,omitempty"`

	// Create subdirectory for the app (recommended for system services)
	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

// ServiceContext defines the context in which the deployed service runs
type ServiceContext string

const (
	// SystemService runs as a system service (daemon)
	SystemService ServiceContext = "system"

	// UserService runs as a user service
	UserService ServiceContext = "user"
)

// ProcessFileManager generates and manages PID and port files for deployed
// flow-executor processes.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

// NewProcessFileManager creates a new process file manager with the given configuration
func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	if config.ServiceContext == "" {
		config.ServiceContext = SystemService
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath generates an appropriate PID file path for the given deployment ID
func (m *ProcessFileManager) GeneratePIDFilePath(deploymentID string) string {
	baseDir := m.getBaseDirectory()

	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}

	return filepath.Join(baseDir, deploymentID+".pid")
}

// GeneratePortFilePath generates an appropriate port file path for the given deployment ID
func (m *ProcessFileManager) GeneratePortFilePath(deploymentID string) string {
	pidPath := m.GeneratePIDFilePath(deploymentID)
	return strings.TrimSuffix(pidPath, ".pid") + ".port"
}

// WritePIDFile writes the flow executor PID to the appropriate file for the deployment
func (m *ProcessFileManager) WritePIDFile(deploymentID string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(deploymentID)
	m.logger.Debugf("Writing PID file, deployment: %s, pid: %d, path: %s", deploymentID, pid, pidFilePath)

	if err := ValidateProcessFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, deployment: %s, path: %s, error: %v", deploymentID, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, deployment: %s, pid: %d, path: %s, error: %v", deploymentID, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written successfully, deployment: %s, pid: %d, path: %s", deploymentID, pid, pidFilePath)
	return nil
}

// ReadPIDFile reads the flow executor PID back from the deployment's PID file
func (m *ProcessFileManager) ReadPIDFile(deploymentID string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(deploymentID)
	m.logger.Debugf("Reading PID file, deployment: %s, path: %s", deploymentID, pidFilePath)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}

	return pid, nil
}

// WritePortFile writes the service port to a port file
func (m *ProcessFileManager) WritePortFile(deploymentID string, port int) error {
	portPath := m.GeneratePortFilePath(deploymentID)
	m.logger.Debugf("Writing port file, deployment: %s, port: %d, path: %s", deploymentID, port, portPath)

	if err := ValidateProcessFileDirectory(portPath); err != nil {
		m.logger.Errorf("Port file directory validation failed, deployment: %s, path: %s, error: %v", deploymentID, portPath, err)
		return errors.NewIOError("port file directory validation failed", err).WithContext("port_file", portPath)
	}

	portContent := fmt.Sprintf("%d\n", port)
	if err := os.WriteFile(portPath, []byte(portContent), 0644); err != nil {
		m.logger.Errorf("Failed to write port file, deployment: %s, port: %d, path: %s, error: %v", deploymentID, port, portPath, err)
		return errors.NewIOError("failed to write port file", err).WithContext("port_file", portPath).WithContext("port", port)
	}

	m.logger.Infof("Port file written successfully, deployment: %s, port: %d, path: %s", deploymentID, port, portPath)
	return nil
}

// ReadPortFile reads the service port from a port file
func (m *ProcessFileManager) ReadPortFile(deploymentID string) (int, error) {
	portPath := m.GeneratePortFilePath(deploymentID)
	m.logger.Debugf("Reading port file, deployment: %s, path: %s", deploymentID, portPath)

	content, err := os.ReadFile(portPath)
	if err != nil {
		m.logger.Warnf("Failed to read port file, deployment: %s, path: %s, error: %v", deploymentID, portPath, err)
		return 0, errors.NewIOError("failed to read port file", err).WithContext("port_file", portPath)
	}

	portStr := strings.TrimSpace(string(content))
	port, err := strconv.Atoi(portStr)
	if err != nil {
		m.logger.Errorf("Invalid port content in port file, deployment: %s, path: %s, content: %s, error: %v", deploymentID, portPath, portStr, err)
		return 0, errors.NewValidationError("invalid port in port file", err).WithContext("port_file", portPath).WithContext("content", portStr)
	}

	m.logger.Debugf("Port file read successfully, deployment: %s, port: %d, path: %s", deploymentID, port, portPath)
	return port, nil
}

// RemoveProcessFiles deletes the deployment's PID and port files, ignoring
// files that are already gone.
func (m *ProcessFileManager) RemoveProcessFiles(deploymentID string) {
	for _, path := range []string{m.GeneratePIDFilePath(deploymentID), m.GeneratePortFilePath(deploymentID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warnf("Failed to remove process file, deployment: %s, path: %s, error: %v", deploymentID, path, err)
		}
	}
}

// getBaseDirectory returns the appropriate base directory for process files
func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case UserService:
		return m.getUserServiceDirectory()
	default:
		return m.getSystemServiceDirectory()
	}
}

// getSystemServiceDirectory returns the directory for system services
func (m *ProcessFileManager) getSystemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = "C:\\ProgramData"
		}
		return programData

	case "darwin":
		return "/var/run"

	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

// getUserServiceDirectory returns the directory for user services
func (m *ProcessFileManager) getUserServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile != "" {
				localAppData = filepath.Join(userProfile, "AppData", "Local")
			} else {
				localAppData = "C:\\Users\\Default\\AppData\\Local"
			}
		}
		return localAppData

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "/tmp"
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return "/tmp"
	}
}

// ValidateProcessFileDirectory validates that the process file directory exists and is writable
func ValidateProcessFileDirectory(processFilePath string) error {
	dir := filepath.Dir(processFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create process file directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access process file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("process file path is not a directory", nil).WithContext("path", dir)
	}

	// Check if directory is writable
	testFile := filepath.Join(dir, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewPermissionError("process file directory is not writable", err).WithContext("directory", dir)
	} else {
		file.Close()
		os.Remove(testFile)
	}

	return nil
}

// GetRecommendedProcessFileConfig returns recommended process file configuration
// for different deployment scenarios
func GetRecommendedProcessFileConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "system", "daemon", "service":
		return ProcessFileConfig{
			ServiceContext:  SystemService,
			AppName:         appName,
			UseSubdirectory: true,
		}

	case "user", "personal":
		return ProcessFileConfig{
			ServiceContext:  UserService,
			AppName:         appName,
			UseSubdirectory: true,
		}

	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:   filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext:  UserService,
			AppName:         appName,
			UseSubdirectory: false,
		}

	default:
		return ProcessFileConfig{
			ServiceContext:  SystemService,
			AppName:         appName,
			UseSubdirectory: true,
		}
	}
}
