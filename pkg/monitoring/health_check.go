package monitoring

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/logging"
	"github.com/flow-tools/axf-deploy/pkg/processstate"
)

type HealthCheckType string

const (
	HealthCheckTypeHTTP    HealthCheckType = "http"
	HealthCheckTypeTCP     HealthCheckType = "tcp"
	HealthCheckTypeProcess HealthCheckType = "process"
)

type HTTPHealthCheckConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type TCPHealthCheckConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	// HTTP health check
	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`

	// TCP health check
	TCP TCPHealthCheckConfig `yaml:"tcp,omitempty"`

	// Run options
	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

type HealthCheckRunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
	Retries      int           `yaml:"retries,omitempty"`
}

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusDegraded  HealthCheckStatus = "degraded"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus
	Ready                bool
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// ReadyCallback is called once, on the first successful check
type ReadyCallback func()

// UnhealthyCallback is called once, after the retry budget is exhausted.
// The deployment never recovers on its own from this point; remediation is
// operator-driven.
type UnhealthyCallback func(reason string)

// CheckCallback is called after every check with its outcome, for metrics
type CheckCallback func(healthy bool)

type HealthMonitor interface {
	Start() error
	Stop()
	State() *HealthCheckState
	SetReadyCallback(callback ReadyCallback)
	SetUnhealthyCallback(callback UnhealthyCallback)
	SetCheckCallback(callback CheckCallback)
}

type healthMonitor struct {
	config            *HealthCheckConfig
	state             *HealthCheckState
	stopChan          chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup
	mutex             sync.Mutex
	logger            logging.Logger
	id                string
	pid               int
	readyCallback     ReadyCallback
	unhealthyCallback UnhealthyCallback
	checkCallback     CheckCallback
	unhealthyReported bool
}

// NewHealthMonitor creates a health monitor for the given deployment ID.
// The PID is used by process-type checks and ignored otherwise.
func NewHealthMonitor(config *HealthCheckConfig, id string, pid int, logger logging.Logger) HealthMonitor {
	return &healthMonitor{
		config:   config,
		state:    &HealthCheckState{Status: HealthCheckStatusUnknown},
		stopChan: make(chan struct{}),
		logger:   logger,
		id:       id,
		pid:      pid,
	}
}

func (h *healthMonitor) Start() error {
	h.logger.Infof("Starting health monitor, id: %s, type: %s, interval: %v, timeout: %v, retries: %d",
		h.id, h.config.Type, h.config.RunOptions.Interval, h.config.RunOptions.Timeout, h.config.RunOptions.Retries)

	if err := ValidateHealthCheckConfig(*h.config); err != nil {
		h.logger.Errorf("Health check configuration validation failed, id: %s, error: %v", h.id, err)
		return errors.NewValidationError("invalid health check configuration", err).WithContext("id", h.id)
	}

	h.wg.Add(1)
	go h.loop()
	return nil
}

func (h *healthMonitor) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Infof("Stopping health monitor, id: %s", h.id)
		close(h.stopChan)
		h.wg.Wait()
		h.logger.Infof("Health monitor stopped, id: %s", h.id)
	})
}

func (h *healthMonitor) State() *HealthCheckState {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	// Return a copy to avoid race conditions
	stateCopy := *h.state
	return &stateCopy
}

func (h *healthMonitor) SetReadyCallback(callback ReadyCallback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.readyCallback = callback
}

func (h *healthMonitor) SetUnhealthyCallback(callback UnhealthyCallback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.unhealthyCallback = callback
}

func (h *healthMonitor) SetCheckCallback(callback CheckCallback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.checkCallback = callback
}

func (h *healthMonitor) loop() {
	defer h.wg.Done()

	if h.config.Type == "" {
		h.logger.Debugf("Health monitor loop is disabled due to empty type, id: %s", h.id)
		return
	}

	h.logger.Debugf("Health monitor loop started, id: %s", h.id)

	// Initial delay before first check
	if h.config.RunOptions.InitialDelay > 0 {
		h.logger.Debugf("Health monitor initial delay, id: %s, delay: %v", h.id, h.config.RunOptions.InitialDelay)
		select {
		case <-time.After(h.config.RunOptions.InitialDelay):
		case <-h.stopChan:
			h.logger.Debugf("Health monitor stopped during initial delay, id: %s", h.id)
			return
		}
	}

	ticker := time.NewTicker(h.config.RunOptions.Interval)
	defer ticker.Stop()

	// Perform initial check
	h.performCheck()

	for {
		select {
		case <-ticker.C:
			h.performCheck()
		case <-h.stopChan:
			h.logger.Debugf("Health monitor loop stopping, id: %s", h.id)
			return
		}
	}
}

func (h *healthMonitor) performCheck() {
	h.logger.Debugf("Performing health check, id: %s, type: %s", h.id, h.config.Type)

	h.mutex.Lock()
	h.state.LastCheck = time.Now()
	h.mutex.Unlock()

	var isHealthy bool
	var message string

	switch h.config.Type {
	case HealthCheckTypeHTTP:
		isHealthy, message = h.checkHTTP()
	case HealthCheckTypeTCP:
		isHealthy, message = h.checkTCP()
	case HealthCheckTypeProcess:
		isHealthy, message = h.checkProcess()
	default:
		isHealthy = false
		message = "Unknown health check type: " + string(h.config.Type)
		h.logger.Errorf("Unknown health check type, id: %s, type: %s", h.id, h.config.Type)
	}

	h.updateState(isHealthy, message)
}

func (h *healthMonitor) updateState(isHealthy bool, message string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	previousStatus := h.state.Status
	checkCallback := h.checkCallback

	if isHealthy {
		h.state.ConsecutiveSuccesses++
		h.state.ConsecutiveFailures = 0
		h.state.Status = HealthCheckStatusHealthy

		if !h.state.Ready {
			h.state.Ready = true
			h.logger.Infof("Health check passed for the first time, id: %s, deployment is ready", h.id)
			if h.readyCallback != nil {
				// Call in goroutine to avoid blocking the check loop
				go h.readyCallback()
			}
		} else if previousStatus != HealthCheckStatusHealthy {
			h.logger.Infof("Health check recovered, id: %s, previous: %s, consecutive_successes: %d",
				h.id, previousStatus, h.state.ConsecutiveSuccesses)
		} else {
			h.logger.Debugf("Health check passed, id: %s, consecutive_successes: %d",
				h.id, h.state.ConsecutiveSuccesses)
		}
	} else {
		h.state.ConsecutiveFailures++
		h.state.ConsecutiveSuccesses = 0

		var newStatus HealthCheckStatus
		if h.state.ConsecutiveFailures < h.config.RunOptions.Retries {
			newStatus = HealthCheckStatusDegraded
		} else {
			newStatus = HealthCheckStatusUnhealthy
		}

		if h.state.Status != newStatus {
			h.state.Status = newStatus
			h.logger.Warnf("Health check status changed, id: %s, status: %s->%s, consecutive_failures: %d, message: %s",
				h.id, previousStatus, newStatus, h.state.ConsecutiveFailures, message)
		} else {
			h.logger.Warnf("Health check failed, id: %s, status: %s, consecutive_failures: %d, message: %s",
				h.id, h.state.Status, h.state.ConsecutiveFailures, message)
		}

		// Retry budget exhausted: report once, remediation is operator-driven
		if newStatus == HealthCheckStatusUnhealthy && !h.unhealthyReported {
			h.unhealthyReported = true
			if h.unhealthyCallback != nil {
				reason := fmt.Sprintf("health check failed %d consecutive times: %s", h.state.ConsecutiveFailures, message)
				go h.unhealthyCallback(reason)
			}
		}
	}

	h.state.Message = message

	if checkCallback != nil {
		go checkCallback(isHealthy)
	}
}

func (h *healthMonitor) checkHTTP() (bool, string) {
	h.logger.Debugf("Performing HTTP health check, id: %s, url: %s", h.id, h.config.HTTP.URL)

	client := &http.Client{
		Timeout: h.config.RunOptions.Timeout,
	}

	method := h.config.HTTP.Method
	if method == "" {
		method = "GET"
	}

	req, err := http.NewRequest(method, h.config.HTTP.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("Failed to create HTTP request: %v", err)
	}

	for key, value := range h.config.HTTP.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	// Consider 2xx status codes as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, fmt.Sprintf("HTTP health check passed: %d %s", resp.StatusCode, resp.Status)
	}

	return false, fmt.Sprintf("HTTP health check failed: %d %s", resp.StatusCode, resp.Status)
}

func (h *healthMonitor) checkTCP() (bool, string) {
	h.logger.Debugf("Performing TCP health check, id: %s, address: %s, port: %d",
		h.id, h.config.TCP.Address, h.config.TCP.Port)

	address := fmt.Sprintf("%s:%d", h.config.TCP.Address, h.config.TCP.Port)

	conn, err := net.DialTimeout("tcp", address, h.config.RunOptions.Timeout)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	defer conn.Close()

	return true, fmt.Sprintf("TCP connection successful to %s", address)
}

func (h *healthMonitor) checkProcess() (bool, string) {
	h.logger.Debugf("Performing process health check, id: %s, PID: %d", h.id, h.pid)

	isRunning, err := processstate.IsProcessRunning(h.pid)
	if err != nil {
		return false, fmt.Sprintf("Process check failed: PID %d, error: %v", h.pid, err)
	}
	if !isRunning {
		return false, fmt.Sprintf("Process not running: PID %d", h.pid)
	}

	return true, fmt.Sprintf("Process is running: PID %d", h.pid)
}
