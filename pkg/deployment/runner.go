package deployment

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/logging"
)

// Run loads configuration from the given file and drives a full deployment
// lifecycle: install, start, wait for ready, then hold until a signal, a
// fatal failure, or the optional run duration elapses. On the way out the
// deployment is stopped gracefully.
func Run(runDuration int, configFile string, logger logging.Logger) error {
	logger.Infof("Deployment runner starting...")

	ctx := context.Background()
	var cancel context.CancelFunc
	if runDuration > 0 {
		duration := time.Duration(runDuration) * time.Second
		logger.Infof("Using RUN DURATION of %v", duration)
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Infof("Using CONFIGURATION FILE: %s", configFile)

	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	logger.Infof("Configuration loaded successfully from %s", configFile)
	logger.Infof("Deployment ID: %s, flow: %s, serve port: %d",
		config.Deployment.ID, config.Serve.FlowFile, config.Serve.Port)

	orchestrator := NewOrchestrator(config, logger)

	var statusServer *StatusServer
	if config.StatusServer != nil {
		statusServer = NewStatusServer(*config.StatusServer, orchestrator, logger)
		if err := statusServer.Start(); err != nil {
			return errors.NewInternalError("failed to start status server", err)
		}
		defer statusServer.Stop(context.Background())
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	deployErr := orchestrator.Deploy(ctx)
	if deployErr != nil {
		logger.Errorf("Deployment failed: %v", deployErr)
		orchestrator.Stop(context.Background())
		return deployErr
	}

	logger.Infof("Deployment is fully operational")

	// Hold until something ends the deployment
	var runErr error
	select {
	case receivedSignal := <-sig:
		logger.Infof("Deployment runner received signal: %v", receivedSignal)
	case err := <-orchestrator.Failed():
		logger.Errorf("Deployment failed while running: %v", err)
		runErr = err
	case <-ctx.Done():
		logger.Infof("Deployment runner timed out")
	}

	logger.Infof("Ready to stop deployment...")

	// Reset context to background to enable graceful shutdown
	if err := orchestrator.Stop(context.Background()); err != nil {
		logger.Errorf("Deployment shutdown reported an error: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	logger.Infof("Deployment runner stopped")

	return runErr
}

// ValidateConfigFile validates a configuration file without loading/running
// This is useful for configuration testing and CI/CD validation
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}
