package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateHealthCheckConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    HealthCheckConfig
		shouldErr bool
	}{
		{
			name: "valid_http",
			config: HealthCheckConfig{
				Type:       HealthCheckTypeHTTP,
				HTTP:       HTTPHealthCheckConfig{URL: "http://127.0.0.1:7860/health"},
				RunOptions: fastRunOptions(),
			},
			shouldErr: false,
		},
		{
			name: "http_missing_url",
			config: HealthCheckConfig{
				Type:       HealthCheckTypeHTTP,
				RunOptions: fastRunOptions(),
			},
			shouldErr: true,
		},
		{
			name: "valid_tcp",
			config: HealthCheckConfig{
				Type:       HealthCheckTypeTCP,
				TCP:        TCPHealthCheckConfig{Address: "127.0.0.1", Port: 7860},
				RunOptions: fastRunOptions(),
			},
			shouldErr: false,
		},
		{
			name: "tcp_missing_address",
			config: HealthCheckConfig{
				Type:       HealthCheckTypeTCP,
				TCP:        TCPHealthCheckConfig{Port: 7860},
				RunOptions: fastRunOptions(),
			},
			shouldErr: true,
		},
		{
			name: "tcp_invalid_port",
			config: HealthCheckConfig{
				Type:       HealthCheckTypeTCP,
				TCP:        TCPHealthCheckConfig{Address: "127.0.0.1", Port: 70000},
				RunOptions: fastRunOptions(),
			},
			shouldErr: true,
		},
		{
			name: "valid_process",
			config: HealthCheckConfig{
				Type:       HealthCheckTypeProcess,
				RunOptions: fastRunOptions(),
			},
			shouldErr: false,
		},
		{
			name: "unsupported_type",
			config: HealthCheckConfig{
				Type:       HealthCheckType("grpc"),
				RunOptions: fastRunOptions(),
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHealthCheckConfig(tt.config)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateHealthCheckRunOptions(t *testing.T) {
	tests := []struct {
		name      string
		options   HealthCheckRunOptions
		shouldErr bool
	}{
		{
			name: "valid_options",
			options: HealthCheckRunOptions{
				Interval: 30 * time.Second,
				Timeout:  10 * time.Second,
				Retries:  3,
			},
			shouldErr: false,
		},
		{
			name: "zero_interval",
			options: HealthCheckRunOptions{
				Timeout: 10 * time.Second,
				Retries: 3,
			},
			shouldErr: true,
		},
		{
			name: "zero_timeout",
			options: HealthCheckRunOptions{
				Interval: 30 * time.Second,
				Retries:  3,
			},
			shouldErr: true,
		},
		{
			name: "timeout_exceeds_interval",
			options: HealthCheckRunOptions{
				Interval: 10 * time.Second,
				Timeout:  30 * time.Second,
				Retries:  3,
			},
			shouldErr: true,
		},
		{
			name: "zero_retries",
			options: HealthCheckRunOptions{
				Interval: 30 * time.Second,
				Timeout:  10 * time.Second,
			},
			shouldErr: true,
		},
		{
			name: "negative_initial_delay",
			options: HealthCheckRunOptions{
				Interval:     30 * time.Second,
				Timeout:      10 * time.Second,
				Retries:      3,
				InitialDelay: -1 * time.Second,
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHealthCheckRunOptions(tt.options)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
