package deployment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/logging"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// StatusServer exposes the deployment state to operators over HTTP:
// GET /status for a JSON snapshot, GET /healthz for liveness of the
// orchestrator itself, GET /metrics for Prometheus scraping.
type StatusServer struct {
	config       StatusServerConfig
	orchestrator *Orchestrator
	logger       logging.Logger

	registry    *prometheus.Registry
	checksTotal *prometheus.CounterVec

	server *http.Server
}

// NewStatusServer creates a status server for the given orchestrator and
// registers its health check metrics callback. Must be created before the
// orchestrator deploys.
func NewStatusServer(config StatusServerConfig, orchestrator *Orchestrator, logger logging.Logger) *StatusServer {
	registry := prometheus.NewRegistry()

	checksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "axf_deploy_health_checks_total",
		Help: "Health checks performed against the flow executor, by result.",
	}, []string{"result"})

	// Gauges read the orchestrator state at collect time, so scrapes of
	// /metrics see the current state without any other request in between.
	readyGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "axf_deploy_ready",
		Help: "1 when the deployment is in the ready state.",
	}, func() float64 {
		if orchestrator.Status().State == DeploymentStateReady {
			return 1
		}
		return 0
	})

	processGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "axf_deploy_executor_up",
		Help: "1 while the flow executor process is running.",
	}, func() float64 {
		switch orchestrator.Status().State {
		case DeploymentStateRunning, DeploymentStateReady:
			return 1
		}
		return 0
	})

	registry.MustRegister(checksTotal, readyGauge, processGauge)

	s := &StatusServer{
		config:       config,
		orchestrator: orchestrator,
		logger:       logger,
		registry:     registry,
		checksTotal:  checksTotal,
	}

	orchestrator.SetCheckCallback(s.observeHealthCheck)

	return s
}

// Start begins serving in a background goroutine
func (s *StatusServer) Start() error {
	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	corsOptions := cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}
	if len(s.config.AllowedOrigins) > 0 {
		corsOptions.AllowedOrigins = s.config.AllowedOrigins
	}
	handler := cors.New(corsOptions).Handler(router)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Status server listening on port %d", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Status server failed: %v", err)
		}
	}()

	return nil
}

// Stop shuts the status server down gracefully
func (s *StatusServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.orchestrator.Status()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Errorf("Failed to encode status response: %v", err)
	}
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *StatusServer) observeHealthCheck(healthy bool) {
	if healthy {
		s.checksTotal.WithLabelValues("healthy").Inc()
	} else {
		s.checksTotal.WithLabelValues("unhealthy").Inc()
	}
}
