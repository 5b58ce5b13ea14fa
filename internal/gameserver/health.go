package gameserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Checker reports whether one dependency is usable.
type Checker func(ctx context.Context) error

// Health runs named checks and publishes the result both to a gRPC health
// server and to the HTTP /healthz endpoint. The overall service ("") is
// SERVING only when every check passes.
type Health struct {
	logger  *zap.Logger
	timeout time.Duration
	grpc    *health.Server

	mu     sync.Mutex
	names  []string
	checks map[string]Checker
}

// NewHealth creates a Health whose checks are each bounded by timeout.
//
// Precondition: logger must be non-nil; timeout must be > 0.
func NewHealth(logger *zap.Logger, timeout time.Duration) *Health {
	return &Health{
		logger:  logger,
		timeout: timeout,
		grpc:    health.NewServer(),
		checks:  make(map[string]Checker),
	}
}

// Register adds a named check. Registering a name twice replaces the check.
func (h *Health) Register(name string, check Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
		sort.Strings(h.names)
	}
	h.checks[name] = check
}

// GRPC returns the health server to register on a grpc.Server.
func (h *Health) GRPC() *health.Server {
	return h.grpc
}

// Check runs every check and updates the gRPC serving status.
//
// Postcondition: The returned map has one entry per registered check; a nil
// value means the check passed.
func (h *Health) Check(ctx context.Context) map[string]error {
	h.mu.Lock()
	names := append([]string(nil), h.names...)
	checks := make(map[string]Checker, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.Unlock()

	results := make(map[string]error, len(names))
	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := checks[name](cctx)
		cancel()

		results[name] = err
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		h.grpc.SetServingStatus(name, status)
	}
	h.grpc.SetServingStatus("", overall)
	return results
}

// Watch re-runs the checks every interval until ctx is cancelled.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.grpc.Shutdown()
			return
		case <-ticker.C:
			for name, err := range h.Check(ctx) {
				if err != nil {
					h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				}
			}
		}
	}
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServeHTTP reports the checks as JSON: 200 when all pass, 503 otherwise.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: "ok", Checks: make(map[string]string)}
	code := http.StatusOK
	for name, err := range h.Check(r.Context()) {
		if err != nil {
			report.Checks[name] = err.Error()
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		report.Checks[name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
