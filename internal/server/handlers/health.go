package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	apperrors "github.com/fairwayhq/fairway/internal/errors"
	"github.com/fairwayhq/fairway/internal/metrics"
)

// Check results reported per registered checker
const (
	CheckHealthy   = "healthy"
	CheckUnhealthy = "unhealthy"
	CheckDegraded  = "degraded"
	CheckTimeout   = "timeout"
)

// HealthResponse is the body of a successful aggregate health check.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse is the body of a successful kubernetes-style probe.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is a component that can report its own health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// probe describes one health endpoint. Liveness runs no checkers.
type probe struct {
	name      string
	timeout   time.Duration
	runChecks bool
}

var (
	aggregateProbe = probe{name: "aggregate", timeout: 5 * time.Second, runChecks: true}
	livenessProbe  = probe{name: "live", timeout: 2 * time.Second}
	readinessProbe = probe{name: "ready", timeout: 5 * time.Second, runChecks: true}
	startupProbe   = probe{name: "startup", timeout: 3 * time.Second, runChecks: true}
)

// HealthManager holds named checkers and serves the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{checkers: make(map[string]HealthChecker), version: version}
}

// RegisterChecker adds checker under name, replacing any previous one.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	hm.checkers[name] = checker
	hm.mu.Unlock()
}

func (hm *HealthManager) snapshot() map[string]HealthChecker {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	out := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		out[name] = checker
	}
	return out
}

// runHealthChecks runs checkers in name order. Once ctx is done the
// remaining checkers are reported as timed out without being called.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	checkers := hm.snapshot()
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	slices.Sort(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			results[name] = CheckTimeout
			continue
		}
		start := time.Now()
		err := checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))
		results[name] = CheckHealthy
		if err != nil {
			results[name] = CheckUnhealthy
		}
	}
	return results
}

// determineOverallStatus is unhealthy if any check failed, degraded if any
// timed out, else healthy.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := CheckHealthy
	for _, result := range checks {
		switch result {
		case CheckUnhealthy:
			return CheckUnhealthy
		case CheckDegraded, CheckTimeout:
			overall = CheckDegraded
		}
	}
	return overall
}

func (hm *HealthManager) evaluate(r *http.Request, p probe) (string, map[string]string) {
	if !p.runChecks {
		return CheckHealthy, nil
	}
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()
	checks := hm.runHealthChecks(ctx)
	return hm.determineOverallStatus(checks), checks
}

// HealthHandler serves the aggregate report including every check result.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks := hm.evaluate(r, aggregateProbe)
	if status == CheckUnhealthy {
		respondUnhealthy(w, r, aggregateProbe.name, "aggregate health check failed", status, checks)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, livenessProbe)
}

// ReadinessHandler reports whether every checker passes.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, readinessProbe)
}

// StartupHandler reports whether initialization has completed.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, startupProbe)
}

func (hm *HealthManager) serveProbe(w http.ResponseWriter, r *http.Request, p probe) {
	status, checks := hm.evaluate(r, p)
	if status == CheckUnhealthy {
		respondUnhealthy(w, r, p.name, p.name+" probe failed", status, checks)
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

// respondUnhealthy writes a 503 whose details list every check result and
// whose logged context names the failing checks.
func respondUnhealthy(w http.ResponseWriter, r *http.Request, probeName, message, status string, checks map[string]string) {
	details := map[string]interface{}{"status": status, "probe": probeName}
	if len(checks) > 0 {
		details["checks"] = checks
	}

	var failing []string
	for name, result := range checks {
		if result != CheckHealthy {
			failing = append(failing, name)
		}
	}
	slices.Sort(failing)

	envelope := apperrors.NewServiceUnavailableError(message).WithDetails(details)
	if len(failing) > 0 {
		if withContext, err := envelope.WithContext(map[string]interface{}{"unhealthy_checks": failing}); err == nil {
			envelope = withContext
		}
	}
	apperrors.RespondWithEnvelope(w, r, envelope)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var globalHealthManager *HealthManager

// InitHealthManager installs the manager behind the package-level handlers.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the installed manager, or nil before InitHealthManager.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(probeName string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hm := globalHealthManager; hm != nil {
			serve(hm, w, r)
			return
		}
		respondUnhealthy(w, r, probeName, "health manager not initialized", "unknown", nil)
	}
}

// Handlers bound to the installed manager
var (
	HealthHandler    = withGlobalManager(aggregateProbe.name, (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobalManager(livenessProbe.name, (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager(readinessProbe.name, (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager(startupProbe.name, (*HealthManager).StartupHandler)
)
