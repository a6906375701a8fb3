package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/kvmigrate/pkg/types"
)

// Status values reported by /health and /ready
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the JSON body served by /health and /ready
type HealthStatus struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Databases map[string]ComponentHealth `json:"databases,omitempty"`
	Message   string                     `json:"message,omitempty"`
	Version   string                     `json:"version,omitempty"`
	Uptime    string                     `json:"uptime"`
}

// ComponentHealth is the last reported state of one database migrator
type ComponentHealth struct {
	Healthy bool      `json:"healthy"`
	Message string    `json:"message,omitempty"`
	Updated time.Time `json:"updated"`
}

// healthBoard collects component states pushed by the Collector
type healthBoard struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	started    time.Time
	version    string
}

func newHealthBoard(version string) *healthBoard {
	return &healthBoard{
		components: make(map[string]ComponentHealth),
		started:    time.Now(),
		version:    version,
	}
}

var board = newHealthBoard("")

// SetVersion sets the version string reported by the health endpoints
func SetVersion(version string) {
	board.mu.Lock()
	defer board.mu.Unlock()
	board.version = version
}

// SetComponent records the state of a component, replacing any earlier one
func SetComponent(name string, healthy bool, message string) {
	board.mu.Lock()
	defer board.mu.Unlock()
	board.components[name] = ComponentHealth{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// DatabaseComponent names the health component of a logical database
func DatabaseComponent(db types.LogicalDatabase) string {
	return "db:" + db.String()
}

// GetHealth is unhealthy as soon as any database reports a problem
func GetHealth() HealthStatus {
	status, unhealthy := board.snapshot()
	status.Status = StatusHealthy
	if len(unhealthy) > 0 {
		status.Status = StatusUnhealthy
		status.Message = "unhealthy: " + strings.Join(unhealthy, ", ")
	}
	return status
}

// GetReadiness is ready once at least one database migrator has registered
// and every registered one is connected
func GetReadiness() HealthStatus {
	status, unhealthy := board.snapshot()
	switch {
	case len(status.Databases) == 0:
		status.Status = StatusNotReady
		status.Message = "waiting for database migrators to start"
	case len(unhealthy) > 0:
		status.Status = StatusNotReady
		status.Message = "waiting for " + strings.Join(unhealthy, ", ")
	default:
		status.Status = StatusReady
	}
	return status
}

// snapshot copies the board and lists unhealthy components in name order
func (b *healthBoard) snapshot() (HealthStatus, []string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dbs := make(map[string]ComponentHealth, len(b.components))
	var unhealthy []string
	for name, comp := range b.components {
		dbs[name] = comp
		if !comp.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)

	return HealthStatus{
		Timestamp: time.Now(),
		Databases: dbs,
		Version:   b.version,
		Uptime:    time.Since(b.started).Round(time.Second).String(),
	}, unhealthy
}

func writeStatus(w http.ResponseWriter, status HealthStatus, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// HealthHandler serves /health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		writeStatus(w, health, health.Status == StatusHealthy)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		writeStatus(w, readiness, readiness.Status == StatusReady)
	}
}

// LivenessHandler serves /live, which answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		board.mu.RLock()
		uptime := time.Since(board.started).Round(time.Second).String()
		board.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive", "uptime": uptime})
	}
}
