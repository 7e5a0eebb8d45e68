package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the state of one component or of the whole daemon.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// severity orders statuses so the worst component wins.
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusOK:
		return 0
	case HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthReport is the body served on /health.
type HealthReport struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthCheckFunc checks one component. It must honour ctx.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// HealthChecker runs the registered checks of sealboxd.
type HealthChecker struct {
	version string
	started time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheckFunc
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		started: time.Now(),
		checks:  make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck adds or replaces the check called name.
func (hc *HealthChecker) RegisterCheck(name string, check HealthCheckFunc) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
}

// Check runs every check concurrently and reports the worst status.
func (hc *HealthChecker) Check(ctx context.Context) HealthReport {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make([]ComponentHealth, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check HealthCheckFunc) {
			defer wg.Done()
			results[i] = check(ctx)
		}(i, hc.checks[name])
	}
	hc.mu.RUnlock()
	wg.Wait()

	report := HealthReport{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.started).Seconds()),
		Checks:        make(map[string]ComponentHealth, len(names)),
	}
	for i, name := range names {
		report.Checks[name] = results[i]
		if results[i].Status.severity() > report.Status.severity() {
			report.Status = results[i].Status
		}
	}
	return report
}

// Handler serves the report as JSON. Only an unhealthy daemon answers 503.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := hc.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// ListenerCheck reports whether the QUIC accept loop on addr is running.
func ListenerCheck(addr string, accepting func() bool) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if !accepting() {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "accept loop stopped on " + addr}
		}
		return ComponentHealth{Status: HealthStatusOK, Message: "accepting on " + addr}
	}
}

// PingCheck wraps a store ping (Bolt or SQLite). Pings slower than 50ms
// report degraded.
func PingCheck(name string, ping func(ctx context.Context) error) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		h := ComponentHealth{LatencyMS: time.Since(start).Milliseconds()}

		switch {
		case err != nil:
			h.Status, h.Message = HealthStatusUnhealthy, fmt.Sprintf("%s: %v", name, err)
		case h.LatencyMS >= 50:
			h.Status, h.Message = HealthStatusDegraded, name+" slow"
		default:
			h.Status, h.Message = HealthStatusOK, name+" responsive"
		}
		return h
	}
}

// DataDirCheck verifies that new blobs can be created under path.
func DataDirCheck(path string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		f, err := os.CreateTemp(path, ".health-*")
		if err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("data dir not writable: %v", err)}
		}
		f.Close()
		os.Remove(f.Name())
		return ComponentHealth{Status: HealthStatusOK, Message: path + " writable"}
	}
}
