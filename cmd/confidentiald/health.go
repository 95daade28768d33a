// health.go - Health monitoring for the daemon
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gitteri/confidential-balances-exploration/internal/settlement"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ErrDegraded marks a check result as degraded rather than unhealthy.
var ErrDegraded = errors.New("degraded")

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthChecker runs registered component checks.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checkers   map[string]func(context.Context) error
	startTime  time.Time
	version    string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]func(context.Context) error),
		startTime:  time.Now(),
		version:    version,
	}
}

// RegisterComponent registers a check. A check returning an error wrapping
// ErrDegraded degrades the component; any other error makes it unhealthy.
func (hc *HealthChecker) RegisterComponent(name string, checker func(context.Context) error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{Name: name, Status: Healthy, Message: "registered", LastCheck: time.Now()}
	hc.checkers[name] = checker
}

// CheckHealth runs every check and aggregates the result.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for name, component := range hc.components {
		start := time.Now()
		err := hc.checkers[name](ctx)
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()

		switch {
		case err == nil:
			component.Status, component.Message = Healthy, "OK"
		case errors.Is(err, ErrDegraded):
			component.Status, component.Message = Degraded, err.Error()
		default:
			component.Status, component.Message = Unhealthy, err.Error()
		}

		if component.Status == Unhealthy {
			overall = Unhealthy
		} else if component.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *component)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// ServeHTTP reports health as JSON; unhealthy answers 503.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := hc.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if health.OverallStatus == Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// registerLedgerChecks adds the checks of a local ledger: store liveness,
// slot progress, and the number of open contexts, which degrades health
// above maxOpen.
func registerLedgerChecks(hc *HealthChecker, l *settlement.Ledger, interval time.Duration, maxOpen int) {
	hc.RegisterComponent("store", func(context.Context) error {
		return l.Ping()
	})

	var mu sync.Mutex
	lastSlot, lastMove := l.Slot(), time.Now()
	hc.RegisterComponent("slots", func(ctx context.Context) error {
		fresh, err := l.Freshness(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if fresh.Slot != lastSlot {
			lastSlot, lastMove = fresh.Slot, time.Now()
			return nil
		}
		if interval > 0 && time.Since(lastMove) > 10*interval {
			return errors.Wrapf(ErrDegraded, "slot %d has not advanced for %s", fresh.Slot, time.Since(lastMove).Round(time.Second))
		}
		return nil
	})

	hc.RegisterComponent("contexts", func(context.Context) error {
		open, err := l.OpenContexts()
		if err != nil {
			return err
		}
		if len(open) > maxOpen {
			return errors.Wrapf(ErrDegraded, "%d contexts open", len(open))
		}
		return nil
	})
}
