package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mediafetch/backend/internal/methodhealth"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// MethodsHealth summarizes the extraction method breakers
type MethodsHealth struct {
	Total    int      `json:"total"`
	Disabled []string `json:"disabled"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Methods    *MethodsHealth             `json:"methods,omitempty"`
}

// Probe checks one dependency. A failing required probe makes the service
// unhealthy; a failing optional one only degrades it.
type Probe struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

// Checker performs health checks on various components
type Checker struct {
	probes       []Probe
	methods      *methodhealth.Checker
	methodNames  []string
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	Probes []Probe
	// Methods and MethodNames feed the breaker summary; both are optional
	Methods     *methodhealth.Checker
	MethodNames []string
	Version     string
	Timeout     time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		probes:       lo.Filter(cfg.Probes, func(p Probe, _ int) bool { return p.Check != nil }),
		methods:      cfg.Methods,
		methodNames:  cfg.MethodNames,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

func (c *Checker) run(ctx context.Context, p Probe) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		status := StatusDegraded
		if p.Required {
			status = StatusUnhealthy
		}
		return ComponentHealth{
			Status:   status,
			Message:  p.Name + " check failed",
			Duration: time.Since(start).String(),
		}
	}
	return ComponentHealth{Status: StatusHealthy, Duration: time.Since(start).String()}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck performs a comprehensive health check (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(c.probes)),
	}

	// Run checks in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range c.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.run(ctx, p)
			mu.Lock()
			response.Components[p.Name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded {
			response.Status = StatusDegraded
		}
	}

	if c.methods != nil {
		response.Methods = c.methodSummary()
		// every method of a chain down still leaves the API up
		if len(response.Methods.Disabled) > 0 && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

func (c *Checker) methodSummary() *MethodsHealth {
	summary := &MethodsHealth{Total: len(c.methodNames), Disabled: []string{}}
	for _, name := range c.methodNames {
		if s, _ := c.methods.Stats(name); s.State == methodhealth.StateDisabled {
			summary.Disabled = append(summary.Disabled, name)
		}
	}
	return summary
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.Check(r.Context()))
}

// ReadinessHandler handles readiness probe requests. Degraded still
// accepts traffic.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, h.checker.DeepCheck(r.Context()))
}

// HealthHandler serves /health; ?deep=true runs the readiness checks
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeHealth(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}
