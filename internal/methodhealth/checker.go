// Package methodhealth tracks the health of individual extraction methods and
// temporarily disables methods that keep failing.
//
// State is in-memory and per process. Several server replicas each learn
// independently; nothing is shared between them.
package methodhealth

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
)

// State is the breaker state of a method
type State string

const (
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Config holds configuration for the checker
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Clock            Clock
}

// Stats is a point-in-time view of one method's health
type Stats struct {
	Method              string     `json:"method"`
	State               State      `json:"state"`
	SuccessCount        uint64     `json:"success_count"`
	FailureCount        uint64     `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	SuccessRate         float64    `json:"success_rate"`
	DisabledUntil       *time.Time `json:"disabled_until,omitempty"`
	LastAttempt         *time.Time `json:"last_attempt,omitempty"`
}

// record is the mutable health state of one method
type record struct {
	enabled             bool
	successCount        uint64
	failureCount        uint64
	consecutiveFailures int
	disabledUntil       time.Time
	lastAttempt         time.Time
}

// Checker is a circuit breaker keyed by method name
type Checker struct {
	mu        sync.Mutex
	methods   map[string]*record
	threshold int
	cooldown  time.Duration
	now       Clock
	onChange  func(method string, state State)
}

// NewChecker creates a new checker. Zero config values fall back to the defaults.
func NewChecker(cfg *Config) *Checker {
	c := &Checker{
		methods:   make(map[string]*record),
		threshold: DefaultFailureThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
	}
	if cfg == nil {
		return c
	}
	if cfg.FailureThreshold > 0 {
		c.threshold = cfg.FailureThreshold
	}
	if cfg.Cooldown > 0 {
		c.cooldown = cfg.Cooldown
	}
	if cfg.Clock != nil {
		c.now = cfg.Clock
	}
	return c
}

// OnStateChange registers a callback fired whenever a method is disabled or
// re-enabled. It runs with the checker's lock released.
func (c *Checker) OnStateChange(fn func(method string, state State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// RecordAttempt records the outcome of one extraction attempt
func (c *Checker) RecordAttempt(method string, success bool) {
	c.mu.Lock()

	now := c.now()
	r := c.get(method)
	r.lastAttempt = now

	var changed State
	if success {
		r.successCount++
		r.consecutiveFailures = 0
		// a method that demonstrably works is re-enabled even inside its cooldown
		if !r.enabled {
			r.enabled = true
			r.disabledUntil = time.Time{}
			changed = StateEnabled
		}
	} else {
		r.failureCount++
		r.consecutiveFailures++
		if r.enabled && r.consecutiveFailures >= c.threshold {
			r.enabled = false
			r.disabledUntil = now.Add(c.cooldown)
			changed = StateDisabled
		}
	}

	notify := c.onChange
	c.mu.Unlock()

	if changed != "" && notify != nil {
		notify(method, changed)
	}
}

// IsMethodAvailable reports whether a method may run. A disabled method whose
// cooldown has elapsed is re-enabled here.
func (c *Checker) IsMethodAvailable(method string) bool {
	c.mu.Lock()

	r, ok := c.methods[method]
	if !ok || r.enabled {
		c.mu.Unlock()
		return true
	}
	if c.now().Before(r.disabledUntil) {
		c.mu.Unlock()
		return false
	}

	// consecutiveFailures is left as is, so the first failure after the
	// cooldown disables the method again
	r.enabled = true
	r.disabledUntil = time.Time{}
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(method, StateEnabled)
	}
	return true
}

// Stats returns the stats of a method; ok is false if it was never attempted
func (c *Checker) Stats(method string) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.methods[method]
	if !ok {
		return Stats{Method: method, State: StateEnabled}, false
	}
	return c.snapshot(method, r), true
}

// AllStats returns the stats of every known method sorted by name
func (c *Checker) AllStats() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Stats, 0, len(c.methods))
	for name, r := range c.methods {
		out = append(out, c.snapshot(name, r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// Reset clears a method's history entirely. Returns false if the method was unknown.
func (c *Checker) Reset(method string) bool {
	c.mu.Lock()
	_, ok := c.methods[method]
	delete(c.methods, method)
	notify := c.onChange
	c.mu.Unlock()

	if ok && notify != nil {
		notify(method, StateEnabled)
	}
	return ok
}

func (c *Checker) get(method string) *record {
	r, ok := c.methods[method]
	if !ok {
		r = &record{enabled: true}
		c.methods[method] = r
	}
	return r
}

func (c *Checker) snapshot(method string, r *record) Stats {
	s := Stats{
		Method:              method,
		State:               StateEnabled,
		SuccessCount:        r.successCount,
		FailureCount:        r.failureCount,
		ConsecutiveFailures: r.consecutiveFailures,
	}
	if total := r.successCount + r.failureCount; total > 0 {
		s.SuccessRate = float64(r.successCount) / float64(total)
	}
	// a lapsed cooldown reads as enabled before the next availability check
	if !r.enabled && c.now().Before(r.disabledUntil) {
		s.State = StateDisabled
		until := r.disabledUntil
		s.DisabledUntil = &until
	}
	if !r.lastAttempt.IsZero() {
		last := r.lastAttempt
		s.LastAttempt = &last
	}
	return s
}
