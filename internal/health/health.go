// Package health runs component checks for the focusd daemon and folds
// them into one status.
//
// Checks run concurrently, each under its own timeout, and a panicking
// check reports unhealthy instead of taking the daemon down. A critical
// component that fails makes the daemon unhealthy; any other failure only
// degrades it.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the component has not been checked.
	StatusUnknown Status = "unknown"
)

// DefaultTimeout bounds a check registered without a timeout.
const DefaultTimeout = 5 * time.Second

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status         `json:"status" yaml:"status"`
	Message     string         `json:"message,omitempty" yaml:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked" yaml:"last_checked"`
	Duration    time.Duration  `json:"duration_ns" yaml:"duration_ns"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Check performs one health check.
type Check func(ctx context.Context) CheckResult

// Component is a named, health-checkable part of the daemon.
type Component struct {
	Name     string
	Critical bool // failure makes the overall status unhealthy
	Check    Check
	Timeout  time.Duration
}

// Checker manages health checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	startTime  time.Time
	ready      bool
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		startTime:  time.Now(),
	}
}

// Register adds a component, replacing one of the same name.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout <= 0 {
		component.Timeout = DefaultTimeout
	}
	c.components[component.Name] = component
	c.results[component.Name] = CheckResult{Status: StatusUnknown}
}

// RegisterFunc registers check under name with the default timeout.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// SetReady sets the readiness state.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every registered check and returns the fresh results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, comp := range components {
		comp := comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := run(ctx, comp)

			rmu.Lock()
			results[comp.Name] = result
			rmu.Unlock()

			c.mu.Lock()
			if _, ok := c.components[comp.Name]; ok {
				c.results[comp.Name] = result
			}
			c.mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprint(r),
				}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   ctx.Err().Error(),
		}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// Results returns the last result of every component.
func (c *Checker) Results() map[string]CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CheckResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// OverallStatus folds the last results into one status.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false

	for name, result := range c.results {
		comp := c.components[name]
		if comp == nil {
			continue
		}

		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	if hasUnknown {
		return StatusUnknown
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Report is a full health snapshot.
type Report struct {
	Status     Status                 `json:"status" yaml:"status"`
	Ready      bool                   `json:"ready" yaml:"ready"`
	Uptime     time.Duration          `json:"uptime" yaml:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty" yaml:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp" yaml:"timestamp"`
}

// Names returns the component names of the report in order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Components))
	for n := range r.Components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Report runs every check and returns the resulting snapshot.
func (c *Checker) Report(ctx context.Context) Report {
	components := c.Check(ctx)

	c.mu.RLock()
	ready := c.ready
	uptime := time.Since(c.startTime)
	c.mu.RUnlock()

	return Report{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     uptime,
		Components: components,
		Timestamp:  time.Now(),
	}
}

// Common health checks.

// DiskSpaceCheck reports unhealthy when the filesystem holding path has
// less than minFreeBytes available, and degraded below twice that.
func DiskSpaceCheck(path string, minFreeBytes uint64) Check {
	return func(ctx context.Context) CheckResult {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return CheckResult{
				Status:  StatusUnknown,
				Message: "disk usage unavailable",
				Error:   err.Error(),
			}
		}

		details := map[string]any{
			"path":         path,
			"free_bytes":   usage.Free,
			"used_percent": usage.UsedPercent,
		}
		switch {
		case usage.Free < minFreeBytes:
			return CheckResult{Status: StatusUnhealthy, Message: "disk almost full", Details: details}
		case usage.Free < 2*minFreeBytes:
			return CheckResult{Status: StatusDegraded, Message: "disk space low", Details: details}
		default:
			return CheckResult{Status: StatusHealthy, Message: "disk space ok", Details: details}
		}
	}
}

// WritableDirCheck verifies that a file can be created in dir.
func WritableDirCheck(dir string) Check {
	return func(ctx context.Context) CheckResult {
		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "directory not writable",
				Details: map[string]any{"path": dir},
				Error:   err.Error(),
			}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return CheckResult{
			Status:  StatusHealthy,
			Message: "directory writable",
			Details: map[string]any{"path": filepath.Clean(dir)},
		}
	}
}

// CustomCheck creates a check from a simple function.
func CustomCheck(fn func() error) Check {
	return func(ctx context.Context) CheckResult {
		if err := fn(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "check failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: "check passed",
		}
	}
}
