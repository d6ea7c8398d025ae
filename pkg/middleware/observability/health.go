package observability

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the state of one check or of the whole report.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthChecker checks one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function (usually a store's Health method) to
// HealthChecker.
func CheckFunc(name string, fn func(ctx context.Context) error) HealthChecker {
	return funcCheck{name: name, fn: fn}
}

type funcCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcCheck) Name() string                    { return f.name }
func (f funcCheck) Check(ctx context.Context) error { return f.fn(ctx) }

// HealthCheckResult is the outcome of one check.
type HealthCheckResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// HealthReport aggregates all checks; Status is unhealthy if any check is.
type HealthReport struct {
	Status    HealthStatus        `json:"status"`
	Checks    []HealthCheckResult `json:"checks"`
	Timestamp time.Time           `json:"timestamp"`
}

// Healthy reports whether every check passed.
func (r HealthReport) Healthy() bool { return r.Status == HealthStatusHealthy }

// RunHealthChecks runs checks concurrently, each bounded by timeout.
// Results keep the order of checks.
func RunHealthChecks(ctx context.Context, timeout time.Duration, checks ...HealthChecker) HealthReport {
	results := make([]HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(cctx)
			res := HealthCheckResult{Name: c.Name(), Status: HealthStatusHealthy, Duration: time.Since(start)}
			if err != nil {
				res.Status = HealthStatusUnhealthy
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	report := HealthReport{Status: HealthStatusHealthy, Checks: results, Timestamp: time.Now().UTC()}
	for _, r := range results {
		if r.Status != HealthStatusHealthy {
			report.Status = HealthStatusUnhealthy
			break
		}
	}
	return report
}
