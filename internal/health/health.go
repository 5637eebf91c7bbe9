// Package health reports whether the content service can serve and store
// documents.
//
// Checks run concurrently on every probe, each under its own timeout.
// A failing critical check makes the service unhealthy; any other failure
// only degrades it.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the health of a check or of the whole service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 5 * time.Second

// Result is the outcome of one check.
type Result struct {
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Path    string        `json:"path,omitempty"`
	Error   string        `json:"error,omitempty"`
	Took    time.Duration `json:"took_ns"`
}

// Check inspects one dependency.
type Check func(ctx context.Context) Result

type entry struct {
	name     string
	critical bool
	check    Check
}

// Checker runs the registered checks.
type Checker struct {
	// Timeout bounds each check. Zero means DefaultTimeout.
	Timeout time.Duration

	mu      sync.RWMutex
	entries []entry
	ready   atomic.Bool
	started time.Time
}

// NewChecker creates a Checker that is not ready yet.
func NewChecker() *Checker {
	return &Checker{started: time.Now()}
}

// Add registers a check. A check with the same name is replaced.
func (c *Checker) Add(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{name: name, critical: critical, check: check}
	for i := range c.entries {
		if c.entries[i].name == name {
			c.entries[i] = e
			return
		}
	}
	c.entries = append(c.entries, e)
}

// SetReady marks the service as accepting requests or draining.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Ready reports the readiness flag.
func (c *Checker) Ready() bool {
	return c.ready.Load()
}

// Report is the body served by the health endpoint.
type Report struct {
	Status Status            `json:"status"`
	Ready  bool              `json:"ready"`
	Uptime string            `json:"uptime"`
	Checks map[string]Result `json:"checks,omitempty"`
}

// Run executes every check and summarizes the results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	entries := append([]entry(nil), c.entries...)
	timeout := c.Timeout
	c.mu.RUnlock()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		i, e := i, e
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, e.check, timeout)
		}()
	}
	wg.Wait()

	report := Report{
		Status: StatusHealthy,
		Ready:  c.Ready(),
		Uptime: time.Since(c.started).Round(time.Second).String(),
		Checks: make(map[string]Result, len(entries)),
	}
	for i, e := range entries {
		report.Checks[e.name] = results[i]
		switch {
		case results[i].Status == StatusHealthy:
		case e.critical:
			report.Status = StatusUnhealthy
		case report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func run(ctx context.Context, check Check, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- check(ctx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = Result{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	res.Took = time.Since(start)
	return res
}

// Handler serves the health report. Check details are included with
// ?full=true. The status is 503 while not ready or unhealthy.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		if r.URL.Query().Get("full") != "true" {
			report.Checks = nil
		}
		code := http.StatusOK
		if !report.Ready || report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	})
}

// LiveHandler answers liveness probes without running checks.
func LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"alive"}` + "\n"))
	})
}

// ContentRoot checks that dir exists and accepts new files. A read-only
// root still serves documents, so it only degrades.
func ContentRoot(dir string) Check {
	return func(ctx context.Context) Result {
		info, err := os.Stat(dir)
		switch {
		case err != nil:
			return Result{Status: StatusUnhealthy, Message: "content root unavailable", Path: dir, Error: err.Error()}
		case !info.IsDir():
			return Result{Status: StatusUnhealthy, Message: "content root is not a directory", Path: dir}
		}

		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return Result{Status: StatusDegraded, Message: "content root is read-only", Path: dir, Error: err.Error()}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return Result{Status: StatusHealthy, Message: "content root writable", Path: dir}
	}
}

// SchemaFile checks that the schema at path is still readable JSON.
func SchemaFile(path string) Check {
	return func(ctx context.Context) Result {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return Result{Status: StatusUnhealthy, Message: "schema missing", Path: path}
		case err != nil:
			return Result{Status: StatusUnhealthy, Message: "schema unreadable", Path: path, Error: err.Error()}
		case !json.Valid(data):
			return Result{Status: StatusUnhealthy, Message: "schema is not valid JSON", Path: path}
		}
		return Result{Status: StatusHealthy, Message: "schema present", Path: path}
	}
}

// Ping wraps a connectivity probe such as (*sql.DB).PingContext.
func Ping(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
		}
		return Result{Status: StatusHealthy, Message: "ping ok"}
	}
}
