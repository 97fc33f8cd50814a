// Package checks dispatches typed CheckSpec variants to pluggable
// implementations, returning pass/fail with a diagnostic (spec.md §4.3).
package checks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cuemby/update-agent/internal/archive"
	"github.com/cuemby/update-agent/internal/hostadapters"
	"github.com/cuemby/update-agent/internal/manifest"
)

// Result is the outcome of a single check.
type Result struct {
	OK         bool
	Diagnostic string
}

func pass() Result           { return Result{OK: true} }
func fail(msg string) Result { return Result{OK: false, Diagnostic: msg} }

// Context exposes the host adapters a check handler may need. It mirrors
// the action registry's Context (spec.md §4.2) minus anything
// mutation-specific, since checks are meant to be side-effect-light.
type Context struct {
	StagedRoot string
	Containers hostadapters.ContainerRuntime
	Services   hostadapters.ServiceSupervisor
	HTTP       hostadapters.HTTPProbe
	Logf       func(format string, args ...any)
}

func (c *Context) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// Handler evaluates one CheckSpec variant.
type Handler func(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error)

// Registry maps a check's "type" discriminant to its Handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry pre-populated with the built-in handlers
// required by spec.md §4.3.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]Handler{}}
	r.Register("command", handleCommand)
	r.Register("http_check", handleHTTPCheck)
	r.Register("service_running", handleServiceRunning)
	r.Register("docker_health", handleDockerHealth)
	r.Register("file_exists", handleFileExists)
	return r
}

// Register adds or overrides the handler for a check type.
func (r *Registry) Register(checkType string, h Handler) {
	r.handlers[checkType] = h
}

// Run dispatches spec to its registered handler.
func (r *Registry) Run(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error) {
	h, ok := r.handlers[spec.Type]
	if !ok {
		return Result{}, fmt.Errorf("checks: no handler registered for type %q", spec.Type)
	}
	return h(ctx, spec, rc)
}

func handleCommand(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error) {
	c := spec.Command
	if c == nil {
		return Result{}, fmt.Errorf("checks: command check missing its spec payload")
	}
	timeout := time.Duration(c.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", c.Cmd)
	if c.Cwd != "" {
		cmd.Dir = c.Cwd
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fail(fmt.Sprintf("command %q failed: %v: %s", c.Cmd, err, out.String())), nil
	}
	return pass(), nil
}

func handleHTTPCheck(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error) {
	h := spec.HTTPCheck
	if h == nil {
		return Result{}, fmt.Errorf("checks: http_check missing its spec payload")
	}
	if rc.HTTP == nil {
		return Result{}, fmt.Errorf("checks: no HTTPProbe adapter configured")
	}
	expect := h.ExpectStatus
	if expect == 0 {
		expect = 200
	}

	var lastErr error
	attempts := h.Retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		status, err := rc.HTTP.Probe(ctx, h.URL)
		if err == nil && status == expect {
			return pass(), nil
		}
		if err != nil {
			lastErr = fmt.Errorf("attempt %d/%d: %w", attempt, attempts, err)
		} else {
			lastErr = fmt.Errorf("attempt %d/%d: got status %d, want %d", attempt, attempts, status, expect)
		}
		rc.logf("http_check %s: %v", h.URL, lastErr)
		if attempt < attempts && h.DelaySeconds > 0 {
			select {
			case <-time.After(time.Duration(h.DelaySeconds) * time.Second):
			case <-ctx.Done():
				return fail(ctx.Err().Error()), nil
			}
		}
	}
	return fail(fmt.Sprintf("http_check %s exhausted retries: %v", h.URL, lastErr)), nil
}

func handleServiceRunning(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error) {
	s := spec.ServiceRunning
	if s == nil {
		return Result{}, fmt.Errorf("checks: service_running missing its spec payload")
	}
	if rc.Services == nil {
		return Result{}, fmt.Errorf("checks: no ServiceSupervisor adapter configured")
	}
	running, err := rc.Services.IsRunning(ctx, s.Service)
	if err != nil {
		return Result{}, fmt.Errorf("checks: service_running %s: %w", s.Service, err)
	}
	if !running {
		return fail(fmt.Sprintf("service %q is not running", s.Service)), nil
	}
	return pass(), nil
}

func handleDockerHealth(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error) {
	d := spec.DockerHealth
	if d == nil {
		return Result{}, fmt.Errorf("checks: docker_health missing its spec payload")
	}
	if rc.Containers == nil {
		return Result{}, fmt.Errorf("checks: no ContainerRuntime adapter configured")
	}
	status, err := rc.Containers.Health(ctx, d.Container)
	if err != nil {
		return Result{}, fmt.Errorf("checks: docker_health %s: %w", d.Container, err)
	}
	if status != "healthy" {
		return fail(fmt.Sprintf("container %q health is %q", d.Container, status)), nil
	}
	return pass(), nil
}

func handleFileExists(ctx context.Context, spec manifest.CheckSpec, rc *Context) (Result, error) {
	f := spec.FileExists
	if f == nil {
		return Result{}, fmt.Errorf("checks: file_exists missing its spec payload")
	}
	got, err := archive.MD5File(f.Path)
	if err != nil {
		return fail(fmt.Sprintf("file %q does not exist or is unreadable: %v", f.Path, err)), nil
	}
	if f.Checksum != "" && got != f.Checksum {
		return fail(fmt.Sprintf("file %q checksum mismatch: want %s got %s", f.Path, f.Checksum, got)), nil
	}
	return pass(), nil
}
