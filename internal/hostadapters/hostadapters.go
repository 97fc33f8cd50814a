// Package hostadapters defines narrow capability interfaces for the host
// side-effects the engine dispatches to (container runtime, service
// supervisor, HTTP reachability) plus os/exec-backed implementations. Tests
// inject in-process fakes so the full phase machine exercises without
// touching the host (spec.md §9).
package hostadapters

import "context"

// ContainerRuntime drives docker/docker-compose-shaped operations.
type ContainerRuntime interface {
	ComposeUp(ctx context.Context, composeFile string, detach, build bool) error
	ComposeDown(ctx context.Context, composeFile string) error
	LoadImage(ctx context.Context, tarPath string) error
	Prune(ctx context.Context, all, force bool) error
	// Health reports a container's health status string, e.g. "healthy",
	// "unhealthy", "starting", or "none" if the container defines no
	// healthcheck.
	Health(ctx context.Context, container string) (string, error)
}

// ServiceSupervisor asks an init system whether a unit is active.
type ServiceSupervisor interface {
	IsRunning(ctx context.Context, service string) (bool, error)
}

// HTTPProbe performs a single reachability check against a URL.
type HTTPProbe interface {
	// Probe returns the observed status code, or an error if the request
	// could not be completed at all (connection refused, timeout, ...).
	Probe(ctx context.Context, url string) (statusCode int, err error)
}
