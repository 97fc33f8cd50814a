package actions

import (
	"context"
	"fmt"

	"github.com/cuemby/update-agent/internal/archive"
	"github.com/cuemby/update-agent/internal/manifest"
)

func handleDockerComposeUp(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	d := spec.DockerComposeUp
	if d == nil {
		return Outcome{}, fmt.Errorf("actions: docker_compose_up action missing its spec payload")
	}
	if rc.Containers == nil {
		return Outcome{}, fmt.Errorf("actions: no ContainerRuntime adapter configured")
	}
	err := withHeartbeat(rc, fmt.Sprintf("docker_compose_up %s", d.File), func() error {
		return rc.Containers.ComposeUp(ctx, d.File, d.Detach, d.Build)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: docker_compose_up %s: %w", d.File, err)
	}
	rc.logf("docker compose up -f %s (detach=%v build=%v)", d.File, d.Detach, d.Build)
	return Outcome{}, nil
}

func handleDockerComposeDown(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	d := spec.DockerComposeDown
	if d == nil {
		return Outcome{}, fmt.Errorf("actions: docker_compose_down action missing its spec payload")
	}
	if rc.Containers == nil {
		return Outcome{}, fmt.Errorf("actions: no ContainerRuntime adapter configured")
	}
	err := withHeartbeat(rc, fmt.Sprintf("docker_compose_down %s", d.File), func() error {
		return rc.Containers.ComposeDown(ctx, d.File)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: docker_compose_down %s: %w", d.File, err)
	}
	rc.logf("docker compose down -f %s", d.File)
	return Outcome{}, nil
}

func handleDockerLoad(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	d := spec.DockerLoad
	if d == nil {
		return Outcome{}, fmt.Errorf("actions: docker_load action missing its spec payload")
	}
	if rc.Containers == nil {
		return Outcome{}, fmt.Errorf("actions: no ContainerRuntime adapter configured")
	}

	tarPath, err := archive.SafeJoin(rc.StagedRoot, d.ImageTar)
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: docker_load: %w", err)
	}

	err = withHeartbeat(rc, fmt.Sprintf("docker_load %s", d.ImageTar), func() error {
		return rc.Containers.LoadImage(ctx, tarPath)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("actions: docker_load %s: %w", d.ImageTar, err)
	}
	rc.logf("docker load -i %s", tarPath)
	return Outcome{}, nil
}

func handleDockerPrune(ctx context.Context, spec manifest.ActionSpec, rc *Context) (Outcome, error) {
	d := spec.DockerPrune
	if d == nil {
		return Outcome{}, fmt.Errorf("actions: docker_prune action missing its spec payload")
	}
	if rc.Containers == nil {
		return Outcome{}, fmt.Errorf("actions: no ContainerRuntime adapter configured")
	}
	if err := rc.Containers.Prune(ctx, d.All, d.Force); err != nil {
		return Outcome{}, fmt.Errorf("actions: docker_prune: %w", err)
	}
	rc.logf("docker image prune (all=%v force=%v)", d.All, d.Force)
	return Outcome{}, nil
}
