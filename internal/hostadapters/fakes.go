package hostadapters

import (
	"context"
	"fmt"
	"sync"
)

// FakeContainerRuntime is an in-process ContainerRuntime for tests: it
// records every call and lets the test pre-seed container health states or
// force an operation to fail.
type FakeContainerRuntime struct {
	mu sync.Mutex

	ComposeUpCalls   []string
	ComposeDownCalls []string
	LoadedImages     []string
	PruneCalls       int

	HealthByContainer map[string]string
	FailOperations    map[string]error
}

// NewFakeContainerRuntime returns a ready-to-use fake.
func NewFakeContainerRuntime() *FakeContainerRuntime {
	return &FakeContainerRuntime{
		HealthByContainer: map[string]string{},
		FailOperations:    map[string]error{},
	}
}

func (f *FakeContainerRuntime) ComposeUp(_ context.Context, composeFile string, _, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailOperations["compose_up"]; err != nil {
		return err
	}
	f.ComposeUpCalls = append(f.ComposeUpCalls, composeFile)
	return nil
}

func (f *FakeContainerRuntime) ComposeDown(_ context.Context, composeFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailOperations["compose_down"]; err != nil {
		return err
	}
	f.ComposeDownCalls = append(f.ComposeDownCalls, composeFile)
	return nil
}

func (f *FakeContainerRuntime) LoadImage(_ context.Context, tarPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailOperations["load_image"]; err != nil {
		return err
	}
	f.LoadedImages = append(f.LoadedImages, tarPath)
	return nil
}

func (f *FakeContainerRuntime) Prune(_ context.Context, _, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailOperations["prune"]; err != nil {
		return err
	}
	f.PruneCalls++
	return nil
}

func (f *FakeContainerRuntime) Health(_ context.Context, container string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.HealthByContainer[container]; ok {
		return status, nil
	}
	return "", fmt.Errorf("hostadapters: fake has no health entry for %q", container)
}

// FakeServiceSupervisor is an in-process ServiceSupervisor for tests.
type FakeServiceSupervisor struct {
	mu      sync.Mutex
	Running map[string]bool
}

// NewFakeServiceSupervisor returns a ready-to-use fake.
func NewFakeServiceSupervisor() *FakeServiceSupervisor {
	return &FakeServiceSupervisor{Running: map[string]bool{}}
}

func (f *FakeServiceSupervisor) IsRunning(_ context.Context, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[service], nil
}

// FakeHTTPProbe is an in-process HTTPProbe for tests.
type FakeHTTPProbe struct {
	mu sync.Mutex

	StatusByURL map[string]int
	ErrByURL    map[string]error
	// FailFirstN causes the first N probes for a URL to return ErrByURL (or
	// a generic error) before succeeding with StatusByURL — used to test
	// http_check's retry behavior.
	FailFirstN map[string]int
	calls      map[string]int
}

// NewFakeHTTPProbe returns a ready-to-use fake.
func NewFakeHTTPProbe() *FakeHTTPProbe {
	return &FakeHTTPProbe{
		StatusByURL: map[string]int{},
		ErrByURL:    map[string]error{},
		FailFirstN:  map[string]int{},
		calls:       map[string]int{},
	}
}

func (f *FakeHTTPProbe) Probe(_ context.Context, url string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if n, ok := f.FailFirstN[url]; ok && f.calls[url] <= n {
		if err, ok := f.ErrByURL[url]; ok {
			return 0, err
		}
		return 0, fmt.Errorf("hostadapters: fake probe failure %d/%d for %s", f.calls[url], n, url)
	}
	return f.StatusByURL[url], nil
}
