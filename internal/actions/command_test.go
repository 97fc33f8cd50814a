package actions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/update-agent/internal/manifest"
)

func TestCommandActionSucceeds(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	r := NewRegistry()
	rc := &Context{Logf: func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, format)
	}}

	_, err := r.Run(context.Background(), manifest.ActionSpec{
		Type:    "command",
		Command: &manifest.CommandAction{Cmd: "echo hello-from-command"},
	}, rc)
	require.NoError(t, err)
}

func TestCommandActionNonzeroExitFails(t *testing.T) {
	r := NewRegistry()
	rc := &Context{Logf: func(string, ...any) {}}

	_, err := r.Run(context.Background(), manifest.ActionSpec{
		Type:    "command",
		Command: &manifest.CommandAction{Cmd: "exit 7"},
	}, rc)
	require.Error(t, err)
}

func TestCommandActionTimesOut(t *testing.T) {
	r := NewRegistry()
	rc := &Context{Logf: func(string, ...any) {}}

	_, err := r.Run(context.Background(), manifest.ActionSpec{
		Type: "command",
		Command: &manifest.CommandAction{
			Cmd:            "sleep 5",
			TimeoutSeconds: 1,
		},
	}, rc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestUnknownActionTypeErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Run(context.Background(), manifest.ActionSpec{Type: "nonsense"}, &Context{})
	require.Error(t, err)
}
