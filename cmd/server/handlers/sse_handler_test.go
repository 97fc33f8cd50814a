package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/update-agent/internal/job"
	"github.com/cuemby/update-agent/internal/progress"
)

func newStreamRequest(t *testing.T, jobID string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "/api/update-stream/"+jobID, nil)
	require.NoError(t, err)
	return mux.SetURLVars(req, map[string]string{"job_id": jobID})
}

func TestSSEHandlerServeHTTP(t *testing.T) {
	bus := progress.NewBus(nil, nil)
	handler := NewSSEHandler(bus, nil)

	req := newStreamRequest(t, "job-1")
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	go func() {
		handler.ServeHTTP(rr, req)
		close(done)
	}()

	waitForSubscriber(t, bus, "job-1")

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rr.Header().Get("Connection"))

	cancel()
	<-done
}

func TestSSEHandlerEventSending(t *testing.T) {
	bus := progress.NewBus(nil, nil)
	handler := NewSSEHandler(bus, nil)

	req := newStreamRequest(t, "job-2")
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	go func() {
		handler.ServeHTTP(rr, req)
		close(done)
	}()

	waitForSubscriber(t, bus, "job-2")

	bus.PublishLog("job-2", "staging package")
	bus.PublishComplete("job-2", job.View{JobID: "job-2", Status: job.StatusCompleted})

	require.Eventually(t, func() bool {
		return strings.Contains(rr.Body.String(), "staging package")
	}, time.Second, 10*time.Millisecond)

	<-done // complete event closes the handler's loop on its own
	cancel()

	body := rr.Body.String()
	assert.Contains(t, body, "event: log")
	assert.Contains(t, body, "event: complete")
}

func TestSSEHandlerCORS(t *testing.T) {
	bus := progress.NewBus(nil, nil)
	handler := NewSSEHandler(bus, nil)

	req := newStreamRequest(t, "job-3")
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	go func() {
		handler.ServeHTTP(rr, req)
		close(done)
	}()

	waitForSubscriber(t, bus, "job-3")

	assert.Equal(t, "https://example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	cancel()
	<-done
}

func waitForSubscriber(t *testing.T, bus *progress.Bus, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return bus.ActiveSubscribers(jobID) > 0
	}, time.Second, 5*time.Millisecond)
}

