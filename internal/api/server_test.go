package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashkit/internal/engine"
	"flashkit/internal/job"
	"flashkit/internal/model"
)

type fakeEngine struct {
	sink  engine.EventSink
	block chan struct{}
}

func (f *fakeEngine) Run(ctx context.Context) (engine.State, *engine.FlashError) {
	f.sink.Emit("test", "", model.LevelInfo, "hello", nil)
	if f.block != nil {
		select {
		case <-ctx.Done():
			return engine.StateCancelled, &engine.FlashError{Kind: engine.ErrCancelled, Message: "cancelled"}
		case <-f.block:
		}
	}
	return engine.StateDone, nil
}

type fakeDevices struct{ devices []model.Device }

func (f *fakeDevices) ListDevices(ctx context.Context) ([]model.Device, error) {
	return f.devices, nil
}

type fakeBundleIndex struct{ version string }

func (f *fakeBundleIndex) Latest(ctx context.Context, codename string) (string, error) {
	return f.version, nil
}

func newTestServer() *Server {
	manager := job.NewManager(func(req model.JobRequest, sink engine.EventSink) job.EngineRunner {
		return &fakeEngine{sink: sink}
	})
	return New(manager, &fakeDevices{devices: []model.Device{{Serial: "SERIAL1", Mode: model.ModeDebug}}}, &fakeBundleIndex{version: "1.0"})
}

func TestHandleStartRequiresTarget(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/flash/start", bytes.NewReader([]byte(`{}`)))
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStartAndStatus(t *testing.T) {
	s := newTestServer()

	w := httptest.NewRecorder()
	body, _ := json.Marshal(model.JobRequest{Serial: "SERIAL1"})
	req := httptest.NewRequest(http.MethodPost, "/flash/start", bytes.NewReader(body))
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)

	require.Eventually(t, func() bool {
		w2 := httptest.NewRecorder()
		req2 := httptest.NewRequest(http.MethodGet, "/flash/jobs/"+started.JobID, nil)
		s.Handler().ServeHTTP(w2, req2)
		if w2.Code != http.StatusOK {
			return false
		}
		var snap model.JobSnapshot
		_ = json.Unmarshal(w2.Body.Bytes(), &snap)
		return snap.State == model.JobCompleted
	}, time.Second, time.Millisecond)
}

func TestHandleStartConflictsOnBusyDevice(t *testing.T) {
	manager := job.NewManager(func(req model.JobRequest, sink engine.EventSink) job.EngineRunner {
		return &fakeEngine{sink: sink, block: make(chan struct{})}
	})
	s := New(manager, &fakeDevices{}, &fakeBundleIndex{})

	body, _ := json.Marshal(model.JobRequest{Serial: "SERIAL1"})

	w1 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/flash/start", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w1.Code)

	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/flash/start", bytes.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestHandleStatusUnknownJob(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/flash/jobs/does-not-exist", nil)
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDevices(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Devices []model.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "SERIAL1", resp.Devices[0].Serial)
}

func TestHandleBundlesFor(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/bundles/for/cheetah", nil)
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Codename string `json:"codename"`
		Version  string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "cheetah", resp.Codename)
	assert.Equal(t, "1.0", resp.Version)
}
