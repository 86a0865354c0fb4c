package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-micros/micros/config"
	"github.com/go-micros/micros/logger"
	"github.com/go-micros/micros/micros"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	mu        sync.Mutex
	calls     []string
	err       error
	reading   micros.Reading
	handler   micros.StateHandler
	driverErr error
	metrics   micros.Metrics
}

func (f *fakeController) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf(format, args...))

	return f.err
}

func (f *fakeController) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		return ""
	}

	return f.calls[len(f.calls)-1]
}

func (f *fakeController) SetRelay(num int, cmd micros.Command) error {
	return f.record("SetRelay %d %s", num, cmd)
}

func (f *fakeController) GetRelay(num int) (micros.Reading, error) {
	return f.reading, f.record("GetRelay %d", num)
}

func (f *fakeController) SetDimmer(num int, level int) error {
	return f.record("SetDimmer %d %d", num, level)
}

func (f *fakeController) ToggleDimmer(num int) error {
	return f.record("ToggleDimmer %d", num)
}

func (f *fakeController) GetDimmer(num int) (micros.Reading, error) {
	return f.reading, f.record("GetDimmer %d", num)
}

func (f *fakeController) SetFlag(num int, cmd micros.Command) error {
	return f.record("SetFlag %d %s", num, cmd)
}

func (f *fakeController) GetFlag(num int) (micros.Reading, error) {
	return f.reading, f.record("GetFlag %d", num)
}

func (f *fakeController) SetMood(num int, cmd micros.Command, kind micros.MoodKind) error {
	return f.record("SetMood %d %s %s", num, cmd, kind)
}

func (f *fakeController) GetSensor(num int) (micros.Reading, error) {
	return f.reading, f.record("GetSensor %d", num)
}

func (f *fakeController) Subscribe(h micros.StateHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.handler = h

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.handler = nil
	}
}

func (f *fakeController) emit(c micros.StateChange) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()

	if h != nil {
		h(c)
	}
}

func (f *fakeController) Metrics() *micros.Metrics { return &f.metrics }

func (f *fakeController) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.driverErr
}

func newTestServer(t *testing.T) (*Server, *fakeController) {
	t.Helper()

	ctrl := &fakeController{reading: micros.Reading{Value: micros.StateOn, Known: true}}
	s := New(config.HTTPConfig{Addr: "127.0.0.1:0"}, ctrl, logger.NewSlogWithOutput(logger.DebugLevel, false, io.Discard))

	return s, ctrl
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	return w
}

func TestHealth(t *testing.T) {
	s, ctrl := newTestServer(t)

	w := doRequest(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	ctrl.driverErr = micros.ErrDriverClosed
	w = doRequest(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealth_ConnectionLost(t *testing.T) {
	s, ctrl := newTestServer(t)

	ctrl.driverErr = fmt.Errorf("%w: connection lost: %w", micros.ErrConnection, io.EOF)
	w := doRequest(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection lost")
}

func TestSwitchRoutes(t *testing.T) {
	s, ctrl := newTestServer(t)

	tests := []struct {
		method   string
		path     string
		body     string
		wantCode int
		wantCall string
	}{
		{http.MethodPut, "/relays/3", `{"state":"on"}`, http.StatusOK, "SetRelay 3 ON"},
		{http.MethodPut, "/relays/3", `{"state":"TOGGLE"}`, http.StatusOK, "SetRelay 3 TOGGLE"},
		{http.MethodPut, "/flags/7", `{"state":"off"}`, http.StatusOK, "SetFlag 7 OFF"},
		{http.MethodPut, "/dimmers/2", `{"level":128}`, http.StatusOK, "SetDimmer 2 128"},
		{http.MethodPut, "/dimmers/2", `{"state":"toggle"}`, http.StatusOK, "ToggleDimmer 2"},
		{http.MethodPut, "/dimmers/2", `{"state":"on"}`, http.StatusOK, "SetDimmer 2 255"},
		{http.MethodPost, "/moods/general/4", `{"state":"on"}`, http.StatusOK, "SetMood 4 ON GENERAL"},
		{http.MethodPost, "/moods/Local/1", `{"state":"toggle"}`, http.StatusOK, "SetMood 1 TOGGLE LOCAL"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.body, func(t *testing.T) {
			w := doRequest(t, s.Handler(), tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCall, ctrl.lastCall())
		})
	}
}

func TestBadRequests(t *testing.T) {
	s, ctrl := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"non-numeric number", http.MethodGet, "/relays/abc", ""},
		{"bad state", http.MethodPut, "/relays/1", `{"state":"dim"}`},
		{"malformed body", http.MethodPut, "/flags/1", `{"state":`},
		{"dimmer without level", http.MethodPut, "/dimmers/1", `{}`},
		{"bad mood kind", http.MethodPost, "/moods/party/1", `{"state":"on"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s.Handler(), tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	assert.Empty(t, ctrl.calls)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: RELAY 1", micros.ErrNotConfirmed), http.StatusGatewayTimeout},
		{micros.ErrDriverClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: write: broken pipe", micros.ErrConnection), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: number 300", micros.ErrInvalidArgument), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s, ctrl := newTestServer(t)
			ctrl.err = tt.err

			w := doRequest(t, s.Handler(), http.MethodPut, "/relays/1", `{"state":"on"}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestGetReading(t *testing.T) {
	s, ctrl := newTestServer(t)

	w := doRequest(t, s.Handler(), http.MethodGet, "/relays/5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp readingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, readingResponse{Function: "RELAY", Number: 5, Value: 255, Known: true, State: "ON"}, resp)

	ctrl.reading = micros.Reading{}
	w = doRequest(t, s.Handler(), http.MethodGet, "/sensors/9", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Known)
	assert.Equal(t, "UNKNOWN", resp.State)
	assert.Equal(t, "SENSOR", resp.Function)
	assert.Equal(t, "GetSensor 9", ctrl.lastCall())

	ctrl.reading = micros.Reading{Value: 77, Known: true}
	w = doRequest(t, s.Handler(), http.MethodGet, "/dimmers/1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "77", resp.State)
}

func TestMetrics(t *testing.T) {
	s, ctrl := newTestServer(t)
	ctrl.metrics.FramesSent.Add(5)
	ctrl.metrics.SetConfirmed.Add(2)

	w := doRequest(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "micros_frames_sent_total 5")
	assert.Contains(t, body, "micros_set_confirmed_total 2")
	assert.Contains(t, body, "micros_event_clients 0")
}

func TestEvents(t *testing.T) {
	s, ctrl := newTestServer(t)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.NotEmpty(t, resp.Header.Get(ClientIDHeader))
	require.Eventually(t, func() bool { return s.clients.Size() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctrl.emit(micros.StateChange{
		Address: micros.Address{Function: micros.FunctionDimmer, Number: 4},
		State:   120,
		At:      at,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "DIMMER", msg.Function)
	assert.Equal(t, byte(4), msg.Number)
	assert.Equal(t, byte(120), msg.Value)
	assert.Equal(t, "120", msg.State)
	assert.True(t, at.Equal(msg.At))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool { return s.clients.Size() == 0 }, time.Second, 5*time.Millisecond)

	ctrl.mu.Lock()
	assert.Nil(t, ctrl.handler)
	ctrl.mu.Unlock()
}
