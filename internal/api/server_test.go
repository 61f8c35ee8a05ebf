package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/publish"
	"codeberg.org/mutker/anglepub/internal/sample"
	"codeberg.org/mutker/anglepub/internal/sampler"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

type fakeHistory struct {
	samples []sample.Sample
	limit   int
	enabled bool
	err     error
}

func (h *fakeHistory) Recent(_ context.Context, limit int) ([]sample.Sample, error) {
	h.limit = limit
	if h.err != nil {
		return nil, h.err
	}
	return h.samples, nil
}

func (h *fakeHistory) Enabled() bool {
	return h.enabled
}

type harness struct {
	server  *Server
	ctrl    *sampler.Controller
	broker  *publish.Broker
	stats   telemetry.Collector
	history *fakeHistory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewWithWriter(io.Discard, "api")
	ctrl, err := sampler.NewController(sampler.DefaultFrequency, false, log)
	require.NoError(t, err)

	h := &harness{
		ctrl:    ctrl,
		broker:  publish.NewBroker(publish.DefaultTopic, log),
		stats:   telemetry.NewCollector(),
		history: &fakeHistory{enabled: true},
	}
	h.server = NewServer(Config{Listen: "127.0.0.1:0"}, h.ctrl, h.broker, h.stats, h.history, log)
	t.Cleanup(h.broker.Close)

	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestGetParameters(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/v1/parameters", "")
	require.Equal(t, http.StatusOK, w.Code)

	var p sampler.Parameters
	decodeBody(t, w, &p)
	assert.InDelta(t, 70.0, p.FrequencyHz, 1e-6)
	assert.False(t, p.FastMode)
}

func TestPutParameters(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPut, "/v1/parameters", `{"frequency_hz": 20, "fast_mode": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"successful":true,"reason":"Parameter updated successfully."}`, w.Body.String())

	s := h.ctrl.Snapshot()
	assert.Equal(t, 50*time.Millisecond, s.Period)
	assert.True(t, s.FastMode)
}

func TestPutParametersRejectsFrequency(t *testing.T) {
	h := newHarness(t)
	before := h.ctrl.Snapshot()

	w := h.do(http.MethodPut, "/v1/parameters", `{"frequency_hz": -5}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp parameterResponse
	decodeBody(t, w, &resp)
	assert.False(t, resp.Successful)
	assert.Equal(t, "Invalid frequency value: -5. Must be positive.", resp.Reason)
	assert.Equal(t, before, h.ctrl.Snapshot())
}

func TestPutParametersAppliesFastModeDespiteRejection(t *testing.T) {
	h := newHarness(t)
	before := h.ctrl.Snapshot()

	w := h.do(http.MethodPut, "/v1/parameters", `{"frequency_hz": 0, "fast_mode": true}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	s := h.ctrl.Snapshot()
	assert.Equal(t, before.Period, s.Period)
	assert.True(t, s.FastMode)
}

func TestPutParametersMalformed(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{`{"frequency_hz": "fast"}`, `{not json`} {
		w := h.do(http.MethodPut, "/v1/parameters", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestLatest(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/v1/angles/latest", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, h.broker.Publish(sample.Sample{Primary: 1, Secondary: 2, Reference: 3, Timestamp: stamp}))

	w = h.do(http.MethodGet, "/v1/angles/latest", "")
	require.Equal(t, http.StatusOK, w.Code)

	msg, err := sample.Decode(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sample.DefaultFrameID, msg.Header.FrameID)
	assert.Equal(t, stamp, msg.Header.Stamp)
	assert.Equal(t, sample.Vector{X: 1, Y: 2, Z: 3}, msg.Vector)
}

func TestHistory(t *testing.T) {
	h := newHarness(t)
	h.history.samples = []sample.Sample{
		{Primary: 9, Timestamp: stamp.Add(time.Second)},
		{Primary: 8, Timestamp: stamp},
	}

	w := h.do(http.MethodGet, "/v1/angles/history?limit=5000", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxHistory, h.history.limit)

	var msgs []sample.Message
	decodeBody(t, w, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, 9.0, msgs[0].Vector.X)

	w = h.do(http.MethodGet, "/v1/angles/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultHistory, h.history.limit)

	w = h.do(http.MethodGet, "/v1/angles/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.history.err = fmt.Errorf("disk gone")
	w = h.do(http.MethodGet, "/v1/angles/history", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	h.history.enabled = false
	w = h.do(http.MethodGet, "/v1/angles/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.stats.RecordCycle(telemetry.CycleOutcome{Published: true, Reads: 3, At: stamp})
	h.stats.RecordCycle(telemetry.CycleOutcome{Reads: 1, At: stamp})

	w := h.do(http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	decodeBody(t, w, &resp)
	assert.EqualValues(t, 2, resp["cycles"])
	assert.EqualValues(t, 1, resp["published"])
	assert.EqualValues(t, 1, resp["suppressed"])
	assert.EqualValues(t, 4, resp["device_reads"])
	assert.Equal(t, publish.DefaultTopic, resp["topic"])
	assert.EqualValues(t, 0, resp["subscribers"])
}

func readSample(t *testing.T, conn *websocket.Conn) sample.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := sample.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	require.NoError(t, h.broker.Publish(sample.Sample{Primary: 1, Timestamp: stamp}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/angles/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Latched sample first
	assert.Equal(t, 1.0, readSample(t, conn).Vector.X)

	require.NoError(t, h.broker.Publish(sample.Sample{Primary: 2, Timestamp: stamp.Add(time.Second)}))
	assert.Equal(t, 2.0, readSample(t, conn).Vector.X)

	h.broker.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStreamAfterBrokerClosed(t *testing.T) {
	h := newHarness(t)
	h.broker.Close()

	w := h.do(http.MethodGet, "/v1/angles/stream", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListenAndShutdown(t *testing.T) {
	h := newHarness(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe()
	}()

	// Give the listener a moment to start before shutting down
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}

func TestResponseShapesAreJSON(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPut, "/v1/parameters", `{"fast_mode": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("{")))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}
