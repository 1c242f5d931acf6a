package http

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

	"github.com/dkeye/Fleet/internal/adapters/signal"
	"github.com/dkeye/Fleet/internal/app"
	"github.com/dkeye/Fleet/internal/config"
	"github.com/dkeye/Fleet/internal/core/coretest"
)

const testSecret = "control-plane-secret"

func testConfig() *config.Config {
	return &config.Config{
		Mode:           "release",
		Port:           0,
		Secret:         testSecret,
		NumWorkers:     3,
		ReadLimit:      32768,
		PingPeriod:     25 * time.Second,
		PongTimeout:    60 * time.Second,
		ReconnectGrace: time.Minute,
		BacklogSize:    64,
	}
}

func newTestRouter(t *testing.T) (http.Handler, *app.FleetState, *coretest.FakeEngine) {
	t.Helper()
	cfg := testConfig()
	eng := coretest.NewFakeEngine()
	fleet := app.NewFleetState("inst-1", "1.2.3", eng)
	require.NoError(t, fleet.Pool.Start(context.Background(), cfg.NumWorkers))
	adm := app.NewAdmissionController(fleet.Rooms)
	sig := signal.NewController(cfg, fleet, adm)
	return SetupRouter(context.Background(), cfg, fleet, adm, sig), fleet, eng
}

func doRequest(h http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func adminHeaders(extra map[string]string) map[string]string {
	h := map[string]string{HeaderSecret: testSecret}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func TestHealthEndpoint(t *testing.T) {
	h, fleet, _ := newTestRouter(t)

	w := doRequest(h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string `json:"status"`
		Port    int    `json:"port"`
		Workers struct {
			Total   int `json:"total"`
			Healthy int `json:"healthy"`
			Closed  int `json:"closed"`
		} `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 3, body.Workers.Total)
	assert.Equal(t, body.Workers.Total-body.Workers.Closed, body.Workers.Healthy)

	// 503 if and only if every worker is closed.
	fleet.Pool.MarkClosed("worker-0")
	fleet.Pool.MarkClosed("worker-1")
	w = doRequest(h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	fleet.Pool.MarkClosed("worker-2")
	w = doRequest(h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSecretGate(t *testing.T) {
	h, _, _ := newTestRouter(t)

	for _, path := range []string{"/rooms", "/status"} {
		t.Run(path, func(t *testing.T) {
			w := doRequest(h, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w = doRequest(h, http.MethodGet, path, nil, map[string]string{HeaderSecret: "wrong"})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())

			w = doRequest(h, http.MethodGet, path, nil, adminHeaders(nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	w := doRequest(h, http.MethodPost, "/drain", []byte(`{"draining":true}`), map[string]string{HeaderSecret: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoomsTenantScoped(t *testing.T) {
	h, fleet, _ := newTestRouter(t)
	adm := app.NewAdmissionController(fleet.Rooms)
	_, err := adm.Join(context.Background(), "tenant-a", app.JoinRequest{RoomID: "room-a", SessionID: "s1"})
	require.NoError(t, err)
	_, err = adm.Join(context.Background(), "tenant-b", app.JoinRequest{RoomID: "room-b", SessionID: "s2"})
	require.NoError(t, err)

	w := doRequest(h, http.MethodGet, "/rooms", nil, adminHeaders(map[string]string{HeaderTenant: "tenant-a"}))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Rooms []struct {
			ID      string `json:"id"`
			Clients int    `json:"clients"`
		} `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "room-a", body.Rooms[0].ID)
	assert.Equal(t, 1, body.Rooms[0].Clients)
}

func TestStatusEndpoint(t *testing.T) {
	h, fleet, _ := newTestRouter(t)
	fleet.SetDraining(true)

	w := doRequest(h, http.MethodGet, "/status", nil, adminHeaders(nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		InstanceID string `json:"instanceId"`
		Version    string `json:"version"`
		Draining   bool   `json:"draining"`
		Rooms      int    `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "inst-1", body.InstanceID)
	assert.Equal(t, "1.2.3", body.Version)
	assert.True(t, body.Draining)
	assert.Equal(t, 0, body.Rooms)
}

func TestDrainToggle(t *testing.T) {
	h, fleet, _ := newTestRouter(t)

	// Idempotent: same value twice succeeds twice.
	for i := 0; i < 2; i++ {
		w := doRequest(h, http.MethodPost, "/drain", []byte(`{"draining":true}`), adminHeaders(nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"draining":true}`, w.Body.String())
	}
	assert.True(t, fleet.Draining())

	w := doRequest(h, http.MethodPost, "/drain", []byte(`{"draining":false}`), adminHeaders(nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, fleet.Draining())

	tests := []struct {
		name string
		body string
	}{
		{name: "missing field", body: `{}`},
		{name: "non-boolean", body: `{"draining":"yes"}`},
		{name: "invalid json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(h, http.MethodPost, "/drain", []byte(tt.body), adminHeaders(nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestJoinBridge(t *testing.T) {
	h, fleet, _ := newTestRouter(t)

	body := []byte(`{"roomId":"wolf-falcon-123","sessionId":"s1","isAdmin":false}`)
	w := doRequest(h, http.MethodPost, "/join", body, map[string]string{HeaderTenant: "tenant-a"})
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		RoomID    string          `json:"roomId"`
		Transport json.RawMessage `json:"transport"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "wolf-falcon-123", res.RoomID)
	assert.NotEmpty(t, res.Transport)

	room, ok := fleet.Rooms.Get("wolf-falcon-123")
	require.True(t, ok)
	assert.Equal(t, 1, room.ClientCount())

	// Error relay: draining maps to 503 for unknown rooms.
	fleet.SetDraining(true)
	w = doRequest(h, http.MethodPost, "/join", []byte(`{"roomId":"fresh","sessionId":"s2"}`), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Validation failures map to 400.
	w = doRequest(h, http.MethodPost, "/join", []byte(`{"sessionId":"s3"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFoundAndCORS(t *testing.T) {
	h, _, _ := newTestRouter(t)

	w := doRequest(h, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = doRequest(h, http.MethodOptions, "/rooms", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// CORS headers ride every response, including errors.
	w = doRequest(h, http.MethodGet, "/rooms", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
