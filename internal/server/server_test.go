package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deltran/corridorsim/internal/config"
	"github.com/deltran/corridorsim/internal/corridor"
	"github.com/deltran/corridorsim/internal/journal"
	"github.com/deltran/corridorsim/internal/playback"
	"github.com/deltran/corridorsim/internal/session"
	"github.com/deltran/corridorsim/internal/simulation"
	"github.com/deltran/corridorsim/internal/types"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type manualTicker struct{ ch chan time.Time }

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (c *manualClock) factory(time.Duration) playback.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *manualClock) last() *manualTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		return nil
	}
	return c.tickers[len(c.tickers)-1]
}

type testServer struct {
	*Server
	url   string
	clock *manualClock
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Export.Dir = t.TempDir()
	for _, m := range mutate {
		m(cfg)
	}

	reg, err := corridor.Load(nil)
	require.NoError(t, err)

	clock := &manualClock{}
	srv, err := New(cfg, reg, zap.NewNop(), WithTickerFactory(clock.factory))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		srv.Close(closeCtx)
	})

	return &testServer{Server: srv, url: ts.URL, clock: clock}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.url+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createSession(t *testing.T, req interface{}) *session.View {
	t.Helper()
	var view session.View
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/sessions", req, &view))
	return &view
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	reg, err := corridor.Load(nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.HTTPAddr = ""
	_, err = New(cfg, reg, nil)
	assert.ErrorContains(t, err, "invalid config")

	_, err = New(config.Default(), nil, nil)
	assert.Error(t, err)
}

func TestListCorridors(t *testing.T) {
	ts := newTestServer(t)

	var list []CorridorSummary
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors", nil, &list))
	require.Len(t, list, 4)
	assert.Equal(t, "sgd-gbp", list[0].ID)
	assert.Equal(t, "SGD", list[0].SourceCurrency)
	assert.Greater(t, list[0].CoverSteps, list[0].SerialSteps)
}

func TestGetCorridor(t *testing.T) {
	ts := newTestServer(t)

	var c types.Corridor
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors/gbp-jpy", nil, &c))
	assert.Equal(t, "JPY", c.TargetCurrency)
	assert.NotEmpty(t, c.SerialSteps)

	var errResp ErrorResponse
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/corridors/xxx-yyy", nil, &errResp))
	assert.Equal(t, "NOT_FOUND", errResp.Error.Code)
}

func TestSimulate(t *testing.T) {
	ts := newTestServer(t)

	var result simulation.Result
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/simulate", nil, &result))
	assert.Equal(t, "sgd-gbp", result.CorridorID)
	assert.Equal(t, types.MethodSerial, result.Method)
	assert.Equal(t, types.ChargeBearerShared, result.Summary.Policy)

	step2, ok := result.Step(2)
	require.True(t, ok)
	assert.True(t, step2.AmountAfter.Equal(decimal.RequireFromString("29025.13")), step2.AmountAfter.String())
	assert.Equal(t, "GBP", step2.RunningCurrency)

	// second call is served by the cache
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/simulate", nil, &result))
	assert.Equal(t, uint64(1), ts.results.Stats().Hits)
}

func TestSimulateBadSelection(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"not a number", "amount=lots", "INVALID_AMOUNT"},
		{"negative", "amount=-5", "INVALID_AMOUNT"},
		{"zero", "amount=0", "INVALID_AMOUNT"},
		{"exponent", "amount=1e8000000", "INVALID_AMOUNT"},
		{"finer than cents", "amount=1e-2000000", "INVALID_AMOUNT"},
		{"above limit", "amount=13000000.01", "INVALID_AMOUNT"},
		{"method", "method=wire", "INVALID_SELECTION"},
		{"bearer", "bearer=XYZ", "INVALID_SELECTION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			status := ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/simulate?"+tt.query, nil, &errResp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.code, errResp.Error.Code)
		})
	}
}

func TestCompare(t *testing.T) {
	ts := newTestServer(t)

	var summaries []simulation.Summary
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/compare?method=cover", nil, &summaries))
	require.Len(t, summaries, 3)
	assert.Equal(t, types.ChargeBearerShared, summaries[0].Policy)
	assert.Equal(t, types.ChargeBearerSender, summaries[1].Policy)
	assert.Equal(t, types.ChargeBearerBeneficiary, summaries[2].Policy)
	assert.True(t, summaries[1].SenderOutlay.GreaterThan(summaries[1].Principal))
}

func TestCorridorMT(t *testing.T) {
	ts := newTestServer(t)

	var msgs []MTMessage
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/mt", nil, &msgs))
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "MT103", msgs[0].Name)
	assert.Equal(t, 2, msgs[1].StepID)
	assert.Contains(t, msgs[1].Text, ":32A:240315GBP29025,13")

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/mt?method=cover", nil, &msgs))
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "MT202 COV")

	var errResp ErrorResponse
	status := ts.do(t, http.MethodGet, "/api/v1/corridors/gbp-jpy/mt?amount=1", nil, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestCorridorExport(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.url + "/api/v1/corridors/sgd-gbp/export?format=csv")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "simulation_sgd-gbp_serial_sha.csv")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "step_id,direction,message_type"))

	var errResp ErrorResponse
	status := ts.do(t, http.MethodGet, "/api/v1/corridors/sgd-gbp/export?format=pdf", nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuditEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var result struct {
		Reports []struct {
			CorridorID string `json:"corridor_id"`
			Matched    bool   `json:"matched"`
		} `json:"reports"`
		Issues []json.RawMessage `json:"issues"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/audit?corridor=usd-inr", nil, &result))
	require.Len(t, result.Reports, 2)
	for _, r := range result.Reports {
		assert.Equal(t, "usd-inr", r.CorridorID)
		assert.True(t, r.Matched)
	}
	assert.Empty(t, result.Issues)
}

func TestSessionPlayback(t *testing.T) {
	ts := newTestServer(t)

	view := ts.createSession(t, nil)
	assert.Equal(t, "sgd-gbp", view.Corridor.ID)
	assert.Equal(t, types.MethodSerial, view.Method)
	assert.Equal(t, -1, view.Cursor)
	assert.False(t, view.IsComplete)
	id := view.SessionID

	var v session.View
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/next", nil, &v))
	assert.Equal(t, 0, v.Cursor)
	assert.Equal(t, types.StepActive, v.Steps[0].Status)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/jump", JumpRequest{Index: 2}, &v))
	assert.Equal(t, 2, v.Cursor)
	assert.Equal(t, types.StepCompleted, v.Steps[1].Status)

	var errResp ErrorResponse
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/jump", JumpRequest{Index: 99}, &errResp))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/prev", nil, &v))
	assert.Equal(t, 1, v.Cursor)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/reset", nil, &v))
	assert.Equal(t, -1, v.Cursor)

	var entries []journal.Entry
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/events", nil, &entries))
	kinds := make([]playback.EventKind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []playback.EventKind{playback.EventNext, playback.EventJump, playback.EventPrev, playback.EventReset}, kinds)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/events?since="+itoa(entries[1].Seq), nil, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, playback.EventPrev, entries[0].Kind)
}

func TestSessionAutoplay(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, map[string]string{"corridor_id": "gbp-jpy"}).SessionID

	var v session.View
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/play", nil, &v))
	assert.True(t, v.Playing)

	ticker := ts.clock.last()
	require.NotNil(t, ticker)
	ticker.ch <- time.Now()

	require.Eventually(t, func() bool {
		var cur session.View
		ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, &cur)
		return cur.Cursor == 0 && cur.Playing
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/play", nil, &v))
	assert.False(t, v.Playing)
	assert.Equal(t, 0, v.Cursor)
}

func TestSessionSelect(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, nil).SessionID

	var v session.View
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/next", nil, &v))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", SelectRequest{Method: "cover", ChargeBearer: "OUR"}, &v))
	assert.Equal(t, types.MethodCover, v.Method)
	assert.Equal(t, types.ChargeBearerSender, v.ChargeBearer)
	assert.Equal(t, -1, v.Cursor)

	// a failing field rolls the whole request back
	var errResp ErrorResponse
	status := ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", SelectRequest{CorridorID: "gbp-jpy", Amount: "-1"}, &errResp)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_AMOUNT", errResp.Error.Code)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, &v))
	assert.Equal(t, "sgd-gbp", v.Corridor.ID)
	assert.Equal(t, types.MethodCover, v.Method)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", SelectRequest{CorridorID: "gbp-jpy"}, &v))
	assert.Equal(t, "gbp-jpy", v.Corridor.ID)
	assert.Equal(t, "GBP", v.Corridor.SourceCurrency)
}

func TestSessionMTAndExport(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, CreateSessionRequest{CorridorID: "gbp-jpy", ChargeBearer: "OUR"}).SessionID

	var msgs []MTMessage
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/mt", nil, &msgs))
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0].Text, ":71A:OUR")

	var result simulation.Result
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/export", nil, &result))
	assert.Equal(t, types.ChargeBearerSender, result.Summary.Policy)
}

func TestSessionLifecycleErrors(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.MaxSessions = 1 })

	var errResp ErrorResponse
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{Amount: "0"}, &errResp))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{CorridorID: "xxx"}, &errResp))

	id := ts.createSession(t, nil).SessionID
	require.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodPost, "/api/v1/sessions", nil, &errResp))
	assert.Equal(t, "SESSION_LIMIT", errResp.Error.Code)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil, nil))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, &errResp))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/next", nil, &errResp))

	ts.createSession(t, nil)
}

func TestCreateSessionIdempotencyKey(t *testing.T) {
	ts := newTestServer(t)

	post := func(key string) (*http.Response, session.View) {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, ts.url+"/api/v1/sessions",
			strings.NewReader(`{"corridor_id":"usd-inr","charge_bearer":"OUR"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var view session.View
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
		return resp, view
	}

	first, v1 := post("retry-1")
	require.Equal(t, http.StatusCreated, first.StatusCode)
	assert.Empty(t, first.Header.Get("Idempotent-Replayed"))

	second, v2 := post("retry-1")
	require.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, v1.SessionID, v2.SessionID)
	assert.Equal(t, 1, ts.sessions.Len())

	_, v3 := post("retry-2")
	assert.NotEqual(t, v1.SessionID, v3.SessionID)
	assert.Equal(t, 2, ts.sessions.Len())
}

func TestCreateSessionRateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	ts.createSession(t, nil)
	ts.createSession(t, nil)

	var errResp ErrorResponse
	require.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/api/v1/sessions", nil, &errResp))
	assert.Equal(t, "RATE_LIMITED", errResp.Error.Code)

	// Only session creation is limited
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/corridors", nil, nil))
}

func TestCreateSessionRateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1}
	})

	post := func(forwarded string) int {
		req, err := http.NewRequest(http.MethodPost, ts.url+"/api/v1/sessions", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", forwarded)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, post("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, post("203.0.113.2"))
	assert.Equal(t, 1, ts.sessions.Len())
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	reg, err := corridor.Load(nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.RateLimit.TrustedProxies = []string{"not-an-ip"}
	_, err = New(cfg, reg, zap.NewNop())
	assert.ErrorContains(t, err, "trusted_proxies")
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, nil)

	var health struct {
		Status     string `json:"status"`
		Sessions   int    `json:"sessions"`
		Components []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"components"`
	}
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/health", nil, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.Len(t, health.Components, 3)

	resp, err := http.Get(ts.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "corridorsim_server_simulations_total")
	assert.Contains(t, text, "corridorsim_server_sessions_active 1")
	assert.Contains(t, text, `path="/api/v1/sessions"`)
}

func TestWebSocketPlayback(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, nil).SessionID

	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/api/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return ts.hub.GetConnectedClientsCount() == 1
	}, time.Second, 10*time.Millisecond)

	type wsMessage struct {
		Type      string         `json:"type"`
		SessionID string         `json:"session_id"`
		Data      playback.Event `json:"data"`
	}
	read := func() wsMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	// HTTP transitions are pushed to the socket
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/next", nil, nil))
	msg := read()
	assert.Equal(t, "playback", msg.Type)
	assert.Equal(t, id, msg.SessionID)
	assert.Equal(t, playback.EventNext, msg.Data.Kind)
	assert.Equal(t, 0, msg.Data.Snapshot.Cursor)

	// and the socket can drive the session
	require.NoError(t, conn.WriteJSON(ClientCommand{Type: "command", Command: "jump", Index: 3}))
	msg = read()
	assert.Equal(t, playback.EventJump, msg.Data.Kind)
	assert.Equal(t, 3, msg.Data.Snapshot.Cursor)

	require.NoError(t, conn.WriteJSON(ClientCommand{Type: "command", Command: "fly"}))
	var errMsg map[string]interface{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg["type"])
}

func TestWebSocketUnknownSession(t *testing.T) {
	ts := newTestServer(t)

	var errResp ErrorResponse
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/sessions/nope/ws", nil, &errResp))
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}
