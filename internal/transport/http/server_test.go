package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/broadcast"
	"pulse/internal/engine"
	"pulse/internal/market"
	"pulse/internal/runner"
	"pulse/internal/signal"
	"pulse/internal/store/decisionlog"
	"pulse/internal/store/sqlite"
)

type stubSource struct{}

func (stubSource) FetchHistory(_ context.Context, _, _ string, _ int) ([]market.Candle, error) {
	out := make([]market.Candle, 150)
	price := 100.0
	for i := range out {
		step := 1.0
		if i%3 == 2 {
			step = -1.0
		}
		next := price + step
		high, low := price, next
		if next > price {
			high, low = next, price
		}
		out[i] = market.Candle{
			OpenTime:  int64(i+1) * 60_000,
			CloseTime: int64(i+2)*60_000 - 1,
			Open:      price,
			High:      high + 0.2,
			Low:       low - 0.2,
			Close:     next,
			Volume:    100,
		}
		price = next
	}
	return out, nil
}

func (stubSource) Close() error { return nil }

type testEnv struct {
	server *Server
	store  *sqlite.Store
	hub    *broadcast.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := sqlite.New(filepath.Join(dir, "pulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	decisions, err := decisionlog.New(filepath.Join(dir, "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = decisions.Close() })

	hub := broadcast.NewHub(8)
	t.Cleanup(hub.Close)

	fetcher := market.NewFetcher(stubSource{}, market.FetchConfig{
		ShortInterval:  "1m",
		MediumInterval: "3m",
		LongInterval:   "15m",
		MaxAttempts:    1,
		RetryBackoff:   time.Millisecond,
	})
	run := runner.New(runner.Config{
		Symbols:      []string{"BTCUSDT"},
		Interval:     time.Minute,
		CycleTimeout: 5 * time.Second,
		Engine: engine.Config{
			MinTrendStrength:    0.01,
			VolumeRatioMin:      0.5,
			VolumeRatioMax:      3.0,
			MinAvgSeparationPct: 0.001,
			TTL:                 30 * time.Minute,
			Public:              true,
		},
	}, fetcher, st, hub, nil)

	srv, err := NewServer(ServerConfig{
		Signals:        st,
		Executions:     st,
		Runner:         run,
		Hub:            hub,
		Decisions:      decisions,
		Source:         stubSource{},
		DefaultSymbols: []string{"BTCUSDT"},
		Heartbeat:      50 * time.Millisecond,
	})
	require.NoError(t, err)
	return &testEnv{server: srv, store: st, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateThenReadActive(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/signals/generate", obj{"symbol": "btcusdt"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "generated", body["result"])
	require.Contains(t, body, "signal")
	sig := body["signal"].(map[string]any)
	assert.Equal(t, "BTCUSDT", sig["symbol"])
	assert.Equal(t, string(signal.ActionBuy), sig["action"])

	rec = env.do(t, http.MethodGet, "/api/signals/active?symbol=BTCUSDT", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode(t, rec)
	assert.Equal(t, float64(1), active["count"])
}

func TestGenerateWithoutBodyUsesConfiguredSymbol(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/signals/generate", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sig := decode(t, rec)["signal"].(map[string]any)
	assert.Equal(t, "BTCUSDT", sig["symbol"])
}

func TestDecideEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/signals/generate", obj{"symbol": "BTCUSDT"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sigID := decode(t, rec)["signal"].(map[string]any)["id"].(string)

	decideBody := obj{
		"signal_id": sigID,
		"settings": obj{
			"user_id":        "u1",
			"direction":      "BOTH",
			"risk_per_trade": 0.02,
			"leverage":       10,
			"min_confidence": 50,
		},
		"account": obj{
			"available_balance":   1000,
			"open_position_count": 0,
		},
	}

	rec = env.do(t, http.MethodPost, "/api/bot/decide", decideBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verdict := decode(t, rec)
	assert.Equal(t, true, verdict["execute"])
	assert.Equal(t, "all checks passed", verdict["reason"])

	// Every decide call lands in the audit log.
	rec = env.do(t, http.MethodGet, "/api/bot/decisions?signal_id="+sigID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}

func TestExecutionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/signals/generate", obj{"symbol": "BTCUSDT"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	generated := decode(t, rec)["signal"].(map[string]any)
	sigID := generated["id"].(string)
	refPrice := generated["reference_price"].(float64)

	decideFor := func(user string) map[string]any {
		rec := env.do(t, http.MethodPost, "/api/bot/decide", obj{
			"signal_id": sigID,
			"settings":  obj{"user_id": user, "risk_per_trade": 0.02, "leverage": 10, "min_confidence": 50},
			"account":   obj{"available_balance": 1000},
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode(t, rec)
	}

	// A positive verdict opens a PENDING execution.
	first := decideFor("u1")
	require.Equal(t, true, first["execute"])
	require.Contains(t, first, "execution_id")
	firstID := strconv.FormatInt(int64(first["execution_id"].(float64)), 10)

	// Same account asking again hits the duplicate guard.
	repeat := decideFor("u1")
	assert.Equal(t, false, repeat["execute"])
	assert.Contains(t, repeat["reason"], "already handled")
	assert.NotContains(t, repeat, "execution_id")

	// A different account still gets its own execution.
	second := decideFor("u2")
	require.Equal(t, true, second["execute"])
	secondID := strconv.FormatInt(int64(second["execution_id"].(float64)), 10)

	rec = env.do(t, http.MethodGet, "/api/bot/executions?signal_id="+sigID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["count"])

	// First EXECUTED report wins the signal.
	rec = env.do(t, http.MethodPost, "/api/bot/executions/"+firstID,
		obj{"status": "EXECUTED", "actual_entry_price": refPrice * 1.001, "latency_ms": 40}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, string(signal.StatusExecuted), body["signal_status"])
	exec := body["execution"].(map[string]any)
	assert.Equal(t, "EXECUTED", exec["status"])
	assert.InDelta(t, 0.1, exec["slippage"].(float64), 0.01)

	rec = env.do(t, http.MethodGet, "/api/signals/active?symbol=BTCUSDT", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	// The second account's report resolves benignly: its record stands but
	// the signal was already advanced.
	rec = env.do(t, http.MethodPost, "/api/bot/executions/"+secondID,
		obj{"status": "EXECUTED", "actual_entry_price": refPrice}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["already_resolved"])
}

func TestFailedExecutionAllowsRetry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/signals/generate", obj{"symbol": "BTCUSDT"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	sigID := decode(t, rec)["signal"].(map[string]any)["id"].(string)

	decide := func() map[string]any {
		rec := env.do(t, http.MethodPost, "/api/bot/decide", obj{
			"signal_id": sigID,
			"settings":  obj{"user_id": "u1", "risk_per_trade": 0.02, "leverage": 10, "min_confidence": 50},
			"account":   obj{"available_balance": 1000},
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode(t, rec)
	}

	first := decide()
	require.Equal(t, true, first["execute"])
	execID := strconv.FormatInt(int64(first["execution_id"].(float64)), 10)

	rec = env.do(t, http.MethodPost, "/api/bot/executions/"+execID, obj{"status": "FAILED"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A failed attempt is retryable; the same record goes back to PENDING.
	retry := decide()
	require.Equal(t, true, retry["execute"])
	assert.Equal(t, first["execution_id"], retry["execution_id"])
}

func TestExecutionReportRejections(t *testing.T) {
	env := newTestEnv(t)

	t.Run("unknown execution", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bot/executions/9999", obj{"status": "EXECUTED"}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bot/executions/nope", obj{"status": "EXECUTED"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad status", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bot/executions/1", obj{"status": "MAYBE"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDecideRejections(t *testing.T) {
	env := newTestEnv(t)

	t.Run("schema violation", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bot/decide",
			obj{"signal_id": "s", "settings": obj{"user_id": "u1", "leverage": -2}, "account": obj{}}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("identity mismatch", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bot/decide",
			obj{"signal_id": "s", "settings": obj{"user_id": "u1"}, "account": obj{}},
			map[string]string{"X-User-ID": "someone-else"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown signal", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/bot/decide",
			obj{"signal_id": "missing", "settings": obj{"user_id": "u1"}, "account": obj{}}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestChartEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/signals/chart?symbol=BTCUSDT", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "BTCUSDT")
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_ = env.do(t, http.MethodPost, "/api/signals/generate", obj{"symbol": "BTCUSDT"}, nil)

	rec := env.do(t, http.MethodGet, "/api/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	runnerStats := body["runner"].(map[string]any)
	assert.Equal(t, float64(1), runnerStats["cycles_run"])
	assert.Equal(t, float64(1), runnerStats["signals_generated"])
}

func TestStreamDeliversConnectedAndSignalFrames(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/signals/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	events := make(chan string, 16)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(events)
				return
			}
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()

	waitEvent := func(want string) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case ev, ok := <-events:
				require.True(t, ok, "stream closed before %q", want)
				if ev == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q frame", want)
			}
		}
	}

	waitEvent("connected")
	waitEvent("heartbeat")

	env.hub.Publish(&signal.Signal{ID: "sig-live", Symbol: "BTCUSDT", Action: signal.ActionBuy, Status: signal.StatusActive})
	waitEvent("signal")
}

// obj keeps request literals terse without importing gin into the test.
type obj = map[string]any
