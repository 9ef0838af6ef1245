package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/internal/strategy"
	"github.com/stratos-labs/quant-backend/pkg/types"
)

// buyOnce buys one unit on the first bar it sees and then holds.
type buyOnce struct {
	bought bool
}

func (b *buyOnce) Name() string { return "buy_once" }

func (b *buyOnce) Initialize() error {
	b.bought = false
	return nil
}

func (b *buyOnce) OnBar(symbol string, _ types.OHLCV, _ []types.OHLCV) ([]types.Decision, error) {
	if b.bought {
		return nil, nil
	}
	b.bought = true
	return []types.Decision{types.OrderIntent{
		Symbol:   symbol,
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(1),
		Reason:   "first bar entry",
	}}, nil
}

func (b *buyOnce) OnFill(types.Trade) {}
func (b *buyOnce) OnStop()            {}

func testHistory(symbols []string, _ types.Timeframe, _, _ time.Time) (map[string][]types.OHLCV, error) {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make(map[string][]types.OHLCV, len(symbols))
	for _, sym := range symbols {
		bars := make([]types.OHLCV, 10)
		for i := range bars {
			price := decimal.NewFromInt(int64(100 + i))
			bars[i] = types.OHLCV{
				Timestamp: t0.Add(time.Duration(i) * time.Hour),
				Open:      price,
				High:      price.Add(decimal.NewFromInt(1)),
				Low:       price.Sub(decimal.NewFromInt(1)),
				Close:     price,
				Volume:    decimal.NewFromInt(1000),
			}
		}
		out[sym] = bars
	}
	return out, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := strategy.NewRegistry(zap.NewNop())
	registry.Register("buy_once", func(*zap.Logger) strategy.Strategy { return &buyOnce{} })
	s := NewServer(zap.NewNop(), Config{AllowedOrigins: []string{"*"}}, registry, testHistory)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func submitRun(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	body := fmt.Sprintf(`{"id":%q,"strategy":"buy_once","symbols":["BTCUSDT"],"initialCapital":"100000"}`, id)
	resp, err := http.Post(srv.URL+"/api/v1/backtests", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("submit status = %d, body %s", resp.StatusCode, raw)
	}
}

func waitForStatus(t *testing.T, srv *httptest.Server, id, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(srv.URL + "/api/v1/backtests/" + id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		var state struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		resp.Body.Close()
		if state.Status == want {
			return
		}
		if state.Status == StatusFailed && want != StatusFailed {
			t.Fatalf("run failed: %s", state.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", id, want)
}

func TestHealthAndStrategies(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/strategies")
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	defer resp.Body.Close()
	var got struct {
		Strategies []string `json:"strategies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, name := range got.Strategies {
		if name == "buy_once" {
			found = true
		}
	}
	if !found {
		t.Fatalf("strategies = %v, want buy_once listed", got.Strategies)
	}
}

func TestBacktestLifecycle(t *testing.T) {
	srv := newTestServer(t)
	submitRun(t, srv, "run-1")
	waitForStatus(t, srv, "run-1", StatusCompleted)

	resp, err := http.Get(srv.URL + "/api/v1/backtests/run-1/result")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	var result struct {
		Trades  []json.RawMessage `json:"trades"`
		Summary struct {
			TotalTrades int `json:"totalTrades"`
		} `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	resp.Body.Close()
	if len(result.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(result.Trades))
	}
	if result.Summary.TotalTrades != 1 {
		t.Fatalf("summary total trades = %d, want 1", result.Summary.TotalTrades)
	}

	resp, err = http.Get(srv.URL + "/api/v1/backtests/run-1/report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "markdown") {
		t.Fatalf("report content type = %q", ct)
	}
	if !strings.Contains(string(raw), "Total return") {
		t.Fatalf("report missing summary table:\n%s", raw)
	}

	resp, err = http.Get(srv.URL + "/api/v1/backtests/run-1/trades")
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	var trades struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trades); err != nil {
		t.Fatalf("decode trades: %v", err)
	}
	resp.Body.Close()
	if trades.Count != 1 {
		t.Fatalf("trade count = %d, want 1", trades.Count)
	}
}

func TestSubmitUnknownStrategy(t *testing.T) {
	srv := newTestServer(t)
	body := `{"strategy":"nope","symbols":["BTCUSDT"],"initialCapital":"100000"}`
	resp, err := http.Post(srv.URL+"/api/v1/backtests", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	srv := newTestServer(t)
	submitRun(t, srv, "dup")
	body := `{"id":"dup","strategy":"buy_once","symbols":["BTCUSDT"],"initialCapital":"100000"}`
	resp, err := http.Post(srv.URL+"/api/v1/backtests", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/api/v1/backtests/missing", "/api/v1/backtests/missing/result"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestWebSocketReceivesCompletion(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	submitRun(t, srv, "ws-run")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if event.Method != "backtest:complete" {
			continue
		}
		payload, ok := event.Payload.(map[string]any)
		if !ok {
			t.Fatalf("payload type = %T", event.Payload)
		}
		if payload["id"] != "ws-run" || payload["status"] != StatusCompleted {
			t.Fatalf("payload = %v", payload)
		}
		return
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	submitRun(t, srv, "m-run")
	waitForStatus(t, srv, "m-run", StatusCompleted)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)
	for _, metric := range []string{
		"quant_backtest_runs_started_total 1",
		"quant_backtest_runs_completed_total 1",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("metrics output missing %q:\n%s", metric, body)
		}
	}
}
