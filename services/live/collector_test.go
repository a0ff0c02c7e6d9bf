package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{}

// streamServer serves one WebSocket connection: it waits for the
// subscribe message, replies with the given payloads, then idles until
// the client disconnects.
func streamServer(t *testing.T, payloads []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Op != "subscribe" {
			t.Errorf("want subscribe op, got %q", sub.Op)
		}

		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}

		// Idle; the collector hangs up when its window elapses
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCollectReturnsTicksWhenWindowElapses(t *testing.T) {
	srv := streamServer(t, []string{
		`{"symbol":"BTC-USD","price":"50000.5","size":"0.1"}`,
		`{"op":"heartbeat"}`,
		`{"symbol":"ETH-USD","price":"3000","size":"2"}`,
	})
	defer srv.Close()

	c := NewCollector()
	ticks, err := c.Collect(context.Background(), wsURL(srv), []string{"BTC-USD", "ETH-USD"}, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("window cutoff must not be an error, got %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("want 2 ticks (heartbeat skipped), got %d", len(ticks))
	}
	if ticks[0].Symbol != "BTC-USD" || ticks[1].Symbol != "ETH-USD" {
		t.Fatalf("unexpected symbols: %v", ticks)
	}
	if !ticks[0].Price.Equal(decimal.RequireFromString("50000.5")) {
		t.Fatalf("want price 50000.5, got %s", ticks[0].Price)
	}
	if ticks[0].At.IsZero() {
		t.Fatal("tick timestamp must be filled when the provider omits it")
	}
}

func TestCollectEmptyWindow(t *testing.T) {
	srv := streamServer(t, nil)
	defer srv.Close()

	c := NewCollector()
	ticks, err := c.Collect(context.Background(), wsURL(srv), nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("silent window must not be an error, got %v", err)
	}
	if len(ticks) != 0 {
		t.Fatalf("want no ticks, got %d", len(ticks))
	}
}

func TestCollectDialFailure(t *testing.T) {
	c := NewCollector()
	_, err := c.Collect(context.Background(), "ws://127.0.0.1:1/stream", nil, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestAggregateBars(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 59, 0, 0, time.UTC)
	d := decimal.RequireFromString

	ticks := []Tick{
		{Symbol: "BTC-USD", Price: d("100"), Size: d("1"), At: base},
		{Symbol: "ETH-USD", Price: d("10"), Size: d("5"), At: base.Add(time.Second)},
		{Symbol: "BTC-USD", Price: d("105"), Size: d("2"), At: base.Add(2 * time.Second)},
		{Symbol: "BTC-USD", Price: d("99"), Size: d("1"), At: base.Add(3 * time.Second)},
		{Symbol: "BTC-USD", Price: d("103"), Size: d("1"), At: base.Add(4 * time.Second)},
	}

	bars := AggregateBars(ticks)
	if len(bars) != 2 {
		t.Fatalf("want 2 bars, got %d", len(bars))
	}

	btc := bars[0]
	if btc.Symbol != "BTC-USD" {
		t.Fatalf("bars must be sorted by symbol, got %s first", btc.Symbol)
	}
	if !btc.Open.Equal(d("100")) || !btc.High.Equal(d("105")) || !btc.Low.Equal(d("99")) || !btc.Close.Equal(d("103")) {
		t.Fatalf("wrong OHLC: %+v", btc)
	}
	if !btc.Volume.Equal(d("5")) {
		t.Fatalf("want volume 5, got %s", btc.Volume)
	}
	if !btc.Start.Equal(base) || !btc.End.Equal(base.Add(4*time.Second)) {
		t.Fatalf("wrong bar window: %v - %v", btc.Start, btc.End)
	}

	eth := bars[1]
	if !eth.Open.Equal(d("10")) || !eth.Close.Equal(d("10")) || !eth.Volume.Equal(d("5")) {
		t.Fatalf("wrong single-tick bar: %+v", eth)
	}
}

func TestAggregateBarsEmpty(t *testing.T) {
	if bars := AggregateBars(nil); len(bars) != 0 {
		t.Fatalf("want no bars for no ticks, got %d", len(bars))
	}
}
