package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Tick is one trade/quote message received from a provider stream
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
	At     time.Time       `json:"at"`
}

// Bar is an aggregated interval of ticks for one symbol
type Bar struct {
	Symbol string          `json:"symbol"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
}

// subscribeRequest is the message sent after connecting
type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Collector reads ticks from a provider WebSocket stream for a bounded
// listening window. The window is a hard cutoff: when it elapses the
// collector returns whatever was received, which is the expected terminal
// condition rather than a failure.
type Collector struct {
	dialer *websocket.Dialer
}

// NewCollector creates a collector with default dial settings
func NewCollector() *Collector {
	return &Collector{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Collect dials streamURL, subscribes to symbols and reads ticks until the
// listening window elapses. Dial and subscribe failures are returned as
// errors; a mid-stream read failure returns the ticks collected so far
// alongside the error.
func (c *Collector) Collect(ctx context.Context, streamURL string, symbols []string, window time.Duration) ([]Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	cutoff := time.Now().Add(window)

	conn, _, err := c.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial stream %s: %w", streamURL, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: symbols}); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	// Unblock the read loop when the window elapses
	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()
	conn.SetReadDeadline(cutoff)

	var ticks []Tick
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if windowElapsed(ctx, err) {
				log.Printf("Listening window elapsed: ticks=%d", len(ticks))
				return ticks, nil
			}
			return ticks, fmt.Errorf("stream read failed: %w", err)
		}

		var tick Tick
		if err := json.Unmarshal(data, &tick); err != nil {
			// Providers interleave heartbeats and acks with ticks
			continue
		}
		if tick.Symbol == "" {
			continue
		}
		if tick.At.IsZero() {
			tick.At = time.Now().UTC()
		}
		ticks = append(ticks, tick)
	}
}

// windowElapsed distinguishes the expected cutoff from a genuine failure
func windowElapsed(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// AggregateBars folds ticks into one bar per symbol, ordered by symbol
func AggregateBars(ticks []Tick) []Bar {
	bySymbol := make(map[string]*Bar)
	for _, t := range ticks {
		b, ok := bySymbol[t.Symbol]
		if !ok {
			bySymbol[t.Symbol] = &Bar{
				Symbol: t.Symbol,
				Open:   t.Price,
				High:   t.Price,
				Low:    t.Price,
				Close:  t.Price,
				Volume: t.Size,
				Start:  t.At,
				End:    t.At,
			}
			continue
		}
		if t.Price.GreaterThan(b.High) {
			b.High = t.Price
		}
		if t.Price.LessThan(b.Low) {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Volume = b.Volume.Add(t.Size)
		if t.At.Before(b.Start) {
			b.Start = t.At
			b.Open = t.Price
		}
		if t.At.After(b.End) {
			b.End = t.At
			b.Close = t.Price
		}
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	bars := make([]Bar, 0, len(symbols))
	for _, s := range symbols {
		bars = append(bars, *bySymbol[s])
	}
	return bars
}
