package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minsukang/kimchibot/internal/domain"
)

// DefaultBinanceWSURL is the production Binance combined-stream endpoint.
const DefaultBinanceWSURL = "wss://stream.binance.com:9443/stream"

// BinanceFeed subscribes to USDT-market 24h ticker streams over Binance's
// combined WebSocket and writes every quote into the price cache.
type BinanceFeed struct {
	wsURL   string
	symbols []string
	prices  domain.PriceCache
	onTick  TickHandler
	logger  *slog.Logger
}

// NewBinanceFeed creates a feed for the given base symbols (e.g. "XRP").
func NewBinanceFeed(wsURL string, symbols []string, prices domain.PriceCache, onTick TickHandler, logger *slog.Logger) *BinanceFeed {
	if wsURL == "" {
		wsURL = DefaultBinanceWSURL
	}
	return &BinanceFeed{
		wsURL:   wsURL,
		symbols: symbols,
		prices:  prices,
		onTick:  onTick,
		logger:  logger.With("component", "feed.binance"),
	}
}

type binanceStreamEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		EventType   string `json:"e"`
		EventTime   int64  `json:"E"`
		Symbol      string `json:"s"`
		LastPrice   string `json:"c"`
		QuoteVolume string `json:"q"`
	} `json:"data"`
}

// Run streams until ctx is cancelled, reconnecting with exponential backoff.
func (f *BinanceFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("stream interrupted, reconnecting",
			"error", err,
			"delay", delay.String(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// streamURL builds the combined-stream URL; subscriptions ride in the query
// so there is nothing to restore after a reconnect.
func (f *BinanceFeed) streamURL() string {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"usdt@ticker")
	}
	return f.wsURL + "?streams=" + strings.Join(streams, "/")
}

func (f *BinanceFeed) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed/binance: connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	streamDone := make(chan struct{})
	defer close(streamDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-streamDone:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	// Binance pings the client; answering resets our read deadline.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	f.logger.Info("connected", "symbols", len(f.symbols))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed/binance: %w: %v", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, message)
	}
}

func (f *BinanceFeed) handleMessage(ctx context.Context, raw []byte) {
	var env binanceStreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // Silently drop unparseable messages.
	}
	if env.Data.EventType != "24hrTicker" {
		return
	}
	symbol := strings.TrimSuffix(env.Data.Symbol, "USDT")
	if symbol == env.Data.Symbol {
		return
	}
	price, err := strconv.ParseFloat(env.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	volume, _ := strconv.ParseFloat(env.Data.QuoteVolume, 64)

	tick := domain.Ticker{
		Price:     price,
		Volume24h: volume,
		At:        time.UnixMilli(env.Data.EventTime),
	}
	if err := f.prices.SetTicker(ctx, domain.VenueBinance, symbol, tick); err != nil {
		f.logger.Warn("cache write failed", "symbol", symbol, "error", err)
		return
	}
	if f.onTick != nil {
		f.onTick(ctx, domain.VenueBinance, symbol)
	}
}
