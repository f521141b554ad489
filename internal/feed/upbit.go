package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/minsukang/kimchibot/internal/domain"
)

// DefaultUpbitWSURL is the production Upbit streaming endpoint.
const DefaultUpbitWSURL = "wss://api.upbit.com/websocket/v1"

// UpbitFeed subscribes to KRW-market tickers over Upbit's WebSocket and
// writes every quote into the price cache. The connection is re-established
// with exponential backoff when it drops.
type UpbitFeed struct {
	wsURL   string
	symbols []string
	prices  domain.PriceCache
	onTick  TickHandler
	logger  *slog.Logger
}

// NewUpbitFeed creates a feed for the given base symbols (e.g. "XRP").
func NewUpbitFeed(wsURL string, symbols []string, prices domain.PriceCache, onTick TickHandler, logger *slog.Logger) *UpbitFeed {
	if wsURL == "" {
		wsURL = DefaultUpbitWSURL
	}
	return &UpbitFeed{
		wsURL:   wsURL,
		symbols: symbols,
		prices:  prices,
		onTick:  onTick,
		logger:  logger.With("component", "feed.upbit"),
	}
}

type upbitTickerMessage struct {
	Type             string  `json:"type"`
	Code             string  `json:"code"`
	TradePrice       float64 `json:"trade_price"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	Timestamp        int64   `json:"timestamp"`
}

// Run streams until ctx is cancelled. Connection failures are retried with
// exponential backoff; Run only returns on cancellation.
func (f *UpbitFeed) Run(ctx context.Context) error {
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

// stream runs one connection lifetime: dial, subscribe, read until error.
func (f *UpbitFeed) stream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed/upbit: connect: %w", err)
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

	if err := f.subscribe(conn); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go f.pingLoop(ctx, conn)

	f.logger.Info("connected", "symbols", len(f.symbols))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed/upbit: %w: %v", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, message)
	}
}

// subscribe sends Upbit's array-form subscription: a ticket, the ticker
// request with market codes, and the frame format.
func (f *UpbitFeed) subscribe(conn *websocket.Conn) error {
	codes := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		codes = append(codes, "KRW-"+s)
	}
	payload := []any{
		map[string]string{"ticket": uuid.New().String()},
		map[string]any{"type": "ticker", "codes": codes},
		map[string]string{"format": "DEFAULT"},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feed/upbit: marshal subscription: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed/upbit: subscribe: %w", err)
	}
	return nil
}

func (f *UpbitFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *UpbitFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg upbitTickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // Silently drop unparseable messages.
	}
	if msg.Type != "ticker" || msg.TradePrice <= 0 {
		return
	}
	symbol := strings.TrimPrefix(msg.Code, "KRW-")
	if symbol == msg.Code {
		return
	}

	tick := domain.Ticker{
		Price:     msg.TradePrice,
		Volume24h: msg.AccTradePrice24h,
		At:        time.UnixMilli(msg.Timestamp),
	}
	if err := f.prices.SetTicker(ctx, domain.VenueUpbit, symbol, tick); err != nil {
		f.logger.Warn("cache write failed", "symbol", symbol, "error", err)
		return
	}
	if f.onTick != nil {
		f.onTick(ctx, domain.VenueUpbit, symbol)
	}
}
