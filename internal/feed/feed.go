// Package feed streams live tickers from both venues into the price cache
// and nudges the engine on every update.
package feed

import (
	"context"
	"time"

	"github.com/minsukang/kimchibot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// TickHandler is called after a ticker has been written to the price cache.
// Handlers must not block; the engine's dispatch path returns immediately
// when another update is already being processed.
type TickHandler func(ctx context.Context, venue domain.Venue, symbol string)
