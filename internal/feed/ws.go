// ws.go implements the live tick feed for paper trading.
//
// The feed subscribes by symbol and receives JSON tick snapshots. It
// auto-reconnects with exponential backoff (1s -> 30s max) and re-subscribes
// to all tracked symbols on reconnection. A read deadline detects silent
// server failures within ~2 missed pings.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/link-light/apexquant/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	tickBufferSize   = 256
)

// wsSubscribeMsg is sent on connect and on subscription changes.
type wsSubscribeMsg struct {
	Operation string   `json:"operation"` // "subscribe" or "unsubscribe"
	Symbols   []string `json:"symbols"`
}

// WSFeed maintains a WebSocket tick stream with subscription tracking,
// message routing, and automatic reconnection.
type WSFeed struct {
	url    string
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tickCh chan types.TickSnapshot
}

// NewWSFeed creates a live tick feed for the given WebSocket URL.
func NewWSFeed(wsURL string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		tickCh:     make(chan types.TickSnapshot, tickBufferSize),
		logger:     logger.With("component", "ws_feed"),
	}
}

// Ticks returns a read-only channel of incoming tick snapshots.
func (f *WSFeed) Ticks() <-chan types.TickSnapshot { return f.tickCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the stream.
func (f *WSFeed) Subscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, sym := range symbols {
		f.subscribed[sym] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Symbols: symbols})
}

// Unsubscribe removes symbols from the stream.
func (f *WSFeed) Unsubscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, sym := range symbols {
		delete(f.subscribed, sym)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(wsSubscribeMsg{Operation: "unsubscribe", Symbols: symbols})
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *WSFeed) resubscribe() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for sym := range f.subscribed {
		symbols = append(symbols, sym)
	}
	f.subscribedMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return f.writeJSON(wsSubscribeMsg{Operation: "subscribe", Symbols: symbols})
}

func (f *WSFeed) dispatchMessage(msg []byte) {
	var tick types.TickSnapshot
	if err := json.Unmarshal(msg, &tick); err != nil {
		f.logger.Warn("unparseable tick message", "error", err)
		return
	}
	if tick.Symbol == "" {
		return
	}

	select {
	case f.tickCh <- tick:
	default:
		f.logger.Warn("tick channel full, dropping tick", "symbol", tick.Symbol)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.Warn("ping failed", "error", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		// Not connected yet; the subscription set is replayed on connect.
		return nil
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
