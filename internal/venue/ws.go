package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/updownhft/updownbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every best bid/ask tick derived from a book
// snapshot.
type TickHandler func(domain.Tick)

// tokenRef maps an outcome token back to its instrument and side.
type tokenRef struct {
	instrumentID string
	side         domain.TickSide
}

// BookClient is a WebSocket client for the venue's market data feed. It
// subscribes to orderbook snapshots for outcome tokens, collapses each
// snapshot to a best bid/ask tick, and dispatches it to registered handlers.
// It reconnects with exponential backoff and restores subscriptions.
type BookClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsCommand

	// tokens maps token ID to (instrument, side) for tick attribution.
	tokens   map[string]tokenRef
	tokensMu sync.RWMutex

	handlers  []TickHandler
	handlerMu sync.RWMutex

	onReconnect func()

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewBookClient creates a WebSocket client for the given market data endpoint,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewBookClient(wsURL string) *BookClient {
	return &BookClient{
		wsURL:  wsURL,
		tokens: make(map[string]tokenRef),
		done:   make(chan struct{}),
	}
}

// OnTick registers a handler called for every derived tick.
func (c *BookClient) OnTick(h TickHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = append(c.handlers, h)
}

// OnReconnect registers a callback invoked after each successful reconnect.
func (c *BookClient) OnReconnect(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = f
}

// Connect establishes the WebSocket connection.
func (c *BookClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("venue/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("venue/ws: connect: %w", err)
	}

	c.conn = conn

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range c.subscriptions {
		if err := c.sendCommand(cmd); err != nil {
			return fmt.Errorf("venue/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeInstruments subscribes to book updates for both outcome tokens of
// every instrument and records the token-to-instrument mapping.
func (c *BookClient) SubscribeInstruments(ctx context.Context, insts []domain.Instrument) error {
	assetIDs := make([]string, 0, 2*len(insts))

	c.tokensMu.Lock()
	for _, inst := range insts {
		if inst.TokenYes == "" || inst.TokenNo == "" {
			continue
		}
		c.tokens[inst.TokenYes] = tokenRef{instrumentID: inst.ID, side: domain.TickSideYes}
		c.tokens[inst.TokenNo] = tokenRef{instrumentID: inst.ID, side: domain.TickSideNo}
		assetIDs = append(assetIDs, inst.TokenYes, inst.TokenNo)
	}
	c.tokensMu.Unlock()

	if len(assetIDs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("venue/ws: not connected")
	}

	cmd := wsCommand{Type: "subscribe", Channel: "book", Assets: assetIDs}
	if err := c.sendCommand(cmd); err != nil {
		return fmt.Errorf("venue/ws: subscribe: %w", err)
	}
	c.subscriptions = append(c.subscriptions, cmd)
	return nil
}

// UnsubscribeInstrument drops the subscription for one instrument's tokens.
func (c *BookClient) UnsubscribeInstrument(ctx context.Context, inst domain.Instrument) error {
	c.tokensMu.Lock()
	delete(c.tokens, inst.TokenYes)
	delete(c.tokens, inst.TokenNo)
	c.tokensMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	assets := []string{inst.TokenYes, inst.TokenNo}
	if err := c.sendCommand(wsCommand{Type: "unsubscribe", Channel: "book", Assets: assets}); err != nil {
		return fmt.Errorf("venue/ws: unsubscribe: %w", err)
	}

	drop := map[string]struct{}{inst.TokenYes: {}, inst.TokenNo: {}}
	filtered := c.subscriptions[:0]
	for _, sub := range c.subscriptions {
		remaining := make([]string, 0, len(sub.Assets))
		for _, a := range sub.Assets {
			if _, found := drop[a]; !found {
				remaining = append(remaining, a)
			}
		}
		if len(remaining) > 0 {
			sub.Assets = remaining
			filtered = append(filtered, sub)
		}
	}
	c.subscriptions = filtered
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (c *BookClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return c.conn.Close()
	}

	return nil
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold c.mu.
func (c *BookClient) sendCommand(cmd wsCommand) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches them
// as ticks. It runs in its own goroutine. On disconnect, it attempts to
// reconnect with exponential backoff.
func (c *BookClient) readLoop() {
	defer func() {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		c.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (c *BookClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and dispatches book snapshots as ticks.
// The feed may deliver a single message or a JSON array of messages.
func (c *BookClient) handleMessage(raw []byte) {
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			return
		}
		for _, item := range batch {
			c.handleMessage(item)
		}
		return
	}

	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable messages.
	}
	if envelope.EventType != "book" {
		return
	}

	var book bookMessage
	if err := json.Unmarshal(raw, &book); err != nil {
		return
	}

	c.tokensMu.RLock()
	ref, ok := c.tokens[book.AssetID]
	c.tokensMu.RUnlock()
	if !ok {
		return
	}

	tick, ok := book.toTick(ref.instrumentID, ref.side)
	if !ok {
		return
	}

	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (c *BookClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-c.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.mu.RLock()
			cb := c.onReconnect
			c.mu.RUnlock()
			if cb != nil {
				cb()
			}
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
