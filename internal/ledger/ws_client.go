package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// WSFeed implements EventFeed over a gorilla/websocket connection.
// After a reconnect it resubscribes from the last delivered block, so
// duplicate and replayed notifications are expected downstream.
type WSFeed struct {
	endpoint string
	config   WSConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subscription state, kept for resubscription after reconnect
	subMu      sync.Mutex
	subTypes   []string
	subActive  bool
	out        chan RawNotification
	lastBlock  atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSFeed creates a feed and connects to the endpoint.
func NewWSFeed(ctx context.Context, endpoint string, config *WSConfig) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	f := &WSFeed{
		endpoint: endpoint,
		config:   cfg,
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// Compile-time interface check.
var _ EventFeed = (*WSFeed)(nil)

// connect establishes the WebSocket connection.
func (f *WSFeed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return transientf("websocket dial: %v", err)
	}

	f.conn = conn
	return nil
}

// wsNotification is the push message wrapping one raw event.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// SubscribeEvents subscribes to the given event types starting at fromBlock.
// Only one active subscription per feed; the channel closes on Close.
func (f *WSFeed) SubscribeEvents(ctx context.Context, types []string, fromBlock uint64) (<-chan RawNotification, error) {
	if f.closed.Load() {
		return nil, transientf("feed closed")
	}

	f.subMu.Lock()
	defer f.subMu.Unlock()
	if f.subActive {
		return nil, fmt.Errorf("subscription already active")
	}

	if err := f.sendSubscribe(types, fromBlock); err != nil {
		return nil, err
	}

	f.subTypes = append([]string(nil), types...)
	f.lastBlock.Store(fromBlock)
	f.out = make(chan RawNotification, 256)
	f.subActive = true

	f.wg.Add(1)
	go f.readLoop()

	return f.out, nil
}

// sendSubscribe writes the subscribe request on the current connection.
func (f *WSFeed) sendSubscribe(types []string, fromBlock uint64) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      f.requestID.Add(1),
		Method:  "lend_subscribeEvents",
		Params:  []interface{}{types, fromBlock},
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		return transientf("subscribe write: %v", err)
	}
	return nil
}

// readLoop reads notifications and forwards them until shutdown, handling
// reconnect+resubscribe on read errors.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()
	defer close(f.out)

	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			if !f.reconnect() {
				return
			}
			continue
		}

		var note wsNotification
		if err := json.Unmarshal(data, &note); err != nil || note.Method != "lend_subscription" {
			// Responses to our own requests and malformed frames are skipped.
			continue
		}

		var raw RawNotification
		if err := json.Unmarshal(note.Params.Result, &raw); err != nil {
			continue
		}

		if raw.BlockNumber > f.lastBlock.Load() {
			f.lastBlock.Store(raw.BlockNumber)
		}

		select {
		case f.out <- raw:
		case <-f.done:
			return
		}
	}
}

// reconnect re-establishes the connection with backoff and resubscribes
// from the last delivered block. Returns false when the feed is shut down.
func (f *WSFeed) reconnect() bool {
	delay := f.config.ReconnectDelay

	for {
		select {
		case <-f.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.connect(ctx)
		cancel()
		if err == nil {
			if err := f.sendSubscribe(f.subTypes, f.lastBlock.Load()); err == nil {
				return true
			}
		}

		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

// pingLoop keeps the connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

// Close tears the feed down and releases the connection.
func (f *WSFeed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}
