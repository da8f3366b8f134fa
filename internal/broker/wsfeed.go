package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bmigette/tradecore/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	wsWriteWait            = 10 * time.Second
	wsDialTimeout          = 30 * time.Second
	wsBaseReconnectDelay   = 5 * time.Second
	wsMaxReconnectDelay    = 5 * time.Minute
	wsMaxReconnectAttempts = 10
)

// OrderUpdateHandler is invoked for every order snapshot a broker pushes over
// its optional real-time feed. Implementations typically call back into
// RefreshOrders/RefreshTransactions-style logic rather than touch storage
// directly from the read loop.
type OrderUpdateHandler func(ctx context.Context, update domain.BrokerOrderSnapshot)

// OrderFeed is an optional push-driven order status stream. Not every broker
// provider supports one; callers that have no feed endpoint simply never
// construct an OrderFeed and rely on the polling refresh cycle instead.
type OrderFeed struct {
	url     string
	handler OrderUpdateHandler
	log     zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}
}

// NewOrderFeed builds a feed that dials url and reports every decoded update
// to handler.
func NewOrderFeed(url string, handler OrderUpdateHandler, log zerolog.Logger) *OrderFeed {
	return &OrderFeed{
		url:      url,
		handler:  handler,
		log:      log.With().Str("component", "broker_order_feed").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start dials the feed and begins the read loop, reconnecting with backoff on
// failure.
func (f *OrderFeed) Start() error {
	if err := f.connect(); err != nil {
		f.log.Warn().Err(err).Msg("initial order feed connection failed, retrying in background")
		go f.reconnectLoop()
		return err
	}
	f.mu.RLock()
	ctx := f.connCtx
	f.mu.RUnlock()
	go f.readLoop(ctx)
	return nil
}

// Stop shuts the feed down and releases the underlying connection.
func (f *OrderFeed) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	close(f.stopChan)
	return f.disconnect()
}

func (f *OrderFeed) connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial order feed: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	f.conn = conn
	f.connCtx = connCtx
	f.cancelFunc = connCancel
	f.connected = true
	return nil
}

func (f *OrderFeed) disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	if f.cancelFunc != nil {
		f.cancelFunc()
		f.cancelFunc = nil
	}
	err := f.conn.Close(websocket.StatusNormalClosure, "")
	f.conn = nil
	f.connCtx = nil
	f.connected = false
	if err != nil {
		return fmt.Errorf("close order feed: %w", err)
	}
	return nil
}

func (f *OrderFeed) readLoop(ctx context.Context) {
	defer func() {
		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if !stopped {
			go f.reconnectLoop()
		}
	}()

	for {
		select {
		case <-f.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				f.log.Error().Err(err).Msg("unexpected order feed read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var update domain.BrokerOrderSnapshot
		if err := json.Unmarshal(message, &update); err != nil {
			f.log.Error().Err(err).Str("message", string(message)).Msg("failed to decode order feed message")
			continue
		}
		f.handler(ctx, update)
	}
}

func (f *OrderFeed) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-f.stopChan:
			return
		}

		if err := f.connect(); err != nil {
			f.log.Error().Err(err).Int("attempt", attempt).Msg("order feed reconnect failed")
			continue
		}

		f.mu.RLock()
		ctx := f.connCtx
		f.mu.RUnlock()
		go f.readLoop(ctx)
		return
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(wsBaseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(wsMaxReconnectDelay) {
		delay = float64(wsMaxReconnectDelay)
	}
	return time.Duration(delay)
}
