package binance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"orderflow/internal/domain"
	"orderflow/internal/infra"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 90 * time.Second
	pingInterval     = 30 * time.Second

	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// StreamHandler receives parsed stream events. Both callbacks run on the
// worker's read goroutine; implementations must not block.
type StreamHandler interface {
	OnDepthDiff(symbol string, d domain.DepthDiff)
	OnTrade(symbol string, t domain.Trade)
}

// StreamWorker maintains one market-data WebSocket carrying the diff
// depth and aggregated trade channels for all configured symbols. It
// reconnects with backoff; downstream aggregators keep their state
// across reconnects and only the order book is resynced.
type StreamWorker struct {
	wsURL   string
	symbols []string
	handler StreamHandler

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	now func() time.Time
}

// NewStreamWorker creates a worker for the given symbols.
func NewStreamWorker(wsURL string, symbols []string, handler StreamHandler) *StreamWorker {
	return &StreamWorker{
		wsURL:   wsURL,
		symbols: symbols,
		handler: handler,
		now:     time.Now,
	}
}

// Connect starts the connection loop in the background.
func (w *StreamWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *StreamWorker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	delay := reconnectBaseDelay
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Market stream connection failed",
				slog.Duration("retry_in", delay),
				slog.Any("error", err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
		} else {
			delay = reconnectBaseDelay
			w.readLoop(ctx)
		}
	}
}

func (w *StreamWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return domain.NewNetworkError("stream dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	go w.pingLoop(ctx)
	slog.Info("Market stream connected",
		slog.Int("symbols", len(w.symbols)),
		slog.String("url", w.wsURL),
	)
	infra.GlobalMetrics.SetStreamsConnected(1)
	return nil
}

func (w *StreamWorker) subscribe() error {
	params := make([]string, 0, len(w.symbols)*2)
	for _, s := range w.symbols {
		lower := strings.ToLower(s)
		params = append(params, lower+"@depth@100ms", lower+"@aggTrade")
	}
	req := subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}
	b, _ := json.Marshal(req)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *StreamWorker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *StreamWorker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return domain.ErrNotConnected
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *StreamWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("Market stream read failed", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *StreamWorker) handleMessage(msg []byte) {
	var head streamEvent
	if err := json.Unmarshal(msg, &head); err != nil || head.Type == "" {
		// Subscribe acks and unknown frames carry no event type.
		return
	}

	switch head.Type {
	case "depthUpdate":
		var ev depthUpdateEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			slog.Debug("Malformed depth update", slog.Any("error", err))
			return
		}
		diff, err := ev.toDomain()
		if err != nil {
			slog.Debug("Malformed depth levels", slog.Any("error", err))
			return
		}
		w.handler.OnDepthDiff(ev.Symbol, diff)

	case "aggTrade":
		var ev aggTradeEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			slog.Debug("Malformed trade", slog.Any("error", err))
			return
		}
		arrival := w.now().UnixMilli()
		trade, err := ev.toDomain(arrival)
		if err != nil {
			slog.Debug("Malformed trade fields", slog.Any("error", err))
			return
		}
		infra.GlobalMetrics.RecordTrade((arrival - trade.TimestampMs) * int64(time.Millisecond))
		w.handler.OnTrade(ev.Symbol, trade)
	}
}

func (w *StreamWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
	infra.GlobalMetrics.SetStreamsConnected(0)
}

// Connected reports whether the socket is currently up.
func (w *StreamWorker) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Disconnect stops the worker and closes the connection. The read loop
// terminates within the read timeout; callers usually bound shutdown
// with a context of a few seconds.
func (w *StreamWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
