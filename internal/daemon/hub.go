package daemon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/metrics"
	"github.com/eliteGoblin/connprune/internal/transport"
)

const (
	sendBuffer   = 100
	pingInterval = 54 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// ProgressHub fans Bulk Loader progress out to websocket subscribers.
// Reports are framed with transport.Frames, so large terminal reports arrive
// as ordered chunks.
type ProgressHub struct {
	threshold int
	snapshot  func() (domain.Progress, bool)
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[*subscriber]bool
}

type subscriber struct {
	conn    *websocket.Conn
	send    chan transport.Event
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewProgressHub creates a hub. snapshot, when set, provides the report a new
// subscriber receives on connect.
func NewProgressHub(threshold int, snapshot func() (domain.Progress, bool), logger *zap.Logger) *ProgressHub {
	return &ProgressHub{
		threshold: threshold,
		snapshot:  snapshot,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Served on loopback only
			},
		},
		subscribers: make(map[*subscriber]bool),
	}
}

// OnProgress implements domain.ProgressListener. It never blocks. A subscriber
// whose buffer is full misses plain progress frames; one that cannot take a
// chunk or terminal frame is disconnected, since it could never rebuild the
// final report.
func (h *ProgressHub) OnProgress(p domain.Progress) {
	frames := transport.Frames(p, h.threshold)

	var slow []*subscriber
	h.mu.RLock()
	for sub := range h.subscribers {
		for _, frame := range frames {
			if !h.deliver(sub, frame) {
				slow = append(slow, sub)
				break
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.disconnect(sub)
	}
}

// deliver queues frame without blocking. It reports false when a chunk or
// terminal frame could not be queued.
func (h *ProgressHub) deliver(sub *subscriber, frame transport.Event) bool {
	select {
	case sub.send <- frame:
		if frame.Chunked() {
			metrics.EventsSent.WithLabelValues("chunk").Inc()
		} else {
			metrics.EventsSent.WithLabelValues("progress").Inc()
		}
		return true
	default:
	}

	metrics.EventsSent.WithLabelValues("dropped").Inc()
	if frame.Chunked() || frame.Done {
		h.logger.Warn("progress subscriber missed a final report frame, disconnecting",
			zap.Int("contacts", frame.ContactsSoFar))
		return false
	}
	h.logger.Warn("progress subscriber is slow, dropping frame",
		zap.Int("contacts", frame.ContactsSoFar))
	return true
}

// disconnect removes sub and closes its connection so the client fails fast.
func (h *ProgressHub) disconnect(sub *subscriber) {
	h.remove(sub)
	go func() {
		sub.writeMu.Lock()
		defer sub.writeMu.Unlock()
		sub.conn.Close()
	}()
}

// Subscribers returns the number of connected subscribers.
func (h *ProgressHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HandleWebSocket upgrades the request and streams progress frames.
func (h *ProgressHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket connection", zap.Error(err))
		return
	}

	// The request context ends once the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscriber{
		conn:   conn,
		send:   make(chan transport.Event, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	delivered := true
	h.mu.Lock()
	h.subscribers[sub] = true
	if h.snapshot != nil {
		if p, ok := h.snapshot(); ok {
			for _, frame := range transport.Frames(p, h.threshold) {
				if delivered = h.deliver(sub, frame); !delivered {
					break
				}
			}
		}
	}
	h.mu.Unlock()
	metrics.StreamSubscribers.Inc()

	h.logger.Debug("progress subscriber connected", zap.String("remote_addr", r.RemoteAddr))

	go sub.writePump()
	go h.readPump(sub)
	if !delivered {
		h.disconnect(sub)
	}
}

// readPump discards client messages and detects disconnects.
func (h *ProgressHub) readPump(sub *subscriber) {
	defer func() {
		h.remove(sub)
		sub.writeMu.Lock()
		sub.conn.Close()
		sub.writeMu.Unlock()
	}()

	sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("progress subscriber read error", zap.Error(err))
			}
			return
		}
	}
}

func (sub *subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.cancel()
	}()

	for {
		select {
		case frame, ok := <-sub.send:
			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				sub.writeMu.Unlock()
				return
			}
			err := sub.conn.WriteJSON(frame)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			sub.writeMu.Lock()
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := sub.conn.WriteMessage(websocket.PingMessage, nil)
			sub.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-sub.ctx.Done():
			return
		}
	}
}

func (h *ProgressHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.subscribers[sub] {
		return
	}
	delete(h.subscribers, sub)
	metrics.StreamSubscribers.Dec()
	sub.once.Do(func() { close(sub.send) })
}

// Close disconnects every subscriber.
func (h *ProgressHub) Close() {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.remove(sub)
	}
}

var _ domain.ProgressListener = (*ProgressHub)(nil)
