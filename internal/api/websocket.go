package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one WebSocket push message.
type Event struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// wsHub fans events out to all connected clients. Slow clients drop
// messages rather than stall the broadcast.
type wsHub struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	metrics  *serverMetrics
	upgrader websocket.Upgrader
	clients  map[string]*wsClient
}

func newWSHub(logger *zap.Logger, metrics *serverMetrics) *wsHub {
	return &wsHub{
		logger:  logger.Named("ws"),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

func (h *wsHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.metrics.wsClients.Inc()
	h.logger.Info("websocket client connected", zap.String("client", client.id))

	go h.writePump(client)
	go h.readPump(client)
}

func (h *wsHub) readPump(client *wsClient) {
	defer h.drop(client)
	client.conn.SetReadLimit(1 << 16)
	for {
		// Progress streaming is one-way; reads only service control
		// frames and detect disconnects.
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *wsHub) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *wsHub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		close(client.send)
		h.metrics.wsClients.Dec()
	}
	h.mu.Unlock()
	client.conn.Close()
	h.logger.Info("websocket client disconnected", zap.String("client", client.id))
}

// broadcast pushes an event to every connected client.
func (h *wsHub) broadcast(method string, payload any) {
	event := Event{
		ID:        uuid.NewString(),
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping event",
				zap.String("client", client.id),
				zap.String("method", method),
			)
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}
