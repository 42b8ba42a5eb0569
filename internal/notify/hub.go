package notify

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNotConnected = errors.New("notify: websocket client not connected")

const writeWait = 10 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub держит WebSocket-подключения водителей и отправляет им предложения.
// На один ключ приходится одно подключение, новое вытесняет старое.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[string]*wsClient
	logger   *log.Logger
}

// NewHub создаёт хаб.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		// CheckOrigin не задан: чужой Origin отклоняется, клиенты без Origin проходят
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*wsClient),
		logger:  logger,
	}
}

// Serve переводит запрос в WebSocket и держит подключение до его закрытия.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, key string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	if old, ok := h.clients[key]; ok {
		_ = old.conn.Close()
	}
	h.clients[key] = client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.clients[key] == client {
			delete(h.clients, key)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}()

	// входящие сообщения не ожидаются, читаем до закрытия
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("websocket %s closed: %v", key, err)
			}
			return nil
		}
	}
}

// Connected сообщает, есть ли подключение с ключом key.
func (h *Hub) Connected(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[key]
	return ok
}

// Push отправляет сообщение подключённому клиенту.
func (h *Hub) Push(ctx context.Context, key string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	client, ok := h.clients[key]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return client.write(msg)
}

// Close закрывает все подключения.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, key)
	}
}
