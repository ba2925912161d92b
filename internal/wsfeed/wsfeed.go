// Package wsfeed is the push channel for price updates and order
// lifecycle transitions. Adapted from the teacher's trade.WSHub
// (register/unregister/broadcast channel loop, ping-pong keepalive)
// almost verbatim; extended to satisfy internal/executor.Notifier so
// callers polling for a final order status can instead subscribe once
// the executor hands control to the dispatcher's async lane.
package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/metrics"
	"github.com/predictionmkt/engine/internal/model"
)

// Message is a JSON event sent to WebSocket clients. Type is one of
// "price_update" or "order_update".
type Message struct {
	Type            string     `json:"type"`
	MarketID        string     `json:"market_id,omitempty"`
	Price           string     `json:"price,omitempty"`
	OrderID         string     `json:"order_id,omitempty"`
	UserID          string     `json:"user_id,omitempty"`
	Status          string     `json:"status,omitempty"`
	Outcome         string     `json:"outcome,omitempty"`
	Quantity        int64      `json:"quantity,omitempty"`
	TotalCost       string     `json:"total_cost,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Hub manages WebSocket connections and broadcasts price/order events to
// every connected client. It implements internal/executor.Notifier.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine;
// it blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(count))
			slog.Info("ws client connected", "total", count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(count))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) send(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking order execution.
	}
}

// NotifyPrice broadcasts a market's current price. Satisfies
// internal/executor.Notifier.
func (h *Hub) NotifyPrice(marketID string, price decimal.Decimal) {
	h.send(Message{Type: "price_update", MarketID: marketID, Price: price.String()})
}

// NotifyOrder broadcasts an order's current lifecycle state. Satisfies
// internal/executor.Notifier.
func (h *Hub) NotifyOrder(order model.Order) {
	msg := Message{
		Type:            "order_update",
		OrderID:         order.ID,
		UserID:          order.UserID,
		MarketID:        order.MarketID,
		Status:          string(order.Status),
		Outcome:         string(order.Outcome),
		Quantity:        order.Quantity,
		RejectionReason: order.RejectionReason,
		CompletedAt:     order.CompletedAt,
	}
	if order.TotalCost != nil {
		msg.TotalCost = order.TotalCost.String()
	}
	h.send(msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
