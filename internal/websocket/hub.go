package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"promoflow/internal/infrastructure"
	"promoflow/pkg/contracts/events"
)

// Envelope is an event bound for one session's clients
type Envelope struct {
	Type    events.MessageType
	Data    interface{}
	TraceID string
}

type outbound struct {
	sessionID string
	payload   []byte
	close     bool
}

// Hub tracks clients per session and fans session events out to them
type Hub struct {
	// clients by session id
	clients map[string]map[*Client]struct{}

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	totalConnections int64
	messagesSent     int64
	dropped          int64

	quit    chan struct{}
	done    chan struct{}
	running bool
}

// NewHub creates a new Hub instance with dependency injection
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in a goroutine. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			h.mu.Lock()
			for id, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.remove(c)

		case out := <-h.broadcast:
			h.deliver(out)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
	h.totalConnections++
	count := len(set)
	h.mu.Unlock()

	ctx := infrastructure.WithSessionID(context.Background(), c.sessionID)
	h.logger.InfoContext(ctx, "Client registered",
		slog.String("client_id", c.id),
		slog.String("remote_addr", c.remoteAddr),
		slog.Int("session_clients", count))

	payload, err := encode(c.sessionID, Envelope{
		Type: events.MessageTypeConnection,
		Data: events.ConnectionData{
			Status:   "connected",
			ClientID: c.id,
			Message:  "Subscribed to session " + c.sessionID,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.logger.WarnContext(ctx, "Failed to send connection message - client buffer full",
			slog.String("client_id", c.id))
	}
}

// remove must run on the hub goroutine
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	h.logger.Info("Client unregistered",
		slog.String("client_id", c.id),
		slog.String("session_id", c.sessionID),
		slog.Duration("connection_duration", time.Since(c.connectedAt)))
}

func (h *Hub) deliver(out outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[out.sessionID]
	for c := range set {
		if out.close {
			close(c.send)
			delete(set, c)
			continue
		}
		select {
		case c.send <- out.payload:
			h.messagesSent++
		default:
			close(c.send)
			delete(set, c)
			h.dropped++
			h.logger.Warn("Client send buffer full, disconnecting",
				slog.String("client_id", c.id),
				slog.String("session_id", out.sessionID))
		}
	}
	if len(set) == 0 {
		delete(h.clients, out.sessionID)
	}
}

func encode(sessionID string, env Envelope) ([]byte, error) {
	return json.Marshal(events.Message{
		Type:      env.Type,
		SessionID: sessionID,
		Data:      env.Data,
		Timestamp: time.Now().UTC(),
		TraceID:   env.TraceID,
	})
}

// Publish queues msg for every client of sessionID. It never blocks: when
// the queue is full the message is dropped.
func (h *Hub) Publish(sessionID string, msg Envelope) {
	payload, err := encode(sessionID, msg)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", string(msg.Type)))
		return
	}
	h.enqueue(outbound{sessionID: sessionID, payload: payload})
}

// CloseSession notifies and disconnects every client of sessionID
func (h *Hub) CloseSession(sessionID string) {
	h.Publish(sessionID, Envelope{Type: events.MessageTypeSessionClosed})
	h.enqueue(outbound{sessionID: sessionID, close: true})
}

func (h *Hub) enqueue(out outbound) {
	select {
	case <-h.quit:
	case h.broadcast <- out:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.logger.Warn("Broadcast queue full, dropping message",
			slog.String("session_id", out.sessionID))
	}
}

// Register adds a client to the hub
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// ClientCount returns the number of clients subscribed to sessionID
func (h *Hub) ClientCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Stats returns hub counters
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := 0
	for _, set := range h.clients {
		active += len(set)
	}
	return map[string]int64{
		"active_clients":    int64(active),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.dropped,
	}
}

// Stop gracefully stops the hub
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}
