// Package sse distributes server-sent events to connected dashboard clients.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Client is a single connected SSE client.
type Client chan []byte

// Hub manages the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// AttendanceEvent is the payload sent to clients when attendance is recorded.
type AttendanceEvent struct {
	Type       string    `json:"type"`
	Student    string    `json:"student"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewHub creates a new hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
	}
}

// Run starts the hub's processing loop. It should run in its own goroutine.
func (h *Hub) Run() {
	log.Info("SSE hub started and running")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting message to %d SSE clients", len(h.clients))
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Client channel is full or closed
					log.Warn("SSE client channel full or closed, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast queues a message for all registered clients. It never blocks; if
// the queue is full the message is dropped.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// BroadcastAttendance formats an attendance event and sends it to all clients.
func (h *Hub) BroadcastAttendance(student string, confidence float64, source string) {
	event := AttendanceEvent{
		Type:       "attendance",
		Student:    student,
		Confidence: confidence,
		Source:     source,
		Timestamp:  time.Now(),
	}
	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal attendance event for SSE: %v", err)
		return
	}
	h.Broadcast(jsonData)
}
