package backplane

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// EventKind tags a lifecycle notification published by the backplane.
type EventKind int

const (
	EventBoardUp EventKind = iota
	EventBoardDown
	EventBoardFailed
)

// Event is a board lifecycle notification fanned out to attached clients.
type Event struct {
	Kind    EventKind `json:"kind"`
	Serial  string    `json:"serial"`
	Message string    `json:"message,omitempty"`
}

// EventStream fans out backplane lifecycle events to attached WebSocket
// clients. An external REST layer owns the HTTP upgrade (accepting
// connections is out of scope here); this only tracks already-upgraded
// connections and pushes events to them, the same role gorilla/websocket
// plays client-side in the teacher's WebSocketConnection.
type EventStream struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewEventStream returns an EventStream with no subscribers.
func NewEventStream() *EventStream {
	return &EventStream{conns: make(map[*websocket.Conn]struct{})}
}

// Subscribe registers an already-upgraded connection to receive events.
func (s *EventStream) Subscribe(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

// Unsubscribe stops sending events to conn.
func (s *EventStream) Unsubscribe(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Publish broadcasts ev to every subscribed connection, dropping any
// connection that fails a write.
func (s *EventStream) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(s.conns, conn)
		}
	}
}
