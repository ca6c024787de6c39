package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub owns every live session and routes published payloads to the
// sessions subscribed to their destination. Delivery is at-most-once:
// a payload published while a user has no subscribed session is dropped,
// the durable notification row is the replay source.
type Hub struct {
	Auth      Authenticator
	Heartbeat time.Duration
	Logger    *log.Logger

	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*session]string
}

// NewHub creates a hub. An empty allowedOrigins list accepts any origin.
func NewHub(auth Authenticator, heartbeat time.Duration, allowedOrigins []string) *Hub {
	h := &Hub{
		Auth:      auth,
		Heartbeat: heartbeat,
		subs:      make(map[string]map[*session]string),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

func (h *Hub) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

func (h *Hub) heartbeat() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return 10 * time.Second
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger().Printf("realtime: upgrade failed: %v", err)
		return
	}
	s := &session{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	<-s.done
	h.dropSession(s)
}

// Publish implements the notify push contract: fan the payload out to
// every session subscribed to the user's notification destination.
func (h *Hub) Publish(userID string, payload map[string]any) error {
	return h.deliver(UserDestination(userID), payload)
}

// Broadcast fans a payload out to every session on the broadcast topic.
func (h *Hub) Broadcast(payload map[string]any) error {
	return h.deliver(BroadcastDestination, payload)
}

func (h *Hub) deliver(dest string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msgID := uuid.New().String()

	h.mu.RLock()
	targets := make(map[*session]string, len(h.subs[dest]))
	for s, subID := range h.subs[dest] {
		targets[s] = subID
	}
	h.mu.RUnlock()

	for s, subID := range targets {
		frame := Frame{
			Command: CmdMessage,
			Headers: map[string]string{
				"destination":  dest,
				"message-id":   msgID,
				"subscription": subID,
				"content-type": "application/json",
			},
			Body: body,
		}
		s.enqueue(frame.Encode())
	}
	return nil
}

func (h *Hub) subscribe(s *session, dest, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[dest] == nil {
		h.subs[dest] = make(map[*session]string)
	}
	h.subs[dest][s] = subID
}

func (h *Hub) unsubscribe(s *session, dest string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[dest], s)
	if len(h.subs[dest]) == 0 {
		delete(h.subs, dest)
	}
}

func (h *Hub) dropSession(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for dest, sessions := range h.subs {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.subs, dest)
		}
	}
}

// SubscriberCount reports live subscriptions for a destination.
func (h *Hub) SubscriberCount(dest string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[dest])
}
