package realtime

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// session is one WebSocket connection. userID is empty until a CONNECT
// frame authenticates; a failed CONNECT auth never drops the connection,
// it only leaves the session unauthenticated.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.Mutex
	userID string
	subs   map[string]string // subscription id -> destination

	closeOnce sync.Once
}

func (s *session) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *session) setUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

func (s *session) readPump() {
	defer s.close()

	wait := 2 * s.hub.heartbeat()
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.hub.logger().Printf("realtime: read: %v", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(wait))
		if len(raw) == 0 {
			// Bare newline heartbeats from clients are ignored.
			continue
		}
		frame, err := Decode(raw)
		if err != nil {
			s.enqueue(errorFrame("malformed frame", err.Error()).Encode())
			continue
		}
		if !s.handleFrame(frame) {
			return
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.hub.heartbeat())
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame processes one client frame. It returns false when the
// session should terminate.
func (s *session) handleFrame(f Frame) bool {
	switch f.Command {
	case CmdConnect:
		s.handleConnect(f)
	case CmdSubscribe:
		s.handleSubscribe(f)
	case CmdUnsubscribe:
		s.handleUnsubscribe(f)
	case CmdSend:
		s.handleSend(f)
	case CmdDisconnect:
		return false
	default:
		s.enqueue(errorFrame("unexpected command", f.Command).Encode())
	}
	return true
}

func (s *session) handleConnect(f Frame) {
	if authz := f.Header("authorization"); authz != "" {
		userID, err := s.hub.Auth.Authenticate(authz)
		if err != nil {
			// Stay connected but unauthenticated.
			s.hub.logger().Printf("realtime: connect auth failed: %v", err)
		} else {
			s.setUser(userID)
		}
	}
	hb := strconv.FormatInt(s.hub.heartbeat().Milliseconds(), 10)
	s.enqueue(Frame{
		Command: CmdConnected,
		Headers: map[string]string{
			"version":    "1.2",
			"heart-beat": hb + "," + hb,
		},
	}.Encode())
}

func (s *session) handleSubscribe(f Frame) {
	dest := f.Header("destination")
	subID := f.Header("id")
	if dest == "" || subID == "" {
		s.enqueue(errorFrame("subscribe requires id and destination headers", "").Encode())
		return
	}
	if err := s.hub.Auth.AuthorizeSubscribe(s.user(), dest); err != nil {
		if errors.Is(err, errUnauthenticated) && !s.hub.Auth.RequireSubscribeAuth {
			// Legacy mode: warn and ignore, the session keeps running but
			// the subscription is never registered.
			s.hub.logger().Printf("realtime: unauthenticated subscribe to %s ignored", dest)
			return
		}
		s.enqueue(errorFrame("subscribe rejected", err.Error()).Encode())
		return
	}
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[string]string)
	}
	s.subs[subID] = dest
	s.mu.Unlock()
	s.hub.subscribe(s, dest, subID)
}

func (s *session) handleUnsubscribe(f Frame) {
	subID := f.Header("id")
	s.mu.Lock()
	dest, ok := s.subs[subID]
	delete(s.subs, subID)
	s.mu.Unlock()
	if ok {
		s.hub.unsubscribe(s, dest)
	}
}

func (s *session) handleSend(f Frame) {
	dest := f.Header("destination")
	if dest != BroadcastDestination {
		s.enqueue(errorFrame("send rejected", "clients may only send to "+BroadcastDestination).Encode())
		return
	}
	if s.user() == "" {
		s.enqueue(errorFrame("send rejected", "authenticate before sending").Encode())
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(f.Body, &payload); err != nil {
		s.enqueue(errorFrame("send rejected", "body must be a json object").Encode())
		return
	}
	payload["sender"] = s.user()
	if err := s.hub.Broadcast(payload); err != nil {
		s.hub.logger().Printf("realtime: broadcast: %v", err)
	}
}

// enqueue hands a wire-ready frame to the writer. A session that cannot
// keep up is closed rather than allowed to stall publishers.
func (s *session) enqueue(msg []byte) {
	select {
	case <-s.done:
	case s.send <- msg:
	default:
		s.hub.logger().Printf("realtime: dropping slow session")
		s.close()
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
