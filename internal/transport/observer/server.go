package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/op/go-logging"

	"labyrinth.ai/internal/observerproto"
)

var log = logging.MustGetLogger("observer")

const sessionBuffer = 256

// Hub fans team events out to websocket observers. Slow observers lose messages rather than
// stalling the agents.
type Hub struct {
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	// state builds the current team summary for new subscribers. May be nil.
	state func() observerproto.StateMsg

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id  string
	out chan []byte

	mu         sync.Mutex
	agents     map[string]bool
	includeMap bool
}

func NewHub(state func() observerproto.StateMsg) *Hub {
	return &Hub{
		state:    state,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see WSHandler
		},
	}
}

// Sessions is the number of connected observers.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Dropped counts messages discarded because an observer fell behind.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) PublishReport(m observerproto.ReportMsg) {
	m.Type = observerproto.TypeReport
	m.ProtocolVersion = observerproto.Version
	h.publishForAgent(m.Agent, m)
}

func (h *Hub) PublishHint(m observerproto.HintMsg) {
	m.Type = observerproto.TypeHint
	m.ProtocolVersion = observerproto.Version
	h.publishForAgent(m.Agent, m)
}

func (h *Hub) PublishState(m observerproto.StateMsg) {
	if h == nil {
		return
	}
	m.Type = observerproto.TypeState
	m.ProtocolVersion = observerproto.Version
	full, err := json.Marshal(m)
	if err != nil {
		return
	}
	m.Map = ""
	bare, _ := json.Marshal(m)
	for _, s := range h.snapshotSessions() {
		s.mu.Lock()
		b := bare
		if s.includeMap {
			b = full
		}
		s.mu.Unlock()
		h.send(s, b)
	}
}

func (h *Hub) publishForAgent(agent string, v any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	for _, s := range h.snapshotSessions() {
		if s.wants(agent) {
			h.send(s, b)
		}
	}
}

func (h *Hub) snapshotSessions() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) send(s *session, b []byte) {
	select {
	case s.out <- b:
	default:
		h.dropped.Add(1)
	}
}

func (s *session) wants(agent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents) == 0 || s.agents[agent]
}

func (s *session) apply(sub observerproto.SubscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = map[string]bool{}
	for _, a := range sub.Agents {
		if a = strings.TrimSpace(a); a != "" {
			s.agents[a] = true
		}
	}
	s.includeMap = sub.IncludeMap
}

func (h *Hub) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		s := &session{
			id:  fmt.Sprintf("O%d", h.nextID.Add(1)),
			out: make(chan []byte, sessionBuffer),
		}
		s.apply(sub)
		if h.state != nil {
			st := h.state()
			st.Type = observerproto.TypeState
			st.ProtocolVersion = observerproto.Version
			if !sub.IncludeMap {
				st.Map = ""
			}
			if b, err := json.Marshal(st); err == nil {
				s.out <- b
			}
		}

		h.mu.Lock()
		h.sessions[s.id] = s
		h.mu.Unlock()
		log.Infof("observer %s connected from %s", s.id, r.RemoteAddr)
		defer func() {
			h.mu.Lock()
			delete(h.sessions, s.id)
			h.mu.Unlock()
			log.Infof("observer %s disconnected", s.id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-s.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(msg); ok {
				s.apply(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(b []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	return sub, true
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
