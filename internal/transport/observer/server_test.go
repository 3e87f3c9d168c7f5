package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"labyrinth.ai/internal/geo"
	"labyrinth.ai/internal/observerproto"
)

func dialHub(t *testing.T, h *Hub, sub observerproto.SubscribeMsg) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h.WSHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	if err := c.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return c, func() {
		_ = c.Close()
		srv.Close()
	}
}

func readMsg(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func waitSessions(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Sessions() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sessions=%d want=%d", h.Sessions(), n)
}

func TestHub_StateOnSubscribeThenReports(t *testing.T) {
	h := NewHub(func() observerproto.StateMsg {
		return observerproto.StateMsg{RunID: "run-1", Team: "curious_broccoli", Connected: 2, Map: "#.#\n"}
	})
	c, done := dialHub(t, h, observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version})
	defer done()

	st := readMsg(t, c)
	if st["type"] != "STATE" || st["run_id"] != "run-1" {
		t.Fatalf("first message=%v", st)
	}
	if _, ok := st["map"]; ok {
		t.Fatalf("map sent without include_map: %v", st)
	}

	waitSessions(t, h, 1)
	h.PublishReport(observerproto.ReportMsg{Agent: "Player_0", Turn: 4, Action: geo.Left, Branch: "least_visited"})
	rep := readMsg(t, c)
	if rep["type"] != "REPORT" || rep["agent"] != "Player_0" || rep["action"] != "Left" {
		t.Fatalf("report=%v", rep)
	}
}

func TestHub_AgentFilterAndMap(t *testing.T) {
	h := NewHub(nil)
	c, done := dialHub(t, h, observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		Agents:          []string{"Player_1"},
		IncludeMap:      true,
	})
	defer done()
	waitSessions(t, h, 1)

	h.PublishReport(observerproto.ReportMsg{Agent: "Player_0", Turn: 1})
	exit := geo.Position{X: 1, Y: -2}
	h.PublishHint(observerproto.HintMsg{Agent: "Player_1", Kind: "Exit", Exit: &exit})
	h.PublishState(observerproto.StateMsg{Team: "t", Map: "E\n"})

	hint := readMsg(t, c)
	if hint["type"] != "HINT" || hint["agent"] != "Player_1" {
		t.Fatalf("expected Player_1 hint first, got %v", hint)
	}
	st := readMsg(t, c)
	if st["type"] != "STATE" || st["map"] != "E\n" {
		t.Fatalf("state=%v", st)
	}
}

func TestHub_RejectsBadHandshake(t *testing.T) {
	h := NewHub(nil)
	c, done := dialHub(t, h, observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version})
	defer done()

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	if !ok || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
	if h.Sessions() != 0 {
		t.Fatalf("sessions=%d want=0", h.Sessions())
	}
}

func TestHub_RejectsNonLoopback(t *testing.T) {
	h := NewHub(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/observe", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	h.WSHandler()(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("code=%d want=403", rr.Code)
	}
}

func TestHub_DropsWhenBehind(t *testing.T) {
	h := NewHub(nil)
	s := &session{id: "O1", out: make(chan []byte, 1)}
	h.sessions[s.id] = s
	h.PublishReport(observerproto.ReportMsg{Agent: "a"})
	h.PublishReport(observerproto.ReportMsg{Agent: "a"})
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want=1", h.Dropped())
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := IsLoopbackRemote(in); got != want {
			t.Fatalf("IsLoopbackRemote(%q)=%v want=%v", in, got, want)
		}
	}
}
