package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/querydesk/chat/internal/models"
)

// fakeGateway records inbound envelopes and can push frames to the most
// recently connected client.
type fakeGateway struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	received []Envelope
	conn     *websocket.Conn
}

func (g *fakeGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		g.mu.Lock()
		g.received = append(g.received, env)
		g.mu.Unlock()
	}
}

func (g *fakeGateway) push(t *testing.T, env Envelope) {
	t.Helper()
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		t.Fatalf("no client connected")
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("push failed: %v", err)
	}
}

func (g *fakeGateway) envelopes() []Envelope {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Envelope, len(g.received))
	copy(out, g.received)
	return out
}

func newTestManager(t *testing.T, gw *fakeGateway) *Manager {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(gw.handler))
	t.Cleanup(srv.Close)
	return &Manager{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		TypingIdle: 50 * time.Millisecond,
	}
}

func waitForEnvelope(t *testing.T, gw *fakeGateway, event string) Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, env := range gw.envelopes() {
			if env.Event == event {
				return env
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %q envelope received", event)
	return Envelope{}
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no event delivered")
	}
	return Event{}
}

var tester = models.Participant{ID: "a1", Role: models.RoleAgent, DisplayName: "Agent A"}

func TestOpenSendsJoin(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer m.Close()

	env := waitForEnvelope(t, gw, EventJoin)
	var join joinPayload
	if err := json.Unmarshal(env.Data, &join); err != nil {
		t.Fatalf("bad join payload: %v", err)
	}
	if join.ConversationID != "c1" || join.ParticipantID != "a1" {
		t.Fatalf("unexpected join payload: %+v", join)
	}
	if sub.ConversationID != "c1" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
}

func TestOpenSameConversationIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub1, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer m.Close()

	sub2, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if sub1 != sub2 {
		t.Fatalf("expected the same subscription handle")
	}
}

func TestOpenDifferentConversationClosesPrevious(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub1, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	sub2, err := m.Open(context.Background(), "c2", tester)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer m.Close()

	if sub1 == sub2 {
		t.Fatalf("expected a fresh subscription for a new conversation")
	}
	if sub1.Alive() {
		t.Fatalf("previous subscription must be closed")
	}
	if !sub2.Alive() {
		t.Fatalf("new subscription must be live")
	}
}

func TestInboundMessageEvent(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer m.Close()
	waitForEnvelope(t, gw, EventJoin)

	gw.push(t, Envelope{
		Event: EventNewMessage,
		Data:  json.RawMessage(`{"id":"m1","body":"hello","sender":"cu1","timestamp":"2026-01-02T10:00:00Z"}`),
	})

	select {
	case ev := <-sub.Events():
		if ev.Type != EventNewMessage || ev.Message == nil || ev.Message.ID != "m1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer m.Close()
	waitForEnvelope(t, gw, EventJoin)

	gw.mu.Lock()
	serverConn := gw.conn
	gw.mu.Unlock()
	serverConn.Close()

	if ev := nextEvent(t, sub); ev.Type != EventConnectionLost {
		t.Fatalf("expected connection-lost first, got %+v", ev)
	}
	if ev := nextEvent(t, sub); ev.Type != EventConnectionRestored {
		t.Fatalf("expected connection-restored, got %+v", ev)
	}

	// The redialed connection must re-join the conversation group.
	deadline := time.Now().Add(5 * time.Second)
	for {
		joins := 0
		for _, env := range gw.envelopes() {
			if env.Event == EventJoin {
				joins++
			}
		}
		if joins >= 2 {
			break
		}
		if !time.Now().Before(deadline) {
			t.Fatalf("no re-join after reconnect, got %d joins", joins)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Frames flow again on the new connection; nothing missed is replayed.
	gw.push(t, Envelope{
		Event: EventNewMessage,
		Data:  json.RawMessage(`{"id":"m9","body":"back online","sender":"cu1","timestamp":"2026-01-02T10:05:00Z"}`),
	})
	ev := nextEvent(t, sub)
	if ev.Type != EventNewMessage || ev.Message == nil || ev.Message.ID != "m9" {
		t.Fatalf("expected the pushed message after restore, got %+v", ev)
	}
}

func TestTypingDebounce(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer m.Close()
	waitForEnvelope(t, gw, EventJoin)

	// A burst of keystrokes produces exactly one start and, after the idle
	// window, one stop.
	sub.Typing()
	sub.Typing()
	sub.Typing()

	deadline := time.Now().Add(2 * time.Second)
	var updates []TypingUpdate
	for time.Now().Before(deadline) {
		updates = updates[:0]
		for _, env := range gw.envelopes() {
			if env.Event != EventTyping {
				continue
			}
			var u TypingUpdate
			if err := json.Unmarshal(env.Data, &u); err != nil {
				t.Fatalf("bad typing payload: %v", err)
			}
			updates = append(updates, u)
		}
		if len(updates) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(updates) != 2 {
		t.Fatalf("expected start+stop, got %d updates", len(updates))
	}
	if !updates[0].IsTyping || updates[1].IsTyping {
		t.Fatalf("expected [true false], got %+v", updates)
	}
}

func TestCloseSendsLeaveAndStopsEvents(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw)

	sub, err := m.Open(context.Background(), "c1", tester)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	waitForEnvelope(t, gw, EventJoin)

	m.Close()
	waitForEnvelope(t, gw, EventLeave)

	if sub.Alive() {
		t.Fatalf("subscription should be dead after close")
	}
	select {
	case _, open := <-sub.Events():
		if open {
			t.Fatalf("no further events expected after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel should be closed")
	}
}
