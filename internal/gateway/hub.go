package gateway

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/querydesk/chat/internal/realtime"
)

// Hub fans envelopes out to the websocket members of each conversation group.
type Hub struct {
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]map[*member]struct{}
}

type member struct {
	conn          *websocket.Conn
	participantID string
	send          chan []byte
	closeOnce     sync.Once
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger,
		rooms:  make(map[string]map[*member]struct{}),
	}
}

func (h *Hub) join(conversationID, participantID string, conn *websocket.Conn) *member {
	m := &member{
		conn:          conn,
		participantID: participantID,
		send:          make(chan []byte, 32),
	}
	h.mu.Lock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*member]struct{})
		h.rooms[conversationID] = room
	}
	room[m] = struct{}{}
	h.mu.Unlock()

	go m.writePump()
	return m
}

func (h *Hub) leave(conversationID string, m *member) {
	h.mu.Lock()
	if room, ok := h.rooms[conversationID]; ok {
		if _, present := room[m]; present {
			delete(room, m)
			m.closeOnce.Do(func() { close(m.send) })
		}
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers an envelope to every member of the conversation group.
func (h *Hub) Broadcast(conversationID string, env realtime.Envelope) {
	h.broadcast(conversationID, env, "")
}

// BroadcastExcept skips the originating participant, used for typing echo.
func (h *Hub) BroadcastExcept(conversationID, participantID string, env realtime.Envelope) {
	h.broadcast(conversationID, env, participantID)
}

func (h *Hub) broadcast(conversationID string, env realtime.Envelope, skipParticipantID string) {
	raw, err := json.Marshal(env)
	if err != nil {
		h.logger.Error().Err(err).Str("event", env.Event).Msg("marshal broadcast")
		return
	}
	h.mu.Lock()
	for m := range h.rooms[conversationID] {
		if skipParticipantID != "" && m.participantID == skipParticipantID {
			continue
		}
		select {
		case m.send <- raw:
		default:
			// Slow consumer: drop rather than stall the room. The client
			// recovers via its refetch-on-restore path.
			h.logger.Warn().Str("conversation_id", conversationID).Msg("dropping frame for slow member")
		}
	}
	h.mu.Unlock()
}

func (m *member) writePump() {
	for raw := range m.send {
		if err := m.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}
