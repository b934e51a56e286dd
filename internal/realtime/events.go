package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/querydesk/chat/internal/models"
)

// Envelope is the wire frame exchanged on the conversation channel, both
// directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventNewMessage       = "new-message"
	EventTyping           = "typing"
	EventAccepted         = "accepted"
	EventTransferred      = "transferred"
	EventResolved         = "resolved"
	EventFeedbackRequest  = "feedback-request"
	EventFeedbackReceived = "feedback-received"
	EventSnapshotRequest  = "camera-snapshot-request"

	// Synthetic events, raised locally by the subscription itself.
	EventConnectionLost     = "connection-lost"
	EventConnectionRestored = "connection-restored"
)

// Outbound event names.
const (
	EventJoin          = "join"
	EventLeave         = "leave"
	EventResolveNotify = "resolve-notify"
	EventSnapshotAsk   = "snapshot-request"
)

// Event is one typed inbound occurrence on an open subscription. Exactly one
// payload field is populated, matching Type.
type Event struct {
	Type     string
	Message  *models.Message
	Typing   *TypingUpdate
	Status   *StatusUpdate
	Snapshot *SnapshotRequest
	Feedback *FeedbackUpdate
}

type TypingUpdate struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	IsTyping      bool   `json:"is_typing"`
}

type StatusUpdate struct {
	Status models.Status `json:"status"`
}

type SnapshotRequest struct {
	RequestedBy models.ParticipantRef `json:"requested_by"`
}

type FeedbackUpdate struct {
	Rating  int    `json:"rating,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type joinPayload struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	DisplayName    string `json:"display_name,omitempty"`
	Role           string `json:"role,omitempty"`
}

// wireMessage tolerates the sender shapes seen on the wire: flat
// sender_id/sender_name keys as the gateway persists them, or a "sender" key
// holding a bare id string or a populated participant object. Normalization
// happens here so the reconciler only ever sees the typed Message.
type wireMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Body           string          `json:"body"`
	Sender         json.RawMessage `json:"sender"`
	SenderID       string          `json:"sender_id"`
	SenderName     string          `json:"sender_name"`
	SenderRole     models.Role     `json:"sender_role,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func decodeMessage(data json.RawMessage) (models.Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.Message{}, fmt.Errorf("decode message event: %w", err)
	}
	msg := models.Message{
		ID:             wire.ID,
		ConversationID: wire.ConversationID,
		Body:           wire.Body,
		SenderID:       wire.SenderID,
		SenderName:     wire.SenderName,
		SenderRole:     wire.SenderRole,
		Timestamp:      wire.Timestamp,
	}
	if len(wire.Sender) > 0 {
		var id string
		if err := json.Unmarshal(wire.Sender, &id); err == nil {
			msg.SenderID = id
		} else {
			var ref models.ParticipantRef
			if err := json.Unmarshal(wire.Sender, &ref); err != nil {
				return models.Message{}, fmt.Errorf("decode message sender: %w", err)
			}
			if ref.ID != "" {
				msg.SenderID = ref.ID
			}
			if ref.DisplayName != "" {
				msg.SenderName = ref.DisplayName
			}
			if msg.SenderRole == "" {
				msg.SenderRole = ref.Role
			}
		}
	}
	return msg, nil
}

// decodeEvent translates a wire envelope into a typed event. Unknown events
// are dropped by returning ok=false rather than failing the read loop.
func decodeEvent(env Envelope) (Event, bool, error) {
	switch env.Event {
	case EventNewMessage:
		msg, err := decodeMessage(env.Data)
		if err != nil {
			return Event{}, false, err
		}
		return Event{Type: EventNewMessage, Message: &msg}, true, nil
	case EventTyping:
		var typing TypingUpdate
		if err := json.Unmarshal(env.Data, &typing); err != nil {
			return Event{}, false, fmt.Errorf("decode typing event: %w", err)
		}
		return Event{Type: EventTyping, Typing: &typing}, true, nil
	case EventAccepted, EventTransferred, EventResolved:
		var status StatusUpdate
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &status); err != nil {
				return Event{}, false, fmt.Errorf("decode status event: %w", err)
			}
		}
		return Event{Type: env.Event, Status: &status}, true, nil
	case EventFeedbackRequest, EventFeedbackReceived:
		var fb FeedbackUpdate
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &fb); err != nil {
				return Event{}, false, fmt.Errorf("decode feedback event: %w", err)
			}
		}
		return Event{Type: env.Event, Feedback: &fb}, true, nil
	case EventSnapshotRequest:
		var req SnapshotRequest
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				return Event{}, false, fmt.Errorf("decode snapshot request: %w", err)
			}
		}
		return Event{Type: EventSnapshotRequest, Snapshot: &req}, true, nil
	}
	return Event{}, false, nil
}
