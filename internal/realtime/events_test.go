package realtime

import (
	"encoding/json"
	"testing"

	"github.com/querydesk/chat/internal/models"
)

func TestDecodeMessageSenderAsObject(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "m1",
		"body": "hello",
		"sender": {"id": "a1", "display_name": "Agent A", "role": "AGENT"},
		"timestamp": "2026-01-02T10:00:00Z"
	}`)
	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.SenderID != "a1" || msg.SenderName != "Agent A" || msg.SenderRole != models.RoleAgent {
		t.Fatalf("sender not normalized: %+v", msg)
	}
}

func TestDecodeMessageSenderAsBareID(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "m2",
		"body": "hi",
		"sender": "cu1",
		"sender_role": "CUSTOMER",
		"timestamp": "2026-01-02T10:00:01Z"
	}`)
	msg, err := decodeMessage(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.SenderID != "cu1" || msg.SenderRole != models.RoleCustomer {
		t.Fatalf("bare id sender not normalized: %+v", msg)
	}
}

func TestDecodeMessageFlatSenderFields(t *testing.T) {
	wire, err := json.Marshal(models.Message{
		ID:             "m3",
		ConversationID: "c1",
		Body:           "hello",
		SenderID:       "a1",
		SenderName:     "Agent A",
		SenderRole:     models.RoleAgent,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	msg, err := decodeMessage(wire)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.SenderID != "a1" || msg.SenderName != "Agent A" || msg.SenderRole != models.RoleAgent {
		t.Fatalf("flat sender fields not decoded: %+v", msg)
	}
}

func TestDecodeEventUnknownIsIgnored(t *testing.T) {
	_, ok, err := decodeEvent(Envelope{Event: "something-new"})
	if err != nil {
		t.Fatalf("unknown events must not error: %v", err)
	}
	if ok {
		t.Fatalf("unknown events must be ignored")
	}
}

func TestDecodeEventTyping(t *testing.T) {
	ev, ok, err := decodeEvent(Envelope{
		Event: EventTyping,
		Data:  json.RawMessage(`{"participant_id":"cu1","display_name":"Dana","is_typing":true}`),
	})
	if err != nil || !ok {
		t.Fatalf("expected typing event, ok=%v err=%v", ok, err)
	}
	if ev.Typing == nil || !ev.Typing.IsTyping || ev.Typing.ParticipantID != "cu1" {
		t.Fatalf("unexpected typing payload: %+v", ev.Typing)
	}
}

func TestDecodeEventStatusWithoutPayload(t *testing.T) {
	ev, ok, err := decodeEvent(Envelope{Event: EventResolved})
	if err != nil || !ok {
		t.Fatalf("expected resolved event, ok=%v err=%v", ok, err)
	}
	if ev.Status == nil {
		t.Fatalf("status payload should default to empty struct")
	}
}
