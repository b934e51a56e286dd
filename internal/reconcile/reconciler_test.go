package reconcile

import (
	"testing"
	"time"

	"github.com/querydesk/chat/internal/models"
)

var agentA = models.Participant{ID: "a1", Role: models.RoleAgent, DisplayName: "Agent A"}

func serverMsg(id, body, senderID string, ts time.Time) models.Message {
	return models.Message{ID: id, Body: body, SenderID: senderID, SenderRole: models.RoleCustomer, Timestamp: ts}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestSnapshotMergeIsIdempotent(t *testing.T) {
	r := New()
	base := time.Now().UTC()

	r.OnSnapshot([]models.Message{
		serverMsg("1", "hi", "cu1", base),
		serverMsg("2", "hello", "a1", base.Add(time.Second)),
	})
	r.OnSnapshot([]models.Message{
		serverMsg("1", "hi", "cu1", base),
		serverMsg("2", "hello", "a1", base.Add(time.Second)),
		serverMsg("3", "any update?", "cu1", base.Add(2*time.Second)),
	})

	got := ids(r.Messages())
	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSnapshotDropsBackendDuplicates(t *testing.T) {
	r := New()
	base := time.Now().UTC()

	r.OnSnapshot([]models.Message{
		serverMsg("1", "hi", "cu1", base),
		serverMsg("1", "hi", "cu1", base),
		serverMsg("2", "hello", "a1", base.Add(time.Second)),
	})
	if got := len(r.Messages()); got != 2 {
		t.Fatalf("expected 2 messages after dedup, got %d", got)
	}
}

func TestOptimisticRetiredByStream(t *testing.T) {
	r := New()

	tempID, ok := r.SendOptimistic("hi", agentA)
	if !ok || tempID == "" {
		t.Fatalf("expected optimistic send to be accepted")
	}
	r.OnStreamMessage(models.Message{ID: "srv1", Body: "hi", SenderID: "a1", SenderRole: models.RoleAgent, Timestamp: time.Now().UTC()})

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one visible message, got %d", len(msgs))
	}
	if msgs[0].ID != "srv1" || msgs[0].Optimistic {
		t.Fatalf("expected confirmed server message, got %+v", msgs[0])
	}
}

func TestDuplicateStreamDeliveryDropped(t *testing.T) {
	r := New()
	msg := models.Message{ID: "srv1", Body: "hi", SenderID: "cu1", Timestamp: time.Now().UTC()}

	r.OnStreamMessage(msg)
	r.OnStreamMessage(msg)

	if got := len(r.Messages()); got != 1 {
		t.Fatalf("expected duplicate delivery to be dropped, got %d messages", got)
	}
}

func TestDuplicateStreamDeliveryStillRetiresOptimistic(t *testing.T) {
	r := New()
	ts := time.Now().UTC()

	if _, ok := r.SendOptimistic("hi", agentA); !ok {
		t.Fatalf("optimistic send rejected")
	}
	// A degraded channel echo without sender identity cannot match the
	// optimistic entry and is appended as-is.
	r.OnStreamMessage(models.Message{ID: "srv1", Body: "hi", Timestamp: ts})
	// The confirmation of the same id must still retire the optimistic entry
	// even though the id is already known.
	r.OnStreamMessage(models.Message{ID: "srv1", Body: "hi", SenderID: "a1", SenderRole: models.RoleAgent, Timestamp: ts})

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one visible message, got %v", ids(msgs))
	}
	if msgs[0].ID != "srv1" || msgs[0].Optimistic {
		t.Fatalf("expected confirmed server message, got %+v", msgs[0])
	}
}

func TestOptimisticRetiredBySnapshot(t *testing.T) {
	r := New()

	if _, ok := r.SendOptimistic("hi", agentA); !ok {
		t.Fatalf("optimistic send rejected")
	}
	r.OnSnapshot([]models.Message{
		serverMsg("srv1", "hi", "a1", time.Now().UTC()),
	})

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "srv1" {
		t.Fatalf("expected snapshot to retire optimistic entry, got %v", ids(msgs))
	}
}

func TestUnconfirmedOptimisticSurvivesSnapshot(t *testing.T) {
	r := New()
	base := time.Now().UTC().Add(-time.Minute)

	tempID, _ := r.SendOptimistic("still there?", agentA)
	r.OnSnapshot([]models.Message{
		serverMsg("1", "hi", "cu1", base),
	})

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected optimistic entry to survive, got %v", ids(msgs))
	}
	if msgs[1].ID != tempID || !msgs[1].Optimistic {
		t.Fatalf("expected optimistic entry last, got %+v", msgs[1])
	}
}

func TestRollbackRemovesAllTrace(t *testing.T) {
	r := New()

	tempID, _ := r.SendOptimistic("hi", agentA)
	if !r.Rollback(tempID) {
		t.Fatalf("expected rollback to find the entry")
	}
	for _, m := range r.Messages() {
		if m.Body == "hi" && m.SenderID == "a1" && m.Optimistic {
			t.Fatalf("rollback left an optimistic entry behind: %+v", m)
		}
	}
	if r.Rollback(tempID) {
		t.Fatalf("second rollback should be a no-op")
	}
}

func TestEmptyBodyRejected(t *testing.T) {
	r := New()
	if _, ok := r.SendOptimistic("   \n ", agentA); ok {
		t.Fatalf("expected whitespace-only body to be rejected")
	}
	if len(r.Messages()) != 0 {
		t.Fatalf("expected no state change")
	}
}

func TestEqualTimestampOrderingStable(t *testing.T) {
	r := New()
	ts := time.Now().UTC()
	r.OnSnapshot([]models.Message{
		serverMsg("x", "first", "cu1", ts),
		serverMsg("y", "second", "a1", ts),
	})

	for i := 0; i < 5; i++ {
		got := ids(r.Messages())
		if got[0] != "x" || got[1] != "y" {
			t.Fatalf("expected stable order [x y], got %v", got)
		}
	}
}
