package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/querydesk/chat/internal/models"
)

// Reconciler merges the server-authoritative message list with locally
// originated optimistic messages into one deduplicated view. The server list
// is replaced wholesale on every snapshot; optimistic entries live only until
// a confirmation retires them or a failed send rolls them back.
//
// Known limitation: an optimistic entry is matched to its confirmation by
// (body, sender) equality, because the temp id never round-trips through the
// server. Two in-flight sends with identical text from the same sender can
// therefore retire against the wrong confirmation. Disambiguating would need
// a client idempotency token echoed back by the server.
type Reconciler struct {
	server     []models.Message
	optimistic []models.Message
	tempSeq    uint64
	now        func() time.Time
}

func New() *Reconciler {
	return &Reconciler{now: time.Now}
}

// SendOptimistic appends a local entry with a temporary id and returns the id.
// Bodies that are empty after trimming are rejected without mutating state.
func (r *Reconciler) SendOptimistic(body string, sender models.Participant) (string, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	r.tempSeq++
	tempID := fmt.Sprintf("temp-%d", r.tempSeq)
	r.optimistic = append(r.optimistic, models.Message{
		ID:         tempID,
		Body:       body,
		SenderID:   sender.ID,
		SenderRole: sender.Role,
		SenderName: sender.DisplayName,
		Timestamp:  r.now().UTC(),
		Optimistic: true,
	})
	return tempID, true
}

// OnStreamMessage folds one streamed message into the view. An outstanding
// optimistic entry matching the message is retired first, so that a duplicate
// delivery (the channel echo plus the REST confirmation carry the same id)
// still retires its match even when the earlier copy could not. A message
// whose id is already known is then dropped rather than appended.
func (r *Reconciler) OnStreamMessage(msg models.Message) {
	if idx := r.matchOptimistic(msg); idx >= 0 {
		r.optimistic = append(r.optimistic[:idx], r.optimistic[idx+1:]...)
	}
	for _, existing := range r.server {
		if existing.ID == msg.ID {
			return
		}
	}
	msg.Optimistic = false
	r.server = append(r.server, msg)
}

// OnSnapshot replaces the server list with a full refetch, dropping duplicate
// ids the backend occasionally returns, and retires optimistic entries that
// now have a server-side counterpart.
func (r *Reconciler) OnSnapshot(full []models.Message) {
	seen := make(map[string]struct{}, len(full))
	deduped := make([]models.Message, 0, len(full))
	for _, msg := range full {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		msg.Optimistic = false
		deduped = append(deduped, msg)
	}
	r.server = deduped

	remaining := r.optimistic[:0]
	for _, opt := range r.optimistic {
		confirmed := false
		for _, msg := range r.server {
			if msg.Body == opt.Body && msg.SenderID == opt.SenderID {
				confirmed = true
				break
			}
		}
		if !confirmed {
			remaining = append(remaining, opt)
		}
	}
	r.optimistic = remaining
}

// Rollback removes the optimistic entry for a failed send so the caller can
// restore the draft. Returns false when no such entry is outstanding.
func (r *Reconciler) Rollback(tempID string) bool {
	for i, opt := range r.optimistic {
		if opt.ID == tempID {
			r.optimistic = append(r.optimistic[:i], r.optimistic[i+1:]...)
			return true
		}
	}
	return false
}

// Messages returns the merged, time-ordered sequence. The sort is stable:
// equal timestamps keep server-list order, with optimistic entries after.
func (r *Reconciler) Messages() []models.Message {
	merged := make([]models.Message, 0, len(r.server)+len(r.optimistic))
	merged = append(merged, r.server...)
	merged = append(merged, r.optimistic...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// Visible is the render-ready sequence for one viewer, with role-based
// filtering of system notices applied. Pure with respect to reconciler state.
func (r *Reconciler) Visible(viewer models.Participant, latestTransfer *models.TransferRecord) []models.Message {
	return FilterFor(r.Messages(), viewer, latestTransfer)
}

// matchOptimistic finds the oldest outstanding optimistic entry with the same
// body and sender as the confirmed message.
func (r *Reconciler) matchOptimistic(msg models.Message) int {
	for i, opt := range r.optimistic {
		if opt.Body == msg.Body && opt.SenderID == msg.SenderID {
			return i
		}
	}
	return -1
}
