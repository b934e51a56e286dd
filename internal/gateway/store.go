package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querydesk/chat/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotAssigned          = errors.New("participant is not assigned")
	ErrAlreadyResolved      = errors.New("conversation already resolved")
	ErrTerminal             = errors.New("conversation is closed")
	ErrNoPendingTransfer    = errors.New("no pending transfer for participant")
	ErrFeedbackExists       = errors.New("feedback already submitted")
	ErrInvalidRating        = errors.New("rating must be between 1 and 5")
)

// Store keeps conversation state in memory. It backs the gateway simulator
// only; the production backend and its persistence are out of scope here, and
// keeping the simulator memory-only keeps integration tests hermetic.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		now:           time.Now,
	}
}

// Create registers a new pending conversation for a customer.
func (s *Store) Create(customer models.ParticipantRef, subject string) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := &models.Conversation{
		ID:         uuid.NewString(),
		Status:     models.StatusPending,
		CustomerID: customer.ID,
		Subject:    subject,
		Messages:   []models.Message{},
		CreatedAt:  s.now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return *conv
}

// Seed inserts a fully-formed conversation, for tests and demo fixtures.
func (s *Store) Seed(conv models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := conv
	s.conversations[conv.ID] = &copied
}

func (s *Store) Get(id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return *conv, nil
}

// AppendMessage persists one message, assigning its id and timestamp.
func (s *Store) AppendMessage(conversationID string, sender models.ParticipantRef, body string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	if conv.Status.Terminal() {
		return models.Message{}, ErrTerminal
	}
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Body:           body,
		SenderID:       sender.ID,
		SenderRole:     sender.Role,
		SenderName:     sender.DisplayName,
		Timestamp:      s.now().UTC(),
	}
	conv.Messages = append(conv.Messages, msg)
	return msg, nil
}

// appendSystem records a workflow notification. Callers hold the lock.
func (s *Store) appendSystem(conv *models.Conversation, body string) models.Message {
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Body:           body,
		SenderID:       "system",
		SenderRole:     models.RoleSystem,
		Timestamp:      s.now().UTC(),
	}
	conv.Messages = append(conv.Messages, msg)
	return msg
}

// Accept assigns a pending conversation to a staff participant.
func (s *Store) Accept(conversationID string, staff models.ParticipantRef) (models.Conversation, models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, models.Message{}, ErrConversationNotFound
	}
	if conv.Status.Terminal() {
		return models.Conversation{}, models.Message{}, ErrTerminal
	}
	conv.Status = models.StatusAccepted
	conv.AssignedParticipantID = staff.ID
	notice := s.appendSystem(conv, fmt.Sprintf("Query accepted by %s", staff.DisplayName))
	return *conv, notice, nil
}

// Resolve closes the conversation. Only the assigned participant may resolve.
func (s *Store) Resolve(conversationID, participantID string) (models.Conversation, models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, models.Message{}, ErrConversationNotFound
	}
	if conv.Status == models.StatusResolved {
		return models.Conversation{}, models.Message{}, ErrAlreadyResolved
	}
	if conv.AssignedParticipantID != participantID {
		return models.Conversation{}, models.Message{}, ErrNotAssigned
	}
	conv.Status = models.StatusResolved
	notice := s.appendSystem(conv, "Query marked as resolved")
	return *conv, notice, nil
}

// RequestTransfer starts an escalation to another staff participant.
func (s *Store) RequestTransfer(conversationID string, from, to models.ParticipantRef, reason string) (models.Conversation, models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, models.Message{}, ErrConversationNotFound
	}
	if conv.Status.Terminal() {
		return models.Conversation{}, models.Message{}, ErrTerminal
	}
	conv.Status = models.StatusTransferred
	conv.TransferHistory = append(conv.TransferHistory, models.TransferRecord{
		Step:        len(conv.TransferHistory) + 1,
		From:        from,
		To:          to,
		Status:      models.TransferRequested,
		Reason:      reason,
		RequestedAt: s.now().UTC(),
	})
	notice := s.appendSystem(conv, fmt.Sprintf("Transfer requested to %s. Reason: %s", to.DisplayName, reason))
	return *conv, notice, nil
}

// DecideTransfer accepts or rejects the pending transfer directed at the
// participant. Rejection hands the conversation back to the prior assignee.
func (s *Store) DecideTransfer(conversationID, participantID string, accept bool) (models.Conversation, models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, models.Message{}, ErrConversationNotFound
	}
	if len(conv.TransferHistory) == 0 {
		return models.Conversation{}, models.Message{}, ErrNoPendingTransfer
	}
	last := &conv.TransferHistory[len(conv.TransferHistory)-1]
	if last.To.ID != participantID || last.Status != models.TransferRequested || conv.Status != models.StatusTransferred {
		return models.Conversation{}, models.Message{}, ErrNoPendingTransfer
	}

	var notice models.Message
	if accept {
		now := s.now().UTC()
		last.Status = models.TransferAccepted
		last.AcceptedAt = &now
		conv.Status = models.StatusAccepted
		conv.AssignedParticipantID = participantID
		notice = s.appendSystem(conv, "Query has been transferred")
	} else {
		last.Status = models.TransferRejected
		conv.Status = models.StatusInProgress
		conv.AssignedParticipantID = last.From.ID
		notice = s.appendSystem(conv, fmt.Sprintf("Transfer rejected by %s", last.To.DisplayName))
	}
	return *conv, notice, nil
}

// SubmitFeedback records the customer's one-time rating after resolution.
func (s *Store) SubmitFeedback(conversationID string, rating int, comment string) (models.Conversation, error) {
	if rating < 1 || rating > 5 {
		return models.Conversation{}, ErrInvalidRating
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	if conv.Feedback != nil {
		return models.Conversation{}, ErrFeedbackExists
	}
	conv.Feedback = &models.Feedback{
		Rating:      rating,
		Comment:     comment,
		SubmittedAt: s.now().UTC(),
	}
	return *conv, nil
}

// ExpireStale flips pending conversations older than ttl to expired and
// returns the affected snapshots.
func (s *Store) ExpireStale(ttl time.Duration) []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().UTC().Add(-ttl)
	var expired []models.Conversation
	for _, conv := range s.conversations {
		if conv.Status == models.StatusPending && conv.CreatedAt.Before(cutoff) {
			conv.Status = models.StatusExpired
			s.appendSystem(conv, "Query expired before assignment")
			expired = append(expired, *conv)
		}
	}
	return expired
}
