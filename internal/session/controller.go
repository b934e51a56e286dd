package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/querydesk/chat/internal/authz"
	"github.com/querydesk/chat/internal/models"
	"github.com/querydesk/chat/internal/realtime"
	"github.com/querydesk/chat/internal/reconcile"
	"github.com/querydesk/chat/internal/suggest"
)

var ErrClosed = errors.New("session closed")

// SendRejectedError reports a failed message send after its optimistic entry
// was rolled back. Body lets the caller restore the draft.
type SendRejectedError struct {
	TempID string
	Body   string
	Err    error
}

func (e *SendRejectedError) Error() string {
	return fmt.Sprintf("send rejected (temp id %s): %v", e.TempID, e.Err)
}

func (e *SendRejectedError) Unwrap() error { return e.Err }

// API is the REST collaborator surface the controller consumes.
type API interface {
	Conversation(ctx context.Context, id string) (models.Conversation, error)
	SendMessage(ctx context.Context, conversationID string, sender models.Participant, body string) (models.Message, error)
	Resolve(ctx context.Context, conversationID, participantID string) (models.Conversation, error)
	Accept(ctx context.Context, conversationID, participantID string) (models.Conversation, error)
	RequestTransfer(ctx context.Context, conversationID string, from, to models.ParticipantRef, reason string) (models.Conversation, error)
	DecideTransfer(ctx context.Context, conversationID, participantID string, accept bool) (models.Conversation, error)
	SubmitFeedback(ctx context.Context, conversationID, participantID string, rating int, comment string) error
}

// Subscription is the live channel handle the controller consumes.
type Subscription interface {
	Events() <-chan realtime.Event
	Typing()
	NotifyResolve()
	RequestSnapshot()
	Close()
}

// Connector opens conversation subscriptions.
type Connector interface {
	Open(ctx context.Context, conversationID string, participant models.Participant) (Subscription, error)
}

// NewRealtimeConnector adapts a realtime.Manager to the Connector interface.
func NewRealtimeConnector(m *realtime.Manager) Connector {
	return managerConnector{m: m}
}

type managerConnector struct {
	m *realtime.Manager
}

func (c managerConnector) Open(ctx context.Context, conversationID string, p models.Participant) (Subscription, error) {
	sub, err := c.m.Open(ctx, conversationID, p)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// View is an immutable render snapshot: the reconciled message list, the
// derived permissions, reply suggestions and channel health at one instant.
type View struct {
	Conversation      models.Conversation
	Messages          []models.Message
	Permissions       authz.Permissions
	Suggestions       []string
	TypingBy          []string
	Connected         bool
	FeedbackRequested bool
}

type Config struct {
	API         API
	Connector   Connector
	Participant models.Participant
	Logger      zerolog.Logger

	// OnUpdate is invoked with a fresh view after every state change.
	OnUpdate func(View)
	// OnError is invoked with recoverable failures (rejected sends and
	// actions, transport trouble). Never with a nil error.
	OnError func(error)
	// OnSnapshotRequest is invoked when the counter-party asks for a live
	// camera capture.
	OnSnapshotRequest func(models.ParticipantRef)
}

// Controller drives one open conversation: it owns the channel subscription,
// folds inbound events and snapshots through the reconciler, re-derives
// permissions on every change, and exposes user actions. All state mutation
// is serialized; late completions after Close are ignored.
type Controller struct {
	cfg Config
	log zerolog.Logger

	mu                sync.Mutex
	conv              models.Conversation
	rec               *reconcile.Reconciler
	perms             authz.Permissions
	typing            map[string]string
	connected         bool
	feedbackRequested bool
	closed            bool
	sub               Subscription
}

func New(cfg Config) *Controller {
	return &Controller{
		cfg:    cfg,
		log:    cfg.Logger,
		rec:    reconcile.New(),
		typing: make(map[string]string),
	}
}

// Open loads the conversation snapshot and joins its channel. The returned
// error is fatal for the session; transport failures after a successful open
// are handled internally.
func (c *Controller) Open(ctx context.Context, conversationID string) error {
	conv, err := c.cfg.API.Conversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	sub, err := c.cfg.Connector.Open(ctx, conversationID, c.cfg.Participant)
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return ErrClosed
	}
	c.sub = sub
	c.connected = true
	c.applySnapshotLocked(conv)
	c.mu.Unlock()
	c.notify()

	go c.loop(sub.Events())
	return nil
}

// Close tears the session down. Exactly one call is required on every exit
// path; it is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// View builds the current render snapshot.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// SendMessage inserts an optimistic entry and persists it in the background.
// Empty bodies (after trimming) are a no-op. A rejected send rolls the entry
// back and surfaces a SendRejectedError through OnError.
func (c *Controller) SendMessage(ctx context.Context, body string) {
	// Normalize once so the optimistic entry and the persisted body always
	// agree; a mismatch would leave the entry unretirable.
	body = strings.TrimSpace(body)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	tempID, ok := c.rec.SendOptimistic(body, c.cfg.Participant)
	conversationID := c.conv.ID
	c.mu.Unlock()
	if !ok {
		return
	}
	c.notify()

	go func() {
		msg, err := c.cfg.API.SendMessage(ctx, conversationID, c.cfg.Participant, body)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.rec.Rollback(tempID)
			c.mu.Unlock()
			c.notify()
			c.fail(&SendRejectedError{TempID: tempID, Body: body, Err: err})
			return
		}
		// The confirmation retires the optimistic entry; a later channel
		// echo of the same id is dropped as a duplicate.
		c.rec.OnStreamMessage(msg)
		c.mu.Unlock()
		c.notify()
	}()
}

// Typing forwards local typing activity to the channel.
func (c *Controller) Typing() {
	c.mu.Lock()
	sub := c.sub
	closed := c.closed
	c.mu.Unlock()
	if sub != nil && !closed {
		sub.Typing()
	}
}

// RequestSnapshot asks the counter-party for a live camera capture.
func (c *Controller) RequestSnapshot() {
	c.mu.Lock()
	sub := c.sub
	closed := c.closed
	c.mu.Unlock()
	if sub != nil && !closed {
		sub.RequestSnapshot()
	}
}

// Resolve marks the conversation resolved. Unlike message sends there is no
// optimistic mutation: local state changes only on the confirmed response.
func (c *Controller) Resolve(ctx context.Context) error {
	conv, err := c.cfg.API.Resolve(ctx, c.conversationID(), c.cfg.Participant.ID)
	if err != nil {
		c.fail(fmt.Errorf("resolve: %w", err))
		return err
	}
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub != nil {
		sub.NotifyResolve()
	}
	c.apply(conv)
	return nil
}

// Accept takes assignment of a pending or transferred conversation.
func (c *Controller) Accept(ctx context.Context) error {
	conv, err := c.cfg.API.Accept(ctx, c.conversationID(), c.cfg.Participant.ID)
	if err != nil {
		c.fail(fmt.Errorf("accept: %w", err))
		return err
	}
	c.apply(conv)
	return nil
}

// Escalate requests a transfer to another staff participant. Reason is
// required.
func (c *Controller) Escalate(ctx context.Context, to models.ParticipantRef, reason string) error {
	if reason == "" {
		return errors.New("escalation reason required")
	}
	conv, err := c.cfg.API.RequestTransfer(ctx, c.conversationID(), c.cfg.Participant.Ref(), to, reason)
	if err != nil {
		c.fail(fmt.Errorf("escalate: %w", err))
		return err
	}
	c.apply(conv)
	return nil
}

// DecideTransfer accepts or rejects a transfer directed at this participant.
func (c *Controller) DecideTransfer(ctx context.Context, accept bool) error {
	conv, err := c.cfg.API.DecideTransfer(ctx, c.conversationID(), c.cfg.Participant.ID, accept)
	if err != nil {
		c.fail(fmt.Errorf("transfer decision: %w", err))
		return err
	}
	c.apply(conv)
	return nil
}

// SubmitFeedback records the post-resolution rating.
func (c *Controller) SubmitFeedback(ctx context.Context, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return errors.New("rating must be between 1 and 5")
	}
	if err := c.cfg.API.SubmitFeedback(ctx, c.conversationID(), c.cfg.Participant.ID, rating, comment); err != nil {
		c.fail(fmt.Errorf("submit feedback: %w", err))
		return err
	}
	c.mu.Lock()
	c.feedbackRequested = false
	c.mu.Unlock()
	c.refetch(ctx)
	return nil
}

func (c *Controller) conversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.ID
}

func (c *Controller) loop(events <-chan realtime.Event) {
	for ev := range events {
		c.handle(ev)
	}
}

func (c *Controller) handle(ev realtime.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	refetch := false
	var snapshotBy *models.ParticipantRef

	switch ev.Type {
	case realtime.EventNewMessage:
		if ev.Message != nil {
			c.rec.OnStreamMessage(*ev.Message)
		}

	case realtime.EventTyping:
		if ev.Typing != nil && ev.Typing.ParticipantID != c.cfg.Participant.ID {
			if ev.Typing.IsTyping {
				c.typing[ev.Typing.ParticipantID] = ev.Typing.DisplayName
			} else {
				delete(c.typing, ev.Typing.ParticipantID)
			}
		}

	case realtime.EventAccepted, realtime.EventTransferred, realtime.EventResolved:
		// Trust the stream immediately, then refetch for the full picture
		// (assignment, transfer history, system messages).
		if ev.Status != nil && ev.Status.Status != "" {
			c.applyStatusLocked(ev.Status.Status)
		}
		refetch = true

	case realtime.EventFeedbackRequest:
		if c.cfg.Participant.Role == models.RoleCustomer {
			c.feedbackRequested = true
		}

	case realtime.EventFeedbackReceived:
		refetch = true

	case realtime.EventSnapshotRequest:
		if ev.Snapshot != nil {
			by := ev.Snapshot.RequestedBy
			snapshotBy = &by
		}

	case realtime.EventConnectionLost:
		c.connected = false

	case realtime.EventConnectionRestored:
		// Missed frames are never replayed; only a full refetch restores
		// message completeness.
		c.connected = true
		refetch = true
	}

	c.permsLocked()
	c.mu.Unlock()
	c.notify()

	if snapshotBy != nil && c.cfg.OnSnapshotRequest != nil {
		c.cfg.OnSnapshotRequest(*snapshotBy)
	}
	if refetch {
		c.refetch(context.Background())
	}
}

// refetch reloads the authoritative snapshot and merges it in. Failures are
// recoverable: the stream keeps the view usable until the next refetch.
func (c *Controller) refetch(ctx context.Context) {
	id := c.conversationID()
	if id == "" {
		return
	}
	conv, err := c.cfg.API.Conversation(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Str("conversation_id", id).Msg("refetch failed")
		c.fail(fmt.Errorf("refetch conversation: %w", err))
		return
	}
	c.apply(conv)
}

func (c *Controller) apply(conv models.Conversation) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.applySnapshotLocked(conv)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) applySnapshotLocked(conv models.Conversation) {
	// A stale snapshot must never regress a terminal status the stream has
	// already delivered.
	if c.conv.Status.Terminal() && !conv.Status.Terminal() {
		conv.Status = c.conv.Status
	}
	c.conv = conv
	c.rec.OnSnapshot(conv.Messages)
	c.permsLocked()
}

func (c *Controller) applyStatusLocked(status models.Status) {
	if c.conv.Status.Terminal() && !status.Terminal() {
		return
	}
	c.conv.Status = status
	c.permsLocked()
}

func (c *Controller) permsLocked() {
	c.perms = authz.Derive(c.conv, c.cfg.Participant)
}

func (c *Controller) viewLocked() View {
	var latestTransfer *models.TransferRecord
	if last, ok := c.conv.LatestTransfer(); ok {
		latestTransfer = &last
	}
	msgs := c.rec.Visible(c.cfg.Participant, latestTransfer)

	var suggestions []string
	if c.cfg.Participant.Role.Staff() {
		last, ok := lastCounterParty(msgs, c.cfg.Participant.ID)
		suggestions = suggest.Replies(last, ok, c.conv.Status)
	}

	typing := make([]string, 0, len(c.typing))
	for _, name := range c.typing {
		typing = append(typing, name)
	}
	sort.Strings(typing)

	conv := c.conv
	conv.Messages = nil
	return View{
		Conversation:      conv,
		Messages:          msgs,
		Permissions:       c.perms,
		Suggestions:       suggestions,
		TypingBy:          typing,
		Connected:         c.connected,
		FeedbackRequested: c.feedbackRequested,
	}
}

func (c *Controller) notify() {
	if c.cfg.OnUpdate == nil {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	view := c.viewLocked()
	c.mu.Unlock()
	c.cfg.OnUpdate(view)
}

func (c *Controller) fail(err error) {
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

// lastCounterParty returns the body of the most recent non-system message
// authored by someone other than the given participant.
func lastCounterParty(msgs []models.Message, selfID string) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].System() || msgs[i].SenderID == selfID {
			continue
		}
		return msgs[i].Body, true
	}
	return "", false
}
