package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/querydesk/chat/internal/models"
)

const (
	defaultTypingIdle   = time.Second
	reconnectBaseDelay  = 500 * time.Millisecond
	reconnectMaxDelay   = 8 * time.Second
	eventBufferCapacity = 64
)

// Manager owns at most one live conversation subscription at a time. Opening
// the same conversation twice is a no-op; opening a different one closes the
// previous subscription first, so two overlapping subscriptions for one
// participant can never exist.
type Manager struct {
	URL        string
	Dialer     *websocket.Dialer
	Logger     zerolog.Logger
	TypingIdle time.Duration

	mu     sync.Mutex
	active *Subscription
}

func (m *Manager) Open(ctx context.Context, conversationID string, participant models.Participant) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Alive() {
		if m.active.ConversationID == conversationID {
			return m.active, nil
		}
		m.active.Close()
	}

	dialer := m.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	typingIdle := m.TypingIdle
	if typingIdle <= 0 {
		typingIdle = defaultTypingIdle
	}

	conn, _, err := dialer.DialContext(ctx, m.URL, nil)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		ConversationID: conversationID,
		participant:    participant,
		url:            m.URL,
		dialer:         dialer,
		conn:           conn,
		events:         make(chan Event, eventBufferCapacity),
		done:           make(chan struct{}),
		typingIdle:     typingIdle,
		logger:         m.Logger.With().Str("conversation_id", conversationID).Logger(),
	}
	if err := sub.join(); err != nil {
		// The channel must be released even when a later step of open fails.
		sub.Close()
		return nil, err
	}

	go sub.readPump()

	m.active = sub
	return sub, nil
}

// Close releases the active subscription, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}

// Subscription is one conversation-scoped channel membership. Events are
// consumed from Events(); the channel is closed after Close or an
// unrecoverable transport failure.
type Subscription struct {
	ConversationID string

	participant models.Participant
	url         string
	dialer      *websocket.Dialer
	typingIdle  time.Duration
	logger      zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	typingMu    sync.Mutex
	typingTimer *time.Timer
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Alive reports whether the subscription has not been closed. Completions
// that resolve after teardown check this before touching state.
func (s *Subscription) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Close leaves the conversation group and releases the connection. Safe to
// call multiple times and on every exit path.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.typingMu.Lock()
		if s.typingTimer != nil {
			s.typingTimer.Stop()
			s.typingTimer = nil
		}
		s.typingMu.Unlock()

		_ = s.send(Envelope{Event: EventLeave})
		s.connMu.Lock()
		_ = s.conn.Close()
		s.connMu.Unlock()
	})
}

// Typing records local typing activity. The first call in a burst announces
// typing on the channel; a quiet second announces it has stopped.
func (s *Subscription) Typing() {
	if !s.Alive() {
		return
	}
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	if s.typingTimer == nil {
		s.sendTyping(true)
	} else {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingIdle, func() {
		s.typingMu.Lock()
		s.typingTimer = nil
		s.typingMu.Unlock()
		if s.Alive() {
			s.sendTyping(false)
		}
	})
}

func (s *Subscription) sendTyping(isTyping bool) {
	payload, _ := json.Marshal(TypingUpdate{
		ParticipantID: s.participant.ID,
		DisplayName:   s.participant.DisplayName,
		IsTyping:      isTyping,
	})
	if err := s.send(Envelope{Event: EventTyping, Data: payload}); err != nil {
		s.logger.Debug().Err(err).Msg("typing notify failed")
	}
}

// NotifyResolve announces a local resolve action on the channel.
func (s *Subscription) NotifyResolve() {
	if err := s.send(Envelope{Event: EventResolveNotify}); err != nil {
		s.logger.Debug().Err(err).Msg("resolve notify failed")
	}
}

// RequestSnapshot asks the counter-party for a live camera capture.
func (s *Subscription) RequestSnapshot() {
	payload, _ := json.Marshal(SnapshotRequest{RequestedBy: s.participant.Ref()})
	if err := s.send(Envelope{Event: EventSnapshotAsk, Data: payload}); err != nil {
		s.logger.Debug().Err(err).Msg("snapshot request failed")
	}
}

func (s *Subscription) join() error {
	payload, err := json.Marshal(joinPayload{
		ConversationID: s.ConversationID,
		ParticipantID:  s.participant.ID,
		DisplayName:    s.participant.DisplayName,
		Role:           string(s.participant.Role),
	})
	if err != nil {
		return err
	}
	return s.send(Envelope{Event: EventJoin, Data: payload})
}

func (s *Subscription) send(env Envelope) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(env)
}

// readPump translates wire frames into typed events until the subscription is
// closed. A broken connection emits connection-lost, is redialed with backoff
// and rejoined, then emits connection-restored; missed frames are NOT
// replayed, so the consumer must refetch the conversation on restore.
func (s *Subscription) readPump() {
	defer close(s.events)
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !s.Alive() {
				return
			}
			s.logger.Warn().Err(err).Msg("channel read failed")
			s.emit(Event{Type: EventConnectionLost})
			if !s.reconnect() {
				return
			}
			s.emit(Event{Type: EventConnectionRestored})
			continue
		}

		ev, ok, err := decodeEvent(env)
		if err != nil {
			s.logger.Warn().Err(err).Str("event", env.Event).Msg("dropping malformed event")
			continue
		}
		if !ok {
			s.logger.Debug().Str("event", env.Event).Msg("ignoring unknown event")
			continue
		}
		s.emit(ev)
	}
}

func (s *Subscription) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Subscription) reconnect() bool {
	delay := reconnectBaseDelay
	for {
		select {
		case <-s.done:
			return false
		case <-time.After(delay):
		}

		conn, _, err := s.dialer.Dial(s.url, nil)
		if err == nil {
			s.connMu.Lock()
			s.conn = conn
			s.connMu.Unlock()
			err = s.join()
			if err == nil {
				return true
			}
			_ = conn.Close()
		}

		s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect attempt failed")
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}
