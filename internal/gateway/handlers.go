package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/querydesk/chat/internal/models"
	"github.com/querydesk/chat/internal/realtime"
)

type Handler struct {
	Store     *Store
	Hub       *Hub
	Validator *validator.Validate
	Logger    zerolog.Logger
	Upgrader  websocket.Upgrader
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

func (h *Handler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found")
	case errors.Is(err, ErrAlreadyResolved):
		writeError(c, http.StatusConflict, "ALREADY_RESOLVED", "Query already resolved")
	case errors.Is(err, ErrNotAssigned):
		writeError(c, http.StatusForbidden, "NOT_ASSIGNED", "Participant is not assigned to this query")
	case errors.Is(err, ErrTerminal):
		writeError(c, http.StatusConflict, "QUERY_CLOSED", "Query is closed")
	case errors.Is(err, ErrNoPendingTransfer):
		writeError(c, http.StatusConflict, "NO_PENDING_TRANSFER", "No pending transfer for participant")
	case errors.Is(err, ErrFeedbackExists):
		writeError(c, http.StatusConflict, "FEEDBACK_EXISTS", "Feedback already submitted")
	case errors.Is(err, ErrInvalidRating):
		writeError(c, http.StatusBadRequest, "INVALID_RATING", "Rating must be between 1 and 5")
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createConversationRequest struct {
	Customer models.ParticipantRef `json:"customer" validate:"required"`
	Subject  string                `json:"subject"`
}

func (h *Handler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil || req.Customer.ID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "customer with id required")
		return
	}
	conv := h.Store.Create(req.Customer, req.Subject)
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) GetConversation(c *gin.Context) {
	conv, err := h.Store.Get(c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type postMessageRequest struct {
	SenderID   string      `json:"sender_id" validate:"required"`
	SenderName string      `json:"sender_name"`
	SenderRole models.Role `json:"sender_role" validate:"required"`
	Body       string      `json:"body" validate:"required"`
}

func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	sender := models.ParticipantRef{ID: req.SenderID, DisplayName: req.SenderName, Role: req.SenderRole}
	msg, err := h.Store.AppendMessage(c.Param("id"), sender, req.Body)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.broadcastMessage(msg)
	c.JSON(http.StatusCreated, msg)
}

type actorRequest struct {
	ParticipantID   string      `json:"participant_id" validate:"required"`
	ParticipantName string      `json:"participant_name"`
	ParticipantRole models.Role `json:"participant_role"`
}

func (h *Handler) Resolve(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	conv, notice, err := h.Store.Resolve(c.Param("id"), req.ParticipantID)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.broadcastMessage(notice)
	h.broadcastStatus(conv.ID, realtime.EventResolved, conv.Status)
	h.Hub.Broadcast(conv.ID, realtime.Envelope{Event: realtime.EventFeedbackRequest})
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) Accept(c *gin.Context) {
	var req actorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	staff := models.ParticipantRef{ID: req.ParticipantID, DisplayName: req.ParticipantName, Role: req.ParticipantRole}
	conv, notice, err := h.Store.Accept(c.Param("id"), staff)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.broadcastMessage(notice)
	h.broadcastStatus(conv.ID, realtime.EventAccepted, conv.Status)
	c.JSON(http.StatusOK, conv)
}

type transferRequest struct {
	From   models.ParticipantRef `json:"from" validate:"required"`
	To     models.ParticipantRef `json:"to" validate:"required"`
	Reason string                `json:"reason" validate:"required"`
}

func (h *Handler) RequestTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	conv, notice, err := h.Store.RequestTransfer(c.Param("id"), req.From, req.To, req.Reason)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.broadcastMessage(notice)
	h.broadcastStatus(conv.ID, realtime.EventTransferred, conv.Status)
	c.JSON(http.StatusOK, conv)
}

type transferDecisionRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	Accept        bool   `json:"accept"`
}

func (h *Handler) DecideTransfer(c *gin.Context) {
	var req transferDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	conv, notice, err := h.Store.DecideTransfer(c.Param("id"), req.ParticipantID, req.Accept)
	if err != nil {
		h.storeError(c, err)
		return
	}
	h.broadcastMessage(notice)
	event := realtime.EventTransferred
	if req.Accept {
		event = realtime.EventAccepted
	}
	h.broadcastStatus(conv.ID, event, conv.Status)
	c.JSON(http.StatusOK, conv)
}

type feedbackRequest struct {
	ParticipantID string `json:"participant_id"`
	Rating        int    `json:"rating" validate:"required,min=1,max=5"`
	Comment       string `json:"comment"`
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_RATING", err.Error())
		return
	}
	conv, err := h.Store.SubmitFeedback(c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		h.storeError(c, err)
		return
	}
	payload, _ := json.Marshal(realtime.FeedbackUpdate{Rating: req.Rating, Comment: req.Comment})
	h.Hub.Broadcast(conv.ID, realtime.Envelope{Event: realtime.EventFeedbackReceived, Data: payload})
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) broadcastMessage(msg models.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.Logger.Error().Err(err).Msg("marshal message broadcast")
		return
	}
	h.Hub.Broadcast(msg.ConversationID, realtime.Envelope{Event: realtime.EventNewMessage, Data: payload})
}

func (h *Handler) broadcastStatus(conversationID, event string, status models.Status) {
	payload, _ := json.Marshal(realtime.StatusUpdate{Status: status})
	h.Hub.Broadcast(conversationID, realtime.Envelope{Event: event, Data: payload})
}

type joinFrame struct {
	ConversationID string `json:"conversation_id"`
	ParticipantID  string `json:"participant_id"`
	DisplayName    string `json:"display_name"`
	Role           string `json:"role"`
}

// Channel upgrades the connection and services the conversation channel: the
// first frame must be a join; afterwards typing and snapshot-request frames
// are relayed to the rest of the group until the client leaves or drops.
func (h *Handler) Channel(c *gin.Context) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var env realtime.Envelope
	if err := conn.ReadJSON(&env); err != nil || env.Event != realtime.EventJoin {
		return
	}
	var join joinFrame
	if err := json.Unmarshal(env.Data, &join); err != nil || join.ConversationID == "" {
		return
	}
	if _, err := h.Store.Get(join.ConversationID); err != nil {
		return
	}

	m := h.Hub.join(join.ConversationID, join.ParticipantID, conn)
	defer h.Hub.leave(join.ConversationID, m)

	log := h.Logger.With().
		Str("conversation_id", join.ConversationID).
		Str("participant_id", join.ParticipantID).
		Logger()
	log.Info().Msg("participant joined channel")

	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			log.Debug().Err(err).Msg("channel closed")
			return
		}
		switch env.Event {
		case realtime.EventLeave:
			return
		case realtime.EventTyping:
			h.Hub.BroadcastExcept(join.ConversationID, join.ParticipantID, env)
		case realtime.EventSnapshotAsk:
			out := realtime.Envelope{Event: realtime.EventSnapshotRequest, Data: env.Data}
			h.Hub.BroadcastExcept(join.ConversationID, join.ParticipantID, out)
		case realtime.EventResolveNotify:
			// The REST resolve path already broadcasts; nothing extra to do.
		default:
			log.Debug().Str("event", env.Event).Msg("ignoring unknown channel frame")
		}
	}
}
