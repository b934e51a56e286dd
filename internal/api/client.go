package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/querydesk/chat/internal/models"
)

var ErrNotFound = errors.New("conversation not found")

// Error is a rejection from the gateway, carrying the machine-readable code
// from its error envelope.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to the conversation gateway's REST surface: snapshot fetch,
// message send, and the resolve/accept/transfer actions.
type Client struct {
	BaseURL string
	Client  *http.Client
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return c.Client
}

// Conversation fetches the full snapshot: status, messages, transfer history
// and feedback.
func (c *Client) Conversation(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+id, nil, &conv)
	return conv, err
}

type sendMessageRequest struct {
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	SenderRole models.Role `json:"sender_role"`
	Body       string      `json:"body"`
}

// SendMessage persists one message and returns the server-confirmed entry
// with its final id and timestamp.
func (c *Client) SendMessage(ctx context.Context, conversationID string, sender models.Participant, body string) (models.Message, error) {
	req := sendMessageRequest{
		SenderID:   sender.ID,
		SenderName: sender.DisplayName,
		SenderRole: sender.Role,
		Body:       body,
	}
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/messages", req, &msg)
	return msg, err
}

type actorRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (c *Client) Resolve(ctx context.Context, conversationID, participantID string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/resolve", actorRequest{ParticipantID: participantID}, &conv)
	return conv, err
}

func (c *Client) Accept(ctx context.Context, conversationID, participantID string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/accept", actorRequest{ParticipantID: participantID}, &conv)
	return conv, err
}

type transferRequest struct {
	From   models.ParticipantRef `json:"from"`
	To     models.ParticipantRef `json:"to"`
	Reason string                `json:"reason"`
}

func (c *Client) RequestTransfer(ctx context.Context, conversationID string, from, to models.ParticipantRef, reason string) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/transfer", transferRequest{From: from, To: to, Reason: reason}, &conv)
	return conv, err
}

type transferDecisionRequest struct {
	ParticipantID string `json:"participant_id"`
	Accept        bool   `json:"accept"`
}

func (c *Client) DecideTransfer(ctx context.Context, conversationID, participantID string, accept bool) (models.Conversation, error) {
	var conv models.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/transfer/decide", transferDecisionRequest{ParticipantID: participantID, Accept: accept}, &conv)
	return conv, err
}

type feedbackRequest struct {
	ParticipantID string `json:"participant_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
}

func (c *Client) SubmitFeedback(ctx context.Context, conversationID, participantID string, rating int, comment string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+conversationID+"/feedback", feedbackRequest{ParticipantID: participantID, Rating: rating, Comment: comment}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
			return &Error{StatusCode: resp.StatusCode, Code: "UNEXPECTED", Message: resp.Status}
		}
		return &Error{StatusCode: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
