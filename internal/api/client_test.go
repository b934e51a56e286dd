package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/querydesk/chat/internal/models"
)

func TestConversationFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c1" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(models.Conversation{ID: "c1", Status: models.StatusInProgress})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	conv, err := c.Conversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if conv.ID != "c1" || conv.Status != models.StatusInProgress {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}

func TestConversationNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	if _, err := c.Conversation(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessageReturnsConfirmedEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Body != "hi" || req.SenderID != "a1" {
			t.Fatalf("unexpected payload: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Message{ID: "srv1", Body: req.Body, SenderID: req.SenderID})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	sender := models.Participant{ID: "a1", Role: models.RoleAgent}
	msg, err := c.SendMessage(context.Background(), "c1", sender, "hi")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.ID != "srv1" {
		t.Fatalf("expected server id, got %+v", msg)
	}
}

func TestErrorEnvelopeMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"ALREADY_RESOLVED","message":"Query already resolved"}}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	_, err := c.Resolve(context.Background(), "c1", "a1")

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "ALREADY_RESOLVED" || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestMalformedErrorBodyStillReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	_, err := c.Resolve(context.Background(), "c1", "a1")

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != "UNEXPECTED" {
		t.Fatalf("unexpected code: %s", apiErr.Code)
	}
}
