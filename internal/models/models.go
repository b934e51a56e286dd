package models

import (
	"regexp"
	"time"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAgent    Role = "AGENT"
	RoleQA       Role = "QA"
	RoleTL       Role = "TL"
	RoleAdmin    Role = "ADMIN"
	RoleSystem   Role = "SYSTEM"
)

// Staff reports whether the role belongs to a support-side participant.
func (r Role) Staff() bool {
	switch r {
	case RoleAgent, RoleQA, RoleTL, RoleAdmin:
		return true
	}
	return false
}

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusAccepted    Status = "ACCEPTED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusResolved    Status = "RESOLVED"
	StatusExpired     Status = "EXPIRED"
	StatusTransferred Status = "TRANSFERRED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusExpired
}

type Participant struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

func (p Participant) Ref() ParticipantRef {
	return ParticipantRef{ID: p.ID, DisplayName: p.DisplayName, Role: p.Role}
}

type ParticipantRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Body           string    `json:"body"`
	SenderID       string    `json:"sender_id"`
	SenderRole     Role      `json:"sender_role"`
	SenderName     string    `json:"sender_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Optimistic     bool      `json:"-"`
}

func (m Message) System() bool {
	return m.SenderRole == RoleSystem
}

var mediaURLPattern = regexp.MustCompile(`(?i)https?://\S+\.(?:png|jpg|jpeg|gif|webp)`)

// MediaURL extracts an inline image attachment URL from the message body.
// A body carrying such a URL is an attachment semantically, not plain text.
func (m Message) MediaURL() (string, bool) {
	url := mediaURLPattern.FindString(m.Body)
	return url, url != ""
}

type TransferStatus string

const (
	TransferRequested TransferStatus = "REQUESTED"
	TransferAccepted  TransferStatus = "ACCEPTED"
	TransferRejected  TransferStatus = "REJECTED"
)

type TransferRecord struct {
	Step        int            `json:"step"`
	From        ParticipantRef `json:"from"`
	To          ParticipantRef `json:"to"`
	Status      TransferStatus `json:"status"`
	Reason      string         `json:"reason"`
	RequestedAt time.Time      `json:"requested_at"`
	AcceptedAt  *time.Time     `json:"accepted_at,omitempty"`
}

type Feedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Conversation struct {
	ID                    string           `json:"id"`
	Status                Status           `json:"status"`
	AssignedParticipantID string           `json:"assigned_participant_id,omitempty"`
	CustomerID            string           `json:"customer_id,omitempty"`
	Subject               string           `json:"subject,omitempty"`
	TransferHistory       []TransferRecord `json:"transfer_history,omitempty"`
	Feedback              *Feedback        `json:"feedback,omitempty"`
	Messages              []Message        `json:"messages"`
	CreatedAt             time.Time        `json:"created_at"`
}

// LatestTransfer returns the last record of the append-only transfer history.
func (c Conversation) LatestTransfer() (TransferRecord, bool) {
	if len(c.TransferHistory) == 0 {
		return TransferRecord{}, false
	}
	return c.TransferHistory[len(c.TransferHistory)-1], true
}
