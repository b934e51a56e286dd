package authz

import (
	"github.com/querydesk/chat/internal/models"
)

// Permissions is the full set of actions the participant may currently take
// on a conversation. It is a pure derivation of (conversation, participant):
// recompute it on every conversation-state change instead of caching pieces
// of it at call sites.
type Permissions struct {
	AssignedToMe            bool
	EscalatedAwayByMe       bool
	PendingIncomingTransfer bool

	CanSendMessage bool
	CanResolve     bool
	CanEscalate    bool
	CanAccept      bool
	CanMakeCalls   bool
	CanRate        bool
}

func Derive(conv models.Conversation, p models.Participant) Permissions {
	perms := Permissions{
		AssignedToMe: conv.AssignedParticipantID != "" && conv.AssignedParticipantID == p.ID,
	}

	if last, ok := conv.LatestTransfer(); ok {
		perms.EscalatedAwayByMe = last.From.ID == p.ID && last.Status != models.TransferAccepted
		perms.PendingIncomingTransfer = conv.Status == models.StatusTransferred &&
			last.To.ID == p.ID && last.Status == models.TransferRequested
	}

	// Terminal states admit no sends regardless of role.
	if !conv.Status.Terminal() {
		if p.Role == models.RoleCustomer {
			perms.CanSendMessage = true
		} else {
			perms.CanSendMessage = perms.AssignedToMe && !perms.EscalatedAwayByMe
		}
	}

	staff := p.Role.Staff()
	perms.CanResolve = staff && conv.Status != models.StatusResolved && perms.AssignedToMe
	perms.CanEscalate = staff && !conv.Status.Terminal() && !perms.PendingIncomingTransfer
	perms.CanAccept = perms.PendingIncomingTransfer
	perms.CanMakeCalls = perms.AssignedToMe && !conv.Status.Terminal()
	perms.CanRate = p.Role == models.RoleQA

	return perms
}
