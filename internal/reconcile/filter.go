package reconcile

import (
	"strings"

	"github.com/querydesk/chat/internal/models"
)

// System notices hidden from customers outright. Prefix match,
// case-insensitive.
var internalOnlyPrefixes = []string{
	"transfer requested",
	"waiting for query assignment",
	"query transferred to",
}

const reasonMarker = "reason:"

// FilterFor applies role-based visibility to a merged message sequence.
//
// Customers never see internal routing notices, and transfer notices they do
// see have the "Reason: ..." tail stripped. Staff see everything, and generic
// transferred notices additionally gain the latest transfer reason when the
// notice itself carries none.
func FilterFor(msgs []models.Message, viewer models.Participant, latestTransfer *models.TransferRecord) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.System() {
			out = append(out, msg)
			continue
		}
		if viewer.Role == models.RoleCustomer {
			body, keep := customerSystemBody(msg.Body)
			if !keep {
				continue
			}
			msg.Body = body
		} else if reason := staffReason(msg.Body, latestTransfer); reason != "" {
			msg.Body = msg.Body + "\nReason: " + reason
		}
		out = append(out, msg)
	}
	return out
}

func customerSystemBody(body string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(body))
	for _, prefix := range internalOnlyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}
	if !mentionsTransfer(lower) {
		return body, true
	}
	idx := strings.Index(lower, reasonMarker)
	if idx < 0 {
		return body, true
	}
	stripped := strings.TrimRight(body[:idx], " \t\n.-:;,")
	if stripped == "" {
		return "", false
	}
	return stripped, true
}

// staffReason returns the reason to append to a generic transferred notice,
// or "" when the notice already carries one or no reason is known.
func staffReason(body string, latestTransfer *models.TransferRecord) string {
	lower := strings.ToLower(body)
	if !mentionsTransfer(lower) {
		return ""
	}
	if strings.Contains(lower, reasonMarker) {
		return ""
	}
	if latestTransfer == nil || latestTransfer.Reason == "" {
		return ""
	}
	return latestTransfer.Reason
}

func mentionsTransfer(lower string) bool {
	return strings.Contains(lower, "transfer") || strings.Contains(lower, "escalat")
}
