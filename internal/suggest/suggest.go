package suggest

import (
	"strings"

	"github.com/querydesk/chat/internal/models"
)

// Replies derives up to three canned replies for a staff participant from the
// customer's latest message. Rules are evaluated in a fixed priority order and
// the first match wins; categories overlap, so the order is load-bearing
// (gratitude must beat the generic confirmation and problem categories).
func Replies(lastInbound string, hasInbound bool, status models.Status) []string {
	if !hasInbound {
		return []string{
			"Hello! How can I help you today?",
			"Hi, thanks for reaching out. What can I do for you?",
			"Welcome! Please describe your issue and I'll take a look.",
		}
	}

	text := strings.ToLower(lastInbound)

	for _, rule := range rules {
		if rule.matches(text) {
			return rule.replies
		}
	}

	if status == models.StatusResolved {
		return []string{
			"Glad we could sort that out. Is there anything else you need?",
			"Your query is resolved. Feel free to reach out again anytime.",
			"Happy to have helped! Closing this query now.",
		}
	}

	return []string{
		"Thanks, let me look into that for you.",
		"Got it, give me a moment to check.",
		"I understand. Let me see what I can do.",
	}
}

type rule struct {
	keywords  []string
	wholeWord []string
	replies   []string
}

func (r rule) matches(text string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	for _, kw := range r.wholeWord {
		if containsWord(text, kw) {
			return true
		}
	}
	return false
}

// containsWord matches kw only on token boundaries, so "ok" does not fire
// inside "broken".
func containsWord(text, kw string) bool {
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if tok == kw {
			return true
		}
	}
	return false
}

var rules = []rule{
	{
		keywords: []string{"thank", "thanks", "appreciate"},
		replies: []string{
			"You're very welcome! Happy to help.",
			"Glad I could help. Anything else you need?",
			"Anytime! Don't hesitate to reach out again.",
		},
	},
	{
		keywords:  []string{"okay", "got it", "understood"},
		wholeWord: []string{"ok"},
		replies: []string{
			"Great, let me know if anything else comes up.",
			"Perfect. I'll keep this query open a little longer in case you need me.",
			"Sounds good. Shall I mark this query as resolved?",
		},
	},
	{
		keywords: []string{"urgent", "asap", "immediately", "emergency"},
		replies: []string{
			"I understand this is urgent. I'm prioritizing it right now.",
			"On it immediately. I'll update you within a few minutes.",
			"Treating this as high priority. Let me escalate if needed.",
		},
	},
	{
		keywords: []string{"wait", "waiting", "long", "still", "when"},
		replies: []string{
			"Apologies for the wait. I'm expediting this now.",
			"Sorry for the delay, I'm actively working on it.",
			"Thanks for your patience. I'll have an update for you shortly.",
		},
	},
	{
		keywords: []string{"problem", "issue", "error", "not working", "broken", "failed", "doesn't work", "can't"},
		replies: []string{
			"Sorry you're running into that. Can you share what you see exactly?",
			"Let's troubleshoot this together. When did it start happening?",
			"I'll help you fix that. Could you send a screenshot of the error?",
		},
	},
	{
		keywords: []string{"help", "assist", "support", "how to", "how do i"},
		replies: []string{
			"Of course, I'm here to help. Walk me through what you're trying to do.",
			"Happy to assist. Which part are you stuck on?",
			"Sure thing. Let me guide you step by step.",
		},
	},
	{
		keywords: []string{"?", "what", "why", "how", "where", "which"},
		replies: []string{
			"Good question, let me find that out for you.",
			"Let me clarify that for you right away.",
			"I'll check and get back to you with the exact answer.",
		},
	},
	{
		keywords: []string{"payment", "bill", "charge", "refund", "invoice", "subscription"},
		replies: []string{
			"Let me pull up your billing details.",
			"I'll review that charge for you right now.",
			"I can help with the refund process. One moment please.",
		},
	},
	{
		keywords: []string{"unhappy", "disappointed", "frustrated", "complaint", "terrible", "worst"},
		replies: []string{
			"I'm really sorry about this experience. Let me make it right.",
			"I apologize for the frustration. I'm escalating this to get it fixed.",
			"That's not the experience we want you to have. I'm on it.",
		},
	},
}
