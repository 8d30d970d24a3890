package learning

import "regexp"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
)

// ScrubPII replaces emails, card numbers and phone numbers with placeholders.
// Names and order numbers are kept for training context.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = cardRe.ReplaceAllString(text, "[CARD]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// Scrubbed returns a copy of s with customer-visible text scrubbed. Used for
// anything that leaves the primary store.
func Scrubbed(s Signal) Signal {
	out := s
	out.CustomerMessage = ScrubPII(s.CustomerMessage)
	out.DraftReply = ScrubPII(s.DraftReply)
	out.HumanReply = ScrubPII(s.HumanReply)
	if s.Changes != nil {
		out.Changes = make([]Change, len(s.Changes))
		for i, c := range s.Changes {
			c.Original = ScrubPII(c.Original)
			c.Revised = ScrubPII(c.Revised)
			out.Changes[i] = c
		}
	}
	return out
}
