// Package moderation audits delivered chat messages for spam and blocked
// terms. It never blocks delivery; flagged messages are reported to whoever
// consumes the message.created event stream.
package moderation

import (
	"strings"
	"unicode"

	"github.com/chatly/chat-app/internal/chat"
)

// Rules reported in a Verdict.
const (
	RuleBlockedTerm = "blocked_term"
	RuleSpam        = "spam"
)

// Verdict is the outcome of auditing one text.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Rule    string `json:"rule,omitempty"`
	Term    string `json:"term,omitempty"` // matched term, or the spam check name
}

// Finding is a flagged message together with its verdict.
type Finding struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Server     string `json:"server"`
	Verdict
}

// Auditor checks message text against a term list and the spam heuristics.
// It is immutable after construction and safe for concurrent use.
type Auditor struct {
	words   map[string]struct{}
	phrases [][]string
}

// NewAuditor builds an auditor for terms. Single-word terms match whole
// words; multi-word terms match consecutive words. Matching ignores case and
// surrounding punctuation.
func NewAuditor(terms []string) *Auditor {
	a := &Auditor{words: make(map[string]struct{})}
	for _, t := range terms {
		toks := tokenize(t)
		switch len(toks) {
		case 0:
		case 1:
			a.words[toks[0]] = struct{}{}
		default:
			a.phrases = append(a.phrases, toks)
		}
	}
	return a
}

// Check audits text. Blocked terms are reported before spam patterns.
func (a *Auditor) Check(text string) Verdict {
	toks := tokenize(text)
	for _, tok := range toks {
		if _, ok := a.words[tok]; ok {
			return Verdict{Flagged: true, Rule: RuleBlockedTerm, Term: tok}
		}
	}
	for _, p := range a.phrases {
		if containsRun(toks, p) {
			return Verdict{Flagged: true, Rule: RuleBlockedTerm, Term: strings.Join(p, " ")}
		}
	}
	if name := spamCheck(text); name != "" {
		return Verdict{Flagged: true, Rule: RuleSpam, Term: name}
	}
	return Verdict{}
}

// AuditEvent audits a message.created event. ok is false for other event
// types, for image-only messages and for clean text.
func (a *Auditor) AuditEvent(ev chat.Event) (Finding, bool) {
	if ev.Type != chat.EventMessageCreated || ev.Message == nil || ev.Message.Text == "" {
		return Finding{}, false
	}
	v := a.Check(ev.Message.Text)
	if !v.Flagged {
		return Finding{}, false
	}
	return Finding{
		MessageID:  ev.Message.ID,
		SenderID:   ev.Message.SenderID,
		ReceiverID: ev.Message.ReceiverID,
		Server:     ev.Server,
		Verdict:    v,
	}, true
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsRun(toks, run []string) bool {
	for i := 0; i+len(run) <= len(toks); i++ {
		match := true
		for j := range run {
			if toks[i+j] != run[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
