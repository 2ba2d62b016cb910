package moderation

import (
	"testing"

	"github.com/chatly/chat-app/internal/chat"
)

func TestCheck_BlockedTerms(t *testing.T) {
	a := NewAuditor([]string{"badword", "Go Die", "  "})

	tests := []struct {
		name    string
		input   string
		flagged bool
		term    string
	}{
		{"exact", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"case", "BaDwOrD", true, "badword"},
		{"punctuation", "hello, badword!", true, "badword"},
		{"phrase", "just go die already", true, "go die"},
		{"phrase across punctuation", "go... die", true, "go die"},
		{"prefix is not a word", "badwording is fine", false, ""},
		{"suffix is not a word", "mybadword", false, ""},
		{"phrase split", "go and die", false, ""},
		{"clean", "hello world", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := a.Check(tt.input)
			if v.Flagged != tt.flagged {
				t.Fatalf("Check(%q).Flagged = %v, want %v", tt.input, v.Flagged, tt.flagged)
			}
			if tt.flagged && (v.Term != tt.term || v.Rule != RuleBlockedTerm) {
				t.Errorf("Check(%q) = %+v, want term %q rule %q", tt.input, v, tt.term, RuleBlockedTerm)
			}
		})
	}
}

func TestCheck_Spam(t *testing.T) {
	a := NewAuditor(nil)

	tests := []struct {
		input string
		term  string
	}{
		{"check out http://evil.com", "url"},
		{"go to www.phishing.net", "url"},
		{"visit evil.com/free", "url"},
		{"call me at 555-123-4567 okay?", "phone"},
		{"(555) 123-4567", "phone"},
		{"hellooooooo", "char_flood"},
		{"!!!!!", "char_flood"},
		{"buy buy BUY now", "word_flood"},
		{"running v2.0 today", ""},
		{"pi is 3.14", ""},
		{"I have 100 apples", ""},
		{"good good", ""},
		{"hello", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v := a.Check(tt.input)
			if tt.term == "" {
				if v.Flagged {
					t.Fatalf("Check(%q) flagged as %+v", tt.input, v)
				}
				return
			}
			if !v.Flagged || v.Rule != RuleSpam || v.Term != tt.term {
				t.Fatalf("Check(%q) = %+v, want spam %q", tt.input, v, tt.term)
			}
		})
	}
}

func TestCheck_TermsBeforeSpam(t *testing.T) {
	a := NewAuditor([]string{"scam"})
	v := a.Check("scam at http://evil.com")
	if v.Rule != RuleBlockedTerm || v.Term != "scam" {
		t.Fatalf("got %+v, want blocked term first", v)
	}
}

func TestAuditEvent(t *testing.T) {
	a := NewAuditor([]string{"badword"})
	msg := &chat.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "badword"}

	f, ok := a.AuditEvent(chat.Event{Type: chat.EventMessageCreated, Server: "s1", Message: msg})
	if !ok {
		t.Fatal("expected a finding")
	}
	if f.MessageID != "m1" || f.SenderID != "u1" || f.ReceiverID != "u2" || f.Server != "s1" || f.Term != "badword" {
		t.Errorf("unexpected finding %+v", f)
	}

	skip := []chat.Event{
		{Type: chat.EventPresence, UserIDs: []string{"u1"}},
		{Type: chat.EventMessageCreated},
		{Type: chat.EventMessageCreated, Message: &chat.Message{ID: "m2", ImageURL: "http://img/x.png"}},
		{Type: chat.EventMessageCreated, Message: &chat.Message{ID: "m3", Text: "hi there"}},
	}
	for _, ev := range skip {
		if _, ok := a.AuditEvent(ev); ok {
			t.Errorf("AuditEvent(%+v) should not report", ev)
		}
	}
}
