package chat

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		image   string
		wantErr error
	}{
		{"text only", "hello", "", nil},
		{"image only", "", "data:image/png;base64,AAAA", nil},
		{"both", "look", "data:image/png;base64,AAAA", nil},
		{"empty", "", "", ErrEmptyMessage},
		{"whitespace only", "   \n", "", ErrEmptyMessage},
		{"too many bytes", strings.Repeat("a", MaxMessageBytes+1), "", ErrInvalidContent},
		{"too many runes", strings.Repeat("é", MaxTextChars+1), "", ErrInvalidContent},
		{"invalid utf8", "bad\xff", "", ErrInvalidContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.text, tt.image)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMessageInvolves(t *testing.T) {
	m := Message{ID: "1", SenderID: "a", ReceiverID: "b", Text: "hi", CreatedAt: time.Now()}

	if !m.Involves("a", "b") || !m.Involves("b", "a") {
		t.Fatal("expected message to involve a and b in both orders")
	}
	if m.Involves("a", "c") {
		t.Fatal("did not expect message to involve a and c")
	}
	if got := m.Counterpart("a"); got != "b" {
		t.Errorf("Counterpart(a) = %q, want b", got)
	}
	if got := m.Counterpart("b"); got != "a" {
		t.Errorf("Counterpart(b) = %q, want a", got)
	}
}
