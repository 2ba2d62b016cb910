package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Bare domains need a path so "v2.0" and "3.14" pass.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// +1-555-123-4567, (555) 123-4567, 555.123.4567
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

const (
	charFloodRun = 5
	wordFloodRun = 3
)

// First match wins.
var spamChecks = []struct {
	name  string
	match func(string) bool
}{
	{"url", urlPattern.MatchString},
	{"phone", phonePattern.MatchString},
	{"char_flood", hasCharFlood},
	{"word_flood", hasWordFlood},
}

func spamCheck(text string) string {
	for _, c := range spamChecks {
		if c.match(text) {
			return c.name
		}
	}
	return ""
}

// RE2 has no backreferences, so floods are found by scanning.
func hasCharFlood(text string) bool {
	run, prev := 0, rune(-1)
	for _, r := range text {
		if r == prev {
			run++
		} else {
			run, prev = 1, r
		}
		if run >= charFloodRun {
			return true
		}
	}
	return false
}

func hasWordFlood(text string) bool {
	run, prev := 0, ""
	for _, w := range strings.FieldsFunc(text, unicode.IsSpace) {
		w = strings.ToLower(w)
		if w == prev {
			run++
		} else {
			run, prev = 1, w
		}
		if run >= wordFloodRun {
			return true
		}
	}
	return false
}
