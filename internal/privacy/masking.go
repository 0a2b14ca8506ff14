package privacy

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"smsrelay/internal/constants"
)

var digitRun = regexp.MustCompile(`\d{4,}`)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	keep := constants.DefaultPhoneMaskLength
	if strings.HasPrefix(phone, "+") {
		rest := phone[1:]
		if len(rest) <= keep {
			return "+" + strings.Repeat("*", len(rest))
		}
		return "+" + maskString(rest, keep)
	}

	if len(phone) <= keep {
		return strings.Repeat("*", len(phone))
	}
	return maskString(phone, keep)
}

// MaskCode hides all but the last two digits of a one-time code.
func MaskCode(code string) string {
	if len(code) <= 2 {
		return strings.Repeat("*", len(code))
	}
	return maskString(code, 2)
}

// MaskProviderID keeps the tail of a carrier message id for correlation.
func MaskProviderID(id string) string {
	return maskString(id, 6)
}

// PreviewBody truncates an SMS body for logging and hides digit runs that
// could be codes.
func PreviewBody(body string) string {
	preview := body
	if utf8.RuneCountInString(preview) > constants.DefaultBodyPreviewLen {
		runes := []rune(preview)
		preview = string(runes[:constants.DefaultBodyPreviewLen]) + "..."
	}
	return MaskDigitRuns(preview)
}

// MaskDigitRuns replaces every run of four or more digits with asterisks.
func MaskDigitRuns(s string) string {
	return digitRun.ReplaceAllStringFunc(s, func(run string) string {
		return strings.Repeat("*", len(run))
	})
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}

		switch k {
		case "phone", "phone_number", "from", "from_number", "to":
			masked[k] = MaskPhoneNumber(s)
		case "code":
			masked[k] = MaskCode(s)
		case "message_sid", "provider_id":
			masked[k] = MaskProviderID(s)
		case "body", "body_text":
			masked[k] = PreviewBody(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
