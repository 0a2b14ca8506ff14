package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"smsrelay/internal/errors"
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// ValidatePhoneNumber checks that phone looks like an E.164 number.
func ValidatePhoneNumber(phone string) error {
	if phone == "" {
		return errors.New(errors.ErrCodeInvalidInput, "phone number cannot be empty")
	}

	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < minPhoneDigits {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number must be at least %d digits", minPhoneDigits))
	}
	if len(digits) > maxPhoneDigits {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("phone number too long (max %d digits)", maxPhoneDigits))
	}

	for _, r := range digits {
		if !unicode.IsDigit(r) {
			return errors.New(errors.ErrCodeInvalidInput, "phone number must contain only digits")
		}
	}
	return nil
}

// NormalizeSender trims a sender taken from a URL path and prefixes "+"
// when absent. "15551234567" and "+15551234567" name the same sender.
func NormalizeSender(from string) (string, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", errors.New(errors.ErrCodeInvalidInput, "sender cannot be empty")
	}
	if strings.ContainsAny(from, "\x00\r\n\t") {
		return "", errors.New(errors.ErrCodeInvalidInput, "sender contains invalid characters")
	}
	if len(from) > 64 {
		return "", errors.New(errors.ErrCodeInvalidInput, "sender too long (max 64 characters)")
	}

	if !strings.HasPrefix(from, "+") {
		from = "+" + from
	}
	return from, nil
}

// ValidateBaseURL requires an absolute http(s) URL.
func ValidateBaseURL(raw, fieldName string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be an absolute http(s) URL", fieldName))
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}
	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}
	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	return ValidateNumericRange(timeoutSec, fieldName, 1, 3600)
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	return ValidateNumericRange(days, "retention days", 1, 3650)
}
