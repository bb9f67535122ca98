package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxMessageLength   = 4096
	MaxSessionIDLength = 64
	MaxNameLength      = 128
	MaxSearchLength    = 100
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidSessionID checks a gateway session id (alphanumeric plus _ . -).
func ValidSessionID(s string) bool {
	if s == "" || len(s) > MaxSessionIDLength {
		return false
	}
	return sessionIDPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")

	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for _, r := range s {
			if r != utf8.RuneError {
				v = append(v, r)
			}
		}
		s = string(v)
	}
	return s
}

// TruncateString truncates to maxLen runes.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

// ValidateLength checks if string is within bounds
func ValidateLength(s string, min, max int) bool {
	l := utf8.RuneCountInString(s)
	return l >= min && l <= max
}
