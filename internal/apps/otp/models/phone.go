package models

import (
	"strings"
	"unicode"
)

// NormalizePhone trims surrounding whitespace and enforces a leading "+".
// It is idempotent: normalizing an already-normalized number is a no-op.
// Empty input stays empty.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}

// PhoneDigits strips every non-digit character
func PhoneDigits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPhone replaces every digit but the last four with '*'.
// Used for display and for log fields.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	head, tail := phone[:len(phone)-4], phone[len(phone)-4:]
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return '*'
		}
		return r
	}, head) + tail
}
