package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/ttacon/libphonenumber"
)

var CountryCode = "MT"

func NewTrue() *bool {
	b := true
	return &b
}

func StringPtr(s string) *string {
	return &s
}

func DereferencePtr[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}

// IsBlank reports whether a nullable string carries no value.
// nil and whitespace-only are treated the same to avoid phantom diffs.
func IsBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// FormatPhoneNumber normalizes to E164 so the same number never diffs
// against itself in history.
func FormatPhoneNumber(phoneNumber, countryCode string) (string, error) {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
