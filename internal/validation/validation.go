// Package validation sanity-checks device authorization responses issued
// by the identity provider before they are shown to the user
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Validation settings
const (
	MinLength = 4  // Minimum user code length excluding separators
	MaxLength = 32 // Maximum user code length excluding separators
)

// Provider user codes are case-insensitive alphanumerics, optionally
// grouped with hyphens or spaces per RFC 8628 section 6.1
var codeRegex = regexp.MustCompile(`^[A-Z0-9]+([- ][A-Z0-9]+)*$`)

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// ValidateUserCode checks that a provider-issued user code can be shown
// and typed by a human
func ValidateUserCode(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))

	base := NormalizeCode(code)
	if len(base) < MinLength || len(base) > MaxLength {
		return &ValidationError{
			Field:   "user_code",
			Value:   code,
			Message: fmt.Sprintf("length must be between %d and %d characters", MinLength, MaxLength),
		}
	}

	if !codeRegex.MatchString(code) {
		return &ValidationError{
			Field:   "user_code",
			Value:   code,
			Message: "code must contain only letters, digits and group separators",
		}
	}

	return nil
}

// ValidateVerificationURI checks the URI is an absolute web address
func ValidateVerificationURI(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ValidationError{Field: "verification_uri", Value: raw, Message: err.Error()}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return &ValidationError{Field: "verification_uri", Value: raw, Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "verification_uri", Value: raw, Message: "host is required"}
	}
	return nil
}

// NormalizeCode converts a user code to canonical format
func NormalizeCode(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), "-", "")
	return strings.ToUpper(strings.ReplaceAll(code, " ", ""))
}

// FormatCode converts a code to display format, splitting ungrouped codes
// of eight or more characters in half
func FormatCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if strings.ContainsAny(code, "- ") || len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
