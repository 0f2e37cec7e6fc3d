package util

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalidPhone is returned when a phone number is not a valid Guatemalan
// mobile destination.
var ErrInvalidPhone = errors.New("invalid guatemalan phone number")

// GuatemalaPrefix is the only country prefix the dispatcher accepts.
const GuatemalaPrefix = "+502"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// NormalizeGuatemalaNumber strips whitespace from a phone number and
// validates it as a Guatemalan E.164 destination: +502 followed by an eight
// or nine digit subscriber number.
func NormalizeGuatemalaNumber(value string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)

	if cleaned == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidPhone)
	}
	if !strings.HasPrefix(cleaned, GuatemalaPrefix) {
		return "", fmt.Errorf("%w: number must start with %s", ErrInvalidPhone, GuatemalaPrefix)
	}
	if len(cleaned) < 12 || len(cleaned) > 13 {
		return "", fmt.Errorf("%w: expected format %s XXXXXXXX", ErrInvalidPhone, GuatemalaPrefix)
	}
	if !e164Pattern.MatchString(cleaned) {
		return "", fmt.Errorf("%w: not an e164 number", ErrInvalidPhone)
	}

	return cleaned, nil
}
