package validation

import (
	"errors"
	"strings"
	"unicode"
)

// MaxLocationLen bounds a location identifier in digits.
const MaxLocationLen = 12

// MaxThingIDLen bounds a thing identifier in runes.
const MaxThingIDLen = 64

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooLong is returned when location length exceeds MaxLocationLen.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location is not a plain number.
var ErrLocationInvalidChars = errors.New("location must be a numeric WOEID")

// ErrThingIDEmpty is returned for a blank thing identifier.
var ErrThingIDEmpty = errors.New("thing id is required")

// ErrThingIDInvalid is returned when a thing identifier is too long or holds
// characters outside letters, digits, hyphen and underscore.
var ErrThingIDInvalid = errors.New("thing id is invalid")

// ValidateLocation trims the input and checks it is a WOEID: one to
// MaxLocationLen ASCII digits. Returns the trimmed string or an error suitable
// for 400 INVALID_LOCATION responses.
func ValidateLocation(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrLocationEmpty
	}
	if len(s) > MaxLocationLen {
		return "", ErrLocationTooLong
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// ValidateThingID trims the input and checks it is usable as a URL path
// segment and metric label.
func ValidateThingID(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrThingIDEmpty
	}
	if len(r) > MaxThingIDLen {
		return "", ErrThingIDInvalid
	}
	for _, c := range r {
		if !isAllowedThingIDRune(c) {
			return "", ErrThingIDInvalid
		}
	}
	return s, nil
}

func isAllowedThingIDRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	return r == '-' || r == '_'
}
