package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrEmptyName   = errors.New("name is empty")
	ErrInvalidName = errors.New("name is invalid")
)

// ValidateName trims name and checks it against the rules both sides agree
// on. It returns the trimmed name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not utf-8", ErrInvalidName)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return "", fmt.Errorf("%w: %d characters (max %d)", ErrInvalidName, n, MaxNameLength)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return "", fmt.Errorf("%w: contains %q", ErrInvalidName, r)
		}
	}
	return name, nil
}
