// Package resolver expands a hex UID prefix to the full UID of a cached tag.
package resolver

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// MinPrefixLength is the minimum number of hex digits accepted as a prefix.
const MinPrefixLength = 4

// TagScanner lists cached tag UIDs by prefix. *publish.Publisher implements it.
type TagScanner interface {
	ScanTags(ctx context.Context, prefix string) ([]string, error)
}

// ResolveTagUID resolves a UID prefix to the full UID of a cached tag.
// An exact match wins even when the input also prefixes longer UIDs;
// otherwise exactly one cached UID must start with the prefix.
func ResolveTagUID(ctx context.Context, s TagScanner, prefix string) (string, error) {
	prefix = strings.ToUpper(prefix)

	if len(prefix) < MinPrefixLength {
		return "", fmt.Errorf("UID prefix must be at least %d hex digits (got %d)", MinPrefixLength, len(prefix))
	}
	if _, err := hex.DecodeString(prefix + strings.Repeat("0", len(prefix)%2)); err != nil {
		return "", fmt.Errorf("UID prefix is not hex: %s", prefix)
	}

	matches, err := s.ScanTags(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to search for tag: %w", err)
	}

	for _, m := range matches {
		if m == prefix {
			return m, nil
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Prefix: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: prefix, Matches: matches}
	}
}

// NotFoundError indicates no cached tag matched the prefix.
type NotFoundError struct {
	Prefix string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no tags found matching '%s'", e.Prefix)
}

// AmbiguousError indicates several cached tags matched the prefix.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous UID prefix '%s' matches %d tags", e.Prefix, len(e.Matches))
}

// FormatAmbiguousError lists the matching UIDs (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("ambiguous UID prefix '%s' matches %d tags:\n", err.Prefix, len(err.Matches))

	displayCount := min(len(err.Matches), 10)
	for _, m := range err.Matches[:displayCount] {
		msg += fmt.Sprintf("  %s\n", m)
	}
	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the tag."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
