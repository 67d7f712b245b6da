package cascade

import (
	"strconv"
	"strings"
	"time"
)

// ToPtr returns a pointer to the given value.
// This is useful for creating pointers to literals or converting values to pointers.
func ToPtr[T any](v T) *T {
	return &v
}

// DefaultTimeout is used when a duration string cannot be parsed
const DefaultTimeout = time.Hour

// ParseTimeout parses a suspend/signal timeout expressed as <integer><unit>
// where unit is one of s, m, h, d. An unparseable string yields
// DefaultTimeout (1 hour).
func ParseTimeout(s string) time.Duration {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return DefaultTimeout
	}

	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return DefaultTimeout
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second
	case 'm':
		return time.Duration(n) * time.Minute
	case 'h':
		return time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	default:
		return DefaultTimeout
	}
}
