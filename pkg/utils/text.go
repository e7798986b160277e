// Package utils provides shared helpers for logging and terminal output.
package utils

import "fmt"

// Truncate returns s cut to at most maxLen runes, with "..." appended if it was cut.
// If maxLen is 0 or negative, s is returned unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// FormatScore renders a score in [0,1] as a fixed-width percentage.
func FormatScore(score float64) string {
	switch {
	case score <= 0:
		return "  0.0%"
	case score >= 1:
		return "100.0%"
	}
	return fmt.Sprintf("%5.1f%%", score*100)
}
