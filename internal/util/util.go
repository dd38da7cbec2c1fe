// Package util provides small string helpers shared by the front end and parser.
package util

import "strings"

// FieldSeparator splits a front-end line into command and arguments.
const FieldSeparator = '|'

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// SplitFields splits s on sep, ignoring separators inside double quotes.
// Quotes are kept so callers can still tell quoted fields apart.
func SplitFields(s string, sep rune) []string {
	if s == "" {
		return nil
	}
	var (
		fields  []string
		b       strings.Builder
		inQuote bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == sep && !inQuote:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	return append(fields, b.String())
}
