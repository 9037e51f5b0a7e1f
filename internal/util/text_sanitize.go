package util

import "strings"

// SanitizeText drops NUL and other control runes that Postgres text columns
// reject or that PDF extractors leak, keeping newlines and tabs.
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\t':
			return r
		case r == '\r':
			return '\n'
		case r < 0x20, r == 0x7f, r == '�':
			return -1
		}
		return r
	}, s))
}
