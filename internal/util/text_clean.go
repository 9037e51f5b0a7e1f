package util

import (
	"regexp"
	"strings"
)

var (
	citationRe = regexp.MustCompile(`\[\s*\d+(?:\s*[-–]\s*\d+)?(?:\s*,\s*\d+)*\s*\]`)
	urlRe      = regexp.MustCompile(`https?://\S+|www\.\S+`)
	emailRe    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// CleanText strips numeric citation markers ("[12]", "[3-5]", "[1, 4]"), URLs and
// email addresses, then trims surrounding whitespace.
//
// Removing a URL can expose a new citation ("[1 http://x ]"), so the passes repeat
// until nothing changes.
func CleanText(s string) string {
	for {
		next := cleanOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func cleanOnce(s string) string {
	s = citationRe.ReplaceAllString(s, "")
	s = urlRe.ReplaceAllString(s, "")
	s = emailRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
