package diagram

import (
	"regexp"
	"strings"
)

var (
	d2FenceRe  = regexp.MustCompile("(?is)```d2(.*?)```")
	anyFenceRe = regexp.MustCompile("(?s)```(.*?)```")
	infoLineRe = regexp.MustCompile(`^[A-Za-z0-9_+-]*$`)
)

// ExtractSource picks the first d2 fenced block, else the first fenced block of
// any kind, else the whole trimmed text.
func ExtractSource(raw string) string {
	if m := d2FenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(dropInfoString(m[1]))
	}
	return strings.TrimSpace(raw)
}

func dropInfoString(block string) string {
	first, rest, ok := strings.Cut(block, "\n")
	if ok && infoLineRe.MatchString(strings.TrimSpace(first)) {
		return rest
	}
	return block
}

// RepairBraces drops trailing closing braces while closes outnumber opens.
// Braces inside quoted labels are not counted; an apostrophe inside a word
// such as "Model's" does not open a quote.
func RepairBraces(src string) string {
	code := strings.TrimSpace(src)
	for strings.HasSuffix(code, "}") {
		opens, closes := countBraces(code)
		if closes <= opens {
			break
		}
		code = strings.TrimSpace(code[:len(code)-1])
	}
	return code
}

func countBraces(s string) (opens, closes int) {
	var quote rune
	prev := ' '
	escaped := false
	for _, r := range s {
		last := prev
		prev = r
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || (r == '\'' && opensValue(last)):
			quote = r
		case r == '{':
			opens++
		case r == '}':
			closes++
		}
	}
	return opens, closes
}

// opensValue reports whether a single quote following prev starts a quoted
// value rather than sitting inside a word.
func opensValue(prev rune) bool {
	switch prev {
	case ' ', '\t', '\r', '\n', ';', ':', '{', '}':
		return true
	}
	return false
}
