package util

import "strings"

// ChunkText splits text into pieces of at most size runes. Blank-line separated
// paragraphs are packed whole while they fit; a paragraph longer than size is
// cut into rune windows that overlap by overlap runes.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	out := make([]string, 0)
	var cur []rune
	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			out = append(out, s)
		}
		cur = cur[:0]
	}
	for _, para := range paragraphs(text) {
		r := []rune(para)
		if len(r) > size {
			flush()
			out = append(out, windows(r, size, overlap)...)
			continue
		}
		if len(cur) > 0 && len(cur)+2+len(r) > size {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, '\n', '\n')
		}
		cur = append(cur, r...)
	}
	flush()
	return out
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func windows(r []rune, size, overlap int) []string {
	step := size - overlap
	var out []string
	for i := 0; i < len(r); i += step {
		end := min(i+size, len(r))
		if part := strings.TrimSpace(string(r[i:end])); part != "" {
			out = append(out, part)
		}
		if end == len(r) {
			break
		}
	}
	return out
}
