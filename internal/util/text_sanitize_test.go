package util

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestSanitizeText(t *testing.T) {
	cases := map[string]string{
		"ab\x00cd\x01\x02\n\txy": "abcd\n\txy",
		"line\r\nnext\rlast":     "line\nnext\nlast",
		"bad �glyph\x7f":    "bad glyph",
		"  \x00  ":               "",
	}
	for in, want := range cases {
		if got := SanitizeText(in); got != want {
			t.Fatalf("SanitizeText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeTextIsStable(t *testing.T) {
	alphabet := rapid.SampledFrom([]string{"a", " ", "\x00", "\x1b", "\r", "\n", "\t", "�", "é"})
	rapid.Check(t, func(t *rapid.T) {
		s := strings.Join(rapid.SliceOf(alphabet).Draw(t, "parts"), "")
		once := SanitizeText(s)
		if strings.ContainsAny(once, "\x00\x1b\r�") {
			t.Fatalf("control rune survived in %q", once)
		}
		if twice := SanitizeText(once); twice != once {
			t.Fatalf("not stable: %q -> %q", once, twice)
		}
	})
}
