package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestChunkTextPacksParagraphs(t *testing.T) {
	if got := ChunkText("abc\n\ndef", 100, 0); len(got) != 1 || got[0] != "abc\n\ndef" {
		t.Fatalf("expected one packed chunk, got %q", got)
	}
	if got := ChunkText("abc\r\n\r\n  def  ", 5, 0); len(got) != 2 || got[0] != "abc" || got[1] != "def" {
		t.Fatalf("expected split paragraphs, got %q", got)
	}
}

func TestChunkTextWindowsLongParagraph(t *testing.T) {
	got := ChunkText("intro\n\nabcdefghijklmnopqrstuvwxyz", 10, 2)
	want := []string{"intro", "abcdefghij", "ijklmnopqr", "qrstuvwxyz"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("ChunkText = %q, want %q", got, want)
	}
}

func TestChunkTextBounds(t *testing.T) {
	alphabet := rapid.SampledFrom([]string{"a", "bb", "é", " ", "\n", "\n\n", "\t", "word"})
	rapid.Check(t, func(t *rapid.T) {
		text := strings.Join(rapid.SliceOf(alphabet).Draw(t, "parts"), "")
		size := rapid.IntRange(1, 40).Draw(t, "size")
		overlap := rapid.IntRange(-1, 45).Draw(t, "overlap")
		for _, c := range ChunkText(text, size, overlap) {
			if c == "" || c != strings.TrimSpace(c) {
				t.Fatalf("chunk %q is empty or untrimmed", c)
			}
			if n := utf8.RuneCountInString(c); n > size {
				t.Fatalf("chunk %q has %d runes, limit %d", c, n, size)
			}
		}
	})
}
