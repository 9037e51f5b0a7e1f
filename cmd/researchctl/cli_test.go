package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"researchmcp/internal/models"
	"researchmcp/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"migrate": false, "search": false, "ingest": false, "ask": false, "mcp": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, name)
	}
}

func TestPrintPapers(t *testing.T) {
	var buf bytes.Buffer
	printPapers(&buf, []models.ScholarPaper{{
		PaperID:       "abc",
		Title:         "Attention Is All You Need",
		Year:          2017,
		OpenAccessPDF: &models.OpenAccessPDF{URL: "https://arxiv.org/pdf/1706.03762.pdf"},
		Authors:       []models.Author{{Name: "Vaswani"}, {Name: "Shazeer"}, {Name: "Parmar"}, {Name: "Uszkoreit"}},
	}})
	out := buf.String()
	assert.Contains(t, out, "[1] Attention Is All You Need (2017) [open access]")
	assert.Contains(t, out, "id: abc")
	assert.Contains(t, out, "by Vaswani, Shazeer, Parmar, et al.")

	buf.Reset()
	printPapers(&buf, nil)
	assert.Equal(t, "No papers found.\n", buf.String())
}

func TestPrintReply(t *testing.T) {
	var buf bytes.Buffer
	printReply(&buf, session.Reply{
		Answer:     "Go 1.24 is current.",
		SourceType: models.SourceWeb,
		Sources:    []models.WebResult{{Title: "Go", URL: "https://go.dev"}},
	})
	assert.Equal(t, "[web] Go 1.24 is current.\n  - Go <https://go.dev>\n", buf.String())
}

func TestIngestRequestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0o600))

	ingestUser, ingestFile = 3, path
	t.Cleanup(func() { ingestUser, ingestFile = 0, "" })

	req, err := ingestRequest()
	require.NoError(t, err)
	assert.Equal(t, int64(3), req.UserID)
	assert.Equal(t, "paper.pdf", req.Filename)
	assert.Equal(t, []byte("%PDF-1.7"), req.Data)

	ingestUser = 0
	_, err = ingestRequest()
	assert.Error(t, err)
}
