package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"researchmcp/internal/activities"
	"researchmcp/internal/vector"

	"github.com/spf13/cobra"
)

var (
	ingestUser  int64
	ingestTitle string
	ingestURL   string
	ingestS2ID  string
	ingestFile  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one paper into a user's hybrid index",
	Long: `Ingests a paper from a local PDF (--file), a PDF URL (--url) or a
Semantic Scholar id (--s2), which is resolved to an open-access PDF.

Examples:
  researchctl ingest --user 1 --file attention.pdf
  researchctl ingest --user 1 --s2 204e3073870fae3d05bcbc2f6a8e263d9b72e776`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestUser, "user", 0, "owning user id (required)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "paper title")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "PDF URL")
	ingestCmd.Flags().StringVar(&ingestS2ID, "s2", "", "Semantic Scholar paper id")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "local PDF path")
	_ = ingestCmd.MarkFlagRequired("user")
	ingestCmd.MarkFlagsMutuallyExclusive("url", "s2", "file")
	ingestCmd.MarkFlagsOneRequired("url", "s2", "file")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	req, err := ingestRequest()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := openContainer(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := activities.FromContainer(c).Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	c.Assistant.Remember(req.UserID, vector.PaperID(res.Paper.ID), res.Lexical)
	fmt.Fprintf(cmd.OutOrStdout(), "paper %d %q: %d parts, %d vectors\n", res.Paper.ID, res.Paper.Title, res.NumParts, res.NumVectors)
	return nil
}

func ingestRequest() (activities.IngestRequest, error) {
	if ingestUser <= 0 {
		return activities.IngestRequest{}, errors.New("--user must be a positive id")
	}
	req := activities.IngestRequest{
		UserID:    ingestUser,
		Title:     ingestTitle,
		PDFURL:    ingestURL,
		S2PaperID: ingestS2ID,
	}
	if ingestFile != "" {
		data, err := os.ReadFile(ingestFile)
		if err != nil {
			return activities.IngestRequest{}, fmt.Errorf("read %s: %w", ingestFile, err)
		}
		req.Data = data
		req.Filename = filepath.Base(ingestFile)
	}
	return req, nil
}
