package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"researchmcp/internal/models"
	"researchmcp/internal/scholar"
	"researchmcp/internal/websearch"

	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchJSON  bool
	searchWeb   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search Semantic Scholar (or the web with --web)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
	searchCmd.Flags().BoolVar(&searchWeb, "web", false, "search the web instead of Semantic Scholar")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	query := strings.Join(args, " ")

	if searchWeb {
		results := websearch.NewClient(websearch.Options{
			APIKey:   cfg.SerpAPIKey,
			Endpoint: cfg.SerpAPIURL,
			Timeout:  cfg.SerpAPITimeout,
			Logger:   logger,
		}).Search(ctx, query, searchLimit)
		if searchJSON {
			return printJSON(cmd.OutOrStdout(), results)
		}
		printWebResults(cmd.OutOrStdout(), results)
		return nil
	}

	papers, err := scholar.NewClient(scholar.Options{
		APIKey:  cfg.S2APIKey,
		BaseURL: cfg.S2BaseURL,
		Logger:  logger,
	}).Search(ctx, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if searchJSON {
		return printJSON(cmd.OutOrStdout(), papers)
	}
	printPapers(cmd.OutOrStdout(), papers)
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printPapers(w io.Writer, papers []models.ScholarPaper) {
	if len(papers) == 0 {
		fmt.Fprintln(w, "No papers found.")
		return
	}
	for i, p := range papers {
		year := "n.d."
		if p.Year > 0 {
			year = fmt.Sprint(p.Year)
		}
		oa := ""
		if p.OpenAccessPDF != nil && p.OpenAccessPDF.URL != "" {
			oa = " [open access]"
		}
		fmt.Fprintf(w, "[%d] %s (%s)%s\n    id: %s\n", i+1, p.Title, year, oa, p.PaperID)
		if names := authorNames(p.Authors, 3); names != "" {
			fmt.Fprintf(w, "    by %s\n", names)
		}
	}
}

func authorNames(authors []models.Author, limit int) string {
	names := make([]string, 0, limit)
	for i, a := range authors {
		if i == limit {
			names = append(names, "et al.")
			break
		}
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func printWebResults(w io.Writer, results []models.WebResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No web results found for your query.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "[%d] %s\n    %s\n    %s\n", i+1, r.Title, r.URL, r.Description)
	}
}
