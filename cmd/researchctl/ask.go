package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"researchmcp/internal/session"

	"github.com/spf13/cobra"
)

var (
	askUser  int64
	askPaper int64
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Run one chat turn, against a loaded paper with --paper",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().Int64Var(&askUser, "user", 0, "user id (required)")
	askCmd.Flags().Int64Var(&askPaper, "paper", 0, "paper id to load before asking")
	_ = askCmd.MarkFlagRequired("user")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := openContainer(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if askPaper > 0 {
		if _, err := c.Assistant.LoadPaper(ctx, askUser, askPaper); err != nil {
			return fmt.Errorf("load paper %d: %w", askPaper, err)
		}
	}
	reply, err := c.Assistant.Ask(ctx, askUser, strings.Join(args, " "))
	if err != nil {
		return err
	}
	printReply(cmd.OutOrStdout(), reply)
	return nil
}

func printReply(w io.Writer, r session.Reply) {
	fmt.Fprintf(w, "[%s] %s\n", r.SourceType, r.Answer)
	if r.SVGPath != "" {
		fmt.Fprintf(w, "diagram: %s\n", r.SVGPath)
	}
	for _, s := range r.Sources {
		fmt.Fprintf(w, "  - %s <%s>\n", s.Title, s.URL)
	}
	if r.Lookup != nil {
		fmt.Fprintf(w, "paper lookup requested: %q\n", r.Lookup.PaperTitle)
	}
}
