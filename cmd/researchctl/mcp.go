package main

import (
	"researchmcp/internal/mcpserver"

	"github.com/spf13/cobra"
)

var mcpHTTP bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the research tools over MCP",
	Long: `Serves search_papers, resolve_pdf, web_search and ask_paper over the
Model Context Protocol.

By default the server speaks JSON-RPC on stdio. With --http it serves the
streamable HTTP transport on the configured MCP address.

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "researchmcp": {
        "command": "/path/to/researchctl",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpHTTP, "http", false, "serve streamable HTTP instead of stdio")
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c, err := openContainer(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	server, err := mcpserver.NewServer(&mcpserver.Ports{
		Scholar:  c.Scholar,
		Resolver: c.Resolver,
		Web:      c.Web,
		Papers:   c.Assistant,
	}, logger)
	if err != nil {
		return err
	}
	if mcpHTTP {
		return server.RunHTTP(ctx, cfg.MCPAddr)
	}
	return server.Run(ctx)
}
