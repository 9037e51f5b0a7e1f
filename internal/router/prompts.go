package router

import "researchmcp/internal/providers"

const SystemPrompt = `
You are a strict state-aware orchestrator for a research assistant app.

Your job is to decide which tool to use:
   - Allowed actions:
       • direct_answer using your own knowledge
       • web_search tool
       • research_lookup tool
   - If the user explicitly asks to search for or ingest a new research paper (e.g., "find paper on…", "load the paper titled…"):
        CALL research_lookup.
   - Do NOT call research_lookup just because a paper is mentioned.
   - If user asks "current", "latest", "recent", "today", "now" or you think a web search can better answer the question:
        CALL web_search.
   - Otherwise: answer directly. direct answers are allowed.
`

func Tools() []providers.AnthropicTool {
	return []providers.AnthropicTool{
		{
			Name: string(ActionResearchLookup),
			Description: "Call this tool ONLY if the user asks to search for or ingest a research paper " +
				"(e.g., 'find a paper on...', 'load the paper titled...', 'can you get the paper...').\n",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"paper_title": map[string]any{"type": "string"},
					"question":    map[string]any{"type": "string"},
				},
				"required": []string{"paper_title"},
			},
		},
		{
			Name: string(ActionWebSearch),
			Description: "Use ONLY when user asks for current or up-to-date information and you think it requires a web search " +
				"but if you can answer from your own knowledge, do that instead. " +
				"(latest news, current price, recent events). Uses SerpAPI.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
	}
}

const rewriteSystemPrompt = `
You are a query rewriting expert in a hybrid search + D2 diagram generation pipeline.
PURPOSE OF YOUR ROLE:
Some user queries (such as "generate a diagram of the architecture") cannot be
directly used for vector database retrieval, because they do not appear as literal
text in the paper. If sent as-is, the vector search would return irrelevant or noisy
chunks. Therefore, your job is to rewrite these diagram-generation queries into
factual, information-seeking forms (e.g., "Describe the architecture used in the paper")
so the system can retrieve the correct chunks before generating diagrams.
Your responsibilities:
1. Determine whether the user's query requires rewriting to enable accurate chunk
   retrieval from the vector database for diagram/architecture generation.
2. Rewrite ONLY when the user requests:
      - a diagram
      - an architecture drawing
      - a pipeline visualization
      - a flowchart
      - any structural or image-like representation
3. When rewriting, preserve the user's intent while turning the query into a form
   suitable for semantic + keyword retrieval.
4. If rewriting is not needed, return the original query EXACTLY unchanged.

CRITICAL RULES:
- DO NOT rewrite normal factual questions (e.g., values, datasets, tables, methods,
  equations, metrics, terminology).
- DO NOT rewrite conversational or general questions.
- DO NOT assume or guess missing details.
- DO NOT merge with past conversation history.
- DO NOT change pronouns or meaning.
- DO NOT generate diagrams yourself. Your task is ONLY to rewrite queries for retrieval.

Rewriting Logic:
- If the user asks to "draw", "generate", "create", "sketch", "visualize", "illustrate",
  or produce any kind of diagram/architecture → set "needs_rewriting" = true and rewrite
  the query into a descriptive, retrieval-friendly information request.
- Otherwise → "needs_rewriting" = false and the query remains unchanged.

OUTPUT FORMAT (STRICT):
Return ONLY this JSON (nothing before or after):

{
  "needs_rewriting": true/false,
  "rewritten_query": "..."
}
`
