package diagram

import "strings"

const PromptTemplate = `Your task: Output valid D2 code that will be rendered into a diagram.

The CONTEXT below is made of retrieved chunks, not a final answer. First work out
the conceptual answer to the USER REQUEST from those chunks, then draw it.

Strict formatting rules you MUST follow:
1) Node IDs must use underscores instead of spaces:
   Example: Token_Search, Materials_Property_Matrix
2) Every node must follow:
   ID: "Readable Label"
3) Every edge must follow:
   ID1 -> ID2
   or:
   ID1 -> ID2: "Label"
4) NO trailing text after quotes, EVER.
5) NO prose, NO explanation, ONLY valid D2.

You must construct nodes and relationships ONLY from:
- USER REQUEST intention
- CONTEXT chunks (retrieved evidence)

Output MUST start immediately with D2 code. NO backticks.
`

func BuildPrompt(contextText, userRequest string) string {
	var b strings.Builder
	b.WriteString(PromptTemplate)
	b.WriteString("\nUSER REQUEST:\n")
	b.WriteString(strings.TrimSpace(userRequest))
	b.WriteString("\n\nCONTEXT:\n")
	b.WriteString(strings.TrimSpace(contextText))
	b.WriteString("\n\nNow output valid D2 below:\n")
	return b.String()
}
