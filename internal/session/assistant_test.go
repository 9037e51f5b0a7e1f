package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"researchmcp/internal/diagram"
	"researchmcp/internal/index"
	"researchmcp/internal/lexical"
	"researchmcp/internal/models"
	"researchmcp/internal/providers"
	"researchmcp/internal/retrieval"
	"researchmcp/internal/router"
	"researchmcp/internal/util"
	"researchmcp/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 16

type fakeRouter struct {
	decision router.Decision
	err      error
	body     string
	history  []router.HistoryEntry
}

func (f *fakeRouter) Route(_ context.Context, utterance string, history []router.HistoryEntry) (router.Decision, error) {
	f.body, f.history = utterance, history
	return f.decision, f.err
}

type cannedLLM struct {
	text string
	err  error
	got  providers.GenerateRequest
}

func (c *cannedLLM) Generate(_ context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	c.got = req
	return providers.GenerateResponse{Text: c.text}, providers.ProviderInfo{Name: "canned"}, c.err
}

type fakeWeb struct{ results []models.WebResult }

func (f fakeWeb) Search(context.Context, string, int) []models.WebResult { return f.results }

type chatLog struct{ turns []models.ChatTurn }

func (c *chatLog) AppendTurn(_ context.Context, t models.ChatTurn) (models.ChatTurn, error) {
	t.ID = int64(len(c.turns) + 1)
	c.turns = append(c.turns, t)
	return t, nil
}

func (c *chatLog) ListTurns(_ context.Context, userID, paperID int64, _ int) ([]models.ChatTurn, error) {
	var out []models.ChatTurn
	for _, t := range c.turns {
		if t.UserID == userID && t.PaperID == paperID {
			out = append(out, t)
		}
	}
	return out, nil
}

type paperTable map[int64]models.Paper

func (p paperTable) GetPaper(_ context.Context, _, paperID int64) (models.Paper, error) {
	if paper, ok := p[paperID]; ok {
		return paper, nil
	}
	return models.Paper{}, errors.New("paper not found")
}

type namespaces map[int64]string

func (n namespaces) Namespace(_ context.Context, userID int64) (string, error) {
	return n[userID], nil
}

type fakeCompiler struct {
	res     diagram.Result
	err     error
	context string
}

func (f *fakeCompiler) Compile(_ context.Context, contextText, _ string) (diagram.Result, error) {
	f.context = contextText
	return f.res, f.err
}

type fakeRenderer struct {
	path string
	err  error
}

func (f fakeRenderer) Render(context.Context, string) (string, error) { return f.path, f.err }

type fixture struct {
	ctx    context.Context
	deps   Deps
	chats  *chatLog
	paper  *cannedLLM
	web    *cannedLLM
	router *fakeRouter
}

// newFixture ingests one paper (id 7) for user 1 into in-memory stores.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	embedder := providers.NewMockProvider(dim)
	store := vector.NewMemoryStore(dim)
	mem := index.NewMemoryStore()
	ix := index.New(embedder, store, mem, mem, index.Options{Dimension: dim})
	_, err := ix.Ingest(ctx, []models.Part{
		{Text: "The pipeline has three stages: parse, embed and index.", Page: 2, Type: "text"},
		{Text: "Table 1 lists the datasets.", Page: 4, Type: "table"},
	}, index.Owner{UserID: 1, Namespace: "user_alice"}, index.Paper{ID: 7, Title: "Pipelines"})
	require.NoError(t, err)

	f := &fixture{
		ctx:    ctx,
		chats:  &chatLog{},
		paper:  &cannedLLM{text: "Three stages (page 2)."},
		web:    &cannedLLM{text: "Go 1.24 is current."},
		router: &fakeRouter{},
	}
	f.deps = Deps{
		Sessions:  NewMemoryStore(0),
		Router:    f.router,
		Retriever: retrieval.New(embedder, store, namespaces{1: "user_alice"}, retrieval.Options{Dimension: dim}),
		Lexical:   ix,
		Chats:     f.chats,
		Papers:    paperTable{7: {ID: 7, UserID: 1, Title: "Pipelines", PDFURL: "https://example.org/p.pdf"}},
		PaperLLM:  f.paper,
		WebLLM:    f.web,
	}
	return f
}

func TestDirectAnswerFallsBackWhenEmpty(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionDirectAnswer}
	a := NewAssistant(f.deps)

	reply, err := a.Ask(f.ctx, 1, "  what is BM25?  ")
	require.NoError(t, err)
	assert.Equal(t, "No clear answer found.", reply.Answer)
	assert.Equal(t, models.SourceKnowledge, reply.SourceType)
	assert.Equal(t, ModeGeneral, reply.Mode)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(f.router.body), &body))
	assert.Equal(t, map[string]string{"original_user_query": "what is BM25?", "retrieval_query": "what is BM25?"}, body)

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, st.Memory, 1)
	assert.Equal(t, "what is BM25?", st.Memory[0].Question)
	assert.Empty(t, f.chats.turns)
}

func TestRoutingHistoryIsLastFiveTurns(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionDirectAnswer, Answer: "ok"}
	a := NewAssistant(f.deps)
	for i := 0; i < 7; i++ {
		_, err := a.Ask(f.ctx, 1, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	require.Len(t, f.router.history, 10)
	assert.Equal(t, router.HistoryEntry{Role: "user", Content: "q1"}, f.router.history[0])
	assert.Equal(t, router.HistoryEntry{Role: "assistant", Content: "ok"}, f.router.history[1])
	assert.Equal(t, "q5", f.router.history[8].Content)
}

func TestWebSearchAnswersFromResults(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionWebSearch, Query: "go release"}
	f.deps.Web = fakeWeb{results: []models.WebResult{
		{Title: "Go 1.24", URL: "https://go.dev/doc/go1.24", Description: "Release notes"},
		{Title: "Blog", URL: "https://go.dev/blog", Description: "News"},
	}}
	a := NewAssistant(f.deps)

	reply, err := a.Ask(f.ctx, 1, "what is the latest Go?")
	require.NoError(t, err)
	assert.Equal(t, "Go 1.24 is current.", reply.Answer)
	assert.Equal(t, models.SourceWeb, reply.SourceType)
	assert.Len(t, reply.Sources, 2)

	assert.Equal(t, AnswerInstructions, f.web.got.System)
	assert.Equal(t, "web_answer", f.web.got.Operation)
	assert.Contains(t, f.web.got.Prompt, "CONTEXT:\nTitle: Go 1.24\nURL: https://go.dev/doc/go1.24\nSummary: Release notes\n\nTitle: Blog")
	assert.Contains(t, f.web.got.Prompt, "QUESTION:\nUsing the web search context above, answer: what is the latest Go?")
}

func TestWebSearchWithoutResults(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionWebSearch, Query: "nothing"}
	f.deps.Web = fakeWeb{}
	a := NewAssistant(f.deps)

	reply, err := a.Ask(f.ctx, 1, "obscure")
	require.NoError(t, err)
	assert.Equal(t, "No web results found for your query.", reply.Answer)
	assert.Equal(t, models.SourceWeb, reply.SourceType)
	assert.Empty(t, f.web.got.Prompt)
}

func TestResearchLookupEntersResearchMode(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionResearchLookup, PaperTitle: "BERT", Question: "what is masking?"}
	a := NewAssistant(f.deps)

	reply, err := a.Ask(f.ctx, 1, "find the BERT paper")
	require.NoError(t, err)
	assert.Equal(t, "Research mode activated! Please provide paper details in the form below.", reply.Answer)
	assert.Equal(t, models.SourceSystem, reply.SourceType)
	assert.Equal(t, ModeResearch, reply.Mode)
	require.NotNil(t, reply.Lookup)
	assert.Equal(t, "BERT", reply.Lookup.PaperTitle)

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeResearch, st.Mode)
	require.NotNil(t, st.Pending)
}

func TestUnknownToolAndErrorsStaySystemTurns(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionUnknown, ToolName: "calendar"}
	a := NewAssistant(f.deps)

	reply, err := a.Ask(f.ctx, 1, "book a meeting")
	require.NoError(t, err)
	assert.Equal(t, "Received unknown tool response: calendar", reply.Answer)
	assert.Equal(t, models.SourceSystem, reply.SourceType)

	f.router.err = errors.New("anthropic error 529: overloaded")
	reply, err = a.Ask(f.ctx, 1, "hello")
	require.NoError(t, err)
	assert.Equal(t, "Error: anthropic error 529: overloaded", reply.Answer)
	assert.Equal(t, models.SourceSystem, reply.SourceType)

	f.router.err = nil
	f.router.decision = router.Decision{Action: router.ActionDirectAnswer, Answer: "hi"}
	reply, err = a.Ask(f.ctx, 1, "hello again")
	require.NoError(t, err)
	assert.Equal(t, "hi", reply.Answer)

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, st.Memory, 3)
}

func TestPaperModeGroundedAnswerIsPersisted(t *testing.T) {
	f := newFixture(t)
	a := NewAssistant(f.deps)
	_, err := a.LoadPaper(f.ctx, 1, 7)
	require.NoError(t, err)

	reply, err := a.Ask(f.ctx, 1, "How many stages does the pipeline have?")
	require.NoError(t, err)
	assert.Equal(t, "Three stages (page 2).", reply.Answer)
	assert.Equal(t, models.SourcePaper, reply.SourceType)
	assert.Equal(t, ModePaper, reply.Mode)

	assert.Equal(t, AnswerInstructions, f.paper.got.System)
	assert.Equal(t, 1024, f.paper.got.MaxTokens)
	assert.Contains(t, f.paper.got.Prompt, "CONTEXT:\n"+retrieval.Primer)
	assert.Contains(t, f.paper.got.Prompt, "The pipeline has three stages")
	assert.Contains(t, f.paper.got.Prompt, "QUESTION:\nHow many stages does the pipeline have?")

	require.Len(t, f.chats.turns, 1)
	assert.Equal(t, int64(7), f.chats.turns[0].PaperID)
	assert.Equal(t, models.SourcePaper, f.chats.turns[0].SourceType)
}

func diagramFixture(t *testing.T, compiler *fakeCompiler, renderer fakeRenderer) (*fixture, *Assistant) {
	t.Helper()
	f := newFixture(t)
	f.deps.Rewriter = router.NewRewriter(&cannedLLM{text: `{"needs_rewriting": true, "rewritten_query": "pipeline stages"}`}, router.RewriterOptions{})
	f.deps.Compiler = compiler
	f.deps.Renderer = renderer
	a := NewAssistant(f.deps)
	_, err := a.LoadPaper(f.ctx, 1, 7)
	require.NoError(t, err)
	return f, a
}

func TestPaperModeDiagramRendered(t *testing.T) {
	compiler := &fakeCompiler{res: diagram.Result{Source: "parse -> embed\nembed -> index"}}
	f, a := diagramFixture(t, compiler, fakeRenderer{path: "/tmp/diagram-1.svg"})

	reply, err := a.Ask(f.ctx, 1, "draw a diagram of the pipeline")
	require.NoError(t, err)
	assert.Equal(t, "Diagram generated from paper context.", reply.Answer)
	assert.Equal(t, "parse -> embed\nembed -> index", reply.D2Code)
	assert.Equal(t, "/tmp/diagram-1.svg", reply.SVGPath)
	assert.Contains(t, compiler.context, "The pipeline has three stages")
	assert.Empty(t, f.paper.got.Prompt)

	require.Len(t, f.chats.turns, 1)
	assert.Equal(t, "/tmp/diagram-1.svg", f.chats.turns[0].SVGPath)
}

func TestPaperModeDiagramFailuresAreTextAnswers(t *testing.T) {
	f, a := diagramFixture(t, &fakeCompiler{err: diagram.ErrEmptyDiagram}, fakeRenderer{})
	reply, err := a.Ask(f.ctx, 1, "draw it")
	require.NoError(t, err)
	assert.Equal(t, "Diagram generation failed — no valid D2 code returned.", reply.Answer)
	assert.Empty(t, reply.D2Code)
	require.Len(t, f.chats.turns, 1)

	rejected := fakeRenderer{err: fmt.Errorf("%w: err: unexpected token", diagram.ErrRenderRejected)}
	f, a = diagramFixture(t, &fakeCompiler{res: diagram.Result{Source: "a -> "}}, rejected)
	reply, err = a.Ask(f.ctx, 1, "draw it")
	require.NoError(t, err)
	assert.Equal(t, "Diagram rendering failed: err: unexpected token", reply.Answer)
	assert.Equal(t, models.SourcePaper, reply.SourceType)
	assert.Empty(t, reply.SVGPath)
}

func TestLoadAndExitPaperSwapMemory(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionDirectAnswer, Answer: "general"}
	f.chats.turns = []models.ChatTurn{{ID: 1, UserID: 1, PaperID: 7, Question: "old", Answer: "stored", SourceType: models.SourcePaper}}
	a := NewAssistant(f.deps)

	_, err := a.Ask(f.ctx, 1, "hi")
	require.NoError(t, err)

	st, err := a.LoadPaper(f.ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, ModePaper, st.Mode)
	assert.Equal(t, "Pipelines", st.PaperTitle)
	require.Len(t, st.Memory, 1)
	assert.Equal(t, "old", st.Memory[0].Question)
	require.Len(t, st.GeneralMemory, 1)

	st, err = a.ExitPaper(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, st.Mode)
	assert.Zero(t, st.PaperID)
	require.Len(t, st.Memory, 1)
	assert.Equal(t, "hi", st.Memory[0].Question)

	_, err = a.ExitPaper(f.ctx, 1)
	assert.ErrorIs(t, err, ErrNoActivePaper)
}

func TestLoadPaperWithoutLexicalSource(t *testing.T) {
	f := newFixture(t)
	f.deps.Papers = paperTable{9: {ID: 9, UserID: 1, Title: "Empty"}}
	a := NewAssistant(f.deps)

	_, err := a.LoadPaper(f.ctx, 1, 9)
	assert.ErrorIs(t, err, util.ErrLexicalStateMissing)

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, st.Mode)
}

func TestResetForgetsSession(t *testing.T) {
	f := newFixture(t)
	a := NewAssistant(f.deps)
	_, err := a.LoadPaper(f.ctx, 1, 7)
	require.NoError(t, err)
	require.NoError(t, a.Reset(f.ctx, 1))

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, st.Mode)
	assert.Empty(t, st.Memory)
}

func TestPaperContextLeavesSessionAlone(t *testing.T) {
	f := newFixture(t)
	a := NewAssistant(f.deps)

	got, err := a.PaperContext(f.ctx, 1, 7, "  how many stages?  ", retrieval.WithTopK(1))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(got, "[Page "))

	_, err = a.PaperContext(f.ctx, 1, 7, "stages", retrieval.WithAlpha(1.5))
	assert.ErrorIs(t, err, retrieval.ErrInvalidAlpha)

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ModeGeneral, st.Mode)
	assert.Empty(t, st.Memory)
}

func TestConcurrentTurnsForOneUserAreAllKept(t *testing.T) {
	f := newFixture(t)
	f.router.decision = router.Decision{Action: router.ActionDirectAnswer, Answer: "ok"}
	a := NewAssistant(f.deps)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Ask(f.ctx, 1, fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := a.Session(f.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, st.Memory, n)
	assert.Zero(t, a.turns.size())
}

func TestSwitchingPapersEvictsPreviousEncoder(t *testing.T) {
	f := newFixture(t)
	f.deps.Papers = paperTable{
		7: {ID: 7, UserID: 1, Title: "Pipelines"},
		8: {ID: 8, UserID: 1, Title: "Other"},
	}
	a := NewAssistant(f.deps)

	_, err := a.LoadPaper(f.ctx, 1, 7)
	require.NoError(t, err)
	enc, err := lexical.Fit([]string{"another paper"})
	require.NoError(t, err)
	a.Remember(1, 8, enc)

	st, err := a.LoadPaper(f.ctx, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), st.PaperID)

	_, stale := a.encoders.Get(encoderKey(1, 7))
	assert.False(t, stale)
	_, current := a.encoders.Get(encoderKey(1, 8))
	assert.True(t, current)
}

type missingLexical struct{}

func (missingLexical) RebuildLexical(context.Context, int64, vector.PaperID) (*lexical.Encoder, error) {
	return nil, util.ErrLexicalStateMissing
}

func TestPaperTurnAsksForReingestWhenLexicalModelIsGone(t *testing.T) {
	f := newFixture(t)
	a := NewAssistant(f.deps)
	_, err := a.LoadPaper(f.ctx, 1, 7)
	require.NoError(t, err)

	a.encoders.Flush()
	a.d.Lexical = missingLexical{}

	reply, err := a.Ask(f.ctx, 1, "how many stages?")
	require.NoError(t, err)
	assert.Equal(t, "Error: "+util.MsgReingestRequired, reply.Answer)
	assert.Equal(t, models.SourceSystem, reply.SourceType)
}
