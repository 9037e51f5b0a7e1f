package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"researchmcp/internal/diagram"
	"researchmcp/internal/lexical"
	"researchmcp/internal/metrics"
	"researchmcp/internal/models"
	"researchmcp/internal/providers"
	"researchmcp/internal/retrieval"
	"researchmcp/internal/router"
	"researchmcp/internal/util"
	"researchmcp/internal/vector"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	historyTurns   = 5
	webResultCount = 5
)

// AnswerInstructions is the system prompt for every grounded answer.
const AnswerInstructions = "Answer ONLY using the provided CONTEXT. " +
	"If the answer is not in the context, reply: \"I don't know.\" " +
	"Cite page/table numbers when available. " +
	"Never add external knowledge."

const (
	msgNoAnswer        = "No clear answer found."
	msgNoWebResults    = "No web results found for your query."
	msgResearchMode    = "Research mode activated! Please provide paper details in the form below."
	msgDiagramEmpty    = "Diagram generation failed — no valid D2 code returned."
	msgDiagramRendered = "Diagram generated from paper context."
)

var ErrNoActivePaper = errors.New("no paper loaded in this session")

type Retriever interface {
	BuildLLMContext(ctx context.Context, userID int64, paperID vector.PaperID, question string, enc *lexical.Encoder, opts ...retrieval.Option) (string, error)
}

type LexicalLoader interface {
	RebuildLexical(ctx context.Context, userID int64, paperID vector.PaperID) (*lexical.Encoder, error)
}

type DiagramCompiler interface {
	Compile(ctx context.Context, contextText, request string) (diagram.Result, error)
}

type DiagramRenderer interface {
	Render(ctx context.Context, source string) (string, error)
}

type WebSearcher interface {
	Search(ctx context.Context, query string, count int) []models.WebResult
}

type ChatStore interface {
	AppendTurn(ctx context.Context, t models.ChatTurn) (models.ChatTurn, error)
	ListTurns(ctx context.Context, userID, paperID int64, limit int) ([]models.ChatTurn, error)
}

type PaperLookup interface {
	GetPaper(ctx context.Context, userID, paperID int64) (models.Paper, error)
}

// Deps wires an Assistant. Compiler and Renderer may be nil, in which case every
// paper-mode turn is answered in text.
type Deps struct {
	Sessions  Store
	Router    router.Router
	Rewriter  *router.Rewriter
	Retriever Retriever
	Lexical   LexicalLoader
	Compiler  DiagramCompiler
	Renderer  DiagramRenderer
	Web       WebSearcher
	Chats     ChatStore
	Papers    PaperLookup

	PaperLLM   providers.LLMProvider
	PaperModel string
	WebLLM     providers.LLMProvider
	WebModel   string

	RetrievalOptions []retrieval.Option
	EncoderTTL       time.Duration
	Logger           *zap.Logger
	Metrics          *metrics.Collector
}

// Assistant runs one user turn at a time against the stored session. Calls that
// change a session are serialized per user within the process.
type Assistant struct {
	d        Deps
	encoders *cache.Cache
	turns    *userLocks
	logger   *zap.Logger
}

func NewAssistant(d Deps) *Assistant {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.EncoderTTL <= 0 {
		d.EncoderTTL = time.Hour
	}
	if d.Sessions == nil {
		d.Sessions = NewMemoryStore(d.EncoderTTL)
	}
	return &Assistant{
		d:        d,
		encoders: cache.New(d.EncoderTTL, 10*time.Minute),
		turns:    newUserLocks(),
		logger:   d.Logger.With(zap.String("component", "assistant")),
	}
}

type Reply struct {
	Answer     string             `json:"answer"`
	SourceType models.SourceType  `json:"source_type"`
	D2Code     string             `json:"d2_code,omitempty"`
	SVGPath    string             `json:"svg_path,omitempty"`
	Mode       Mode               `json:"mode"`
	Lookup     *Lookup            `json:"lookup,omitempty"`
	Sources    []models.WebResult `json:"sources,omitempty"`
}

// Session returns the user's state, starting a general session when none exists.
func (a *Assistant) Session(ctx context.Context, userID int64) (State, error) {
	st, ok, err := a.d.Sessions.Get(ctx, userID)
	if err != nil {
		return State{}, err
	}
	if !ok {
		st = newState(userID)
	}
	return st, nil
}

// Ask handles one utterance. Turn failures come back as an "Error: ..." reply;
// the returned error is reserved for session storage failures.
func (a *Assistant) Ask(ctx context.Context, userID int64, question string) (Reply, error) {
	defer a.turns.lock(userID)()
	st, err := a.Session(ctx, userID)
	if err != nil {
		return Reply{}, err
	}
	question = strings.TrimSpace(question)

	var reply Reply
	if st.Mode == ModePaper && st.PaperID > 0 {
		reply, err = a.paperTurn(ctx, &st, question)
	} else {
		reply, err = a.generalTurn(ctx, &st, question)
	}
	if err != nil {
		a.logger.Warn("turn failed", zap.Int64("user_id", userID), zap.String("mode", string(st.Mode)), zap.Error(err))
		reply = Reply{Answer: "Error: " + turnError(err), SourceType: models.SourceSystem}
	}
	reply.Mode = st.Mode
	st.Memory = append(st.Memory, Entry{
		Question:   question,
		Answer:     reply.Answer,
		SourceType: reply.SourceType,
		D2Code:     reply.D2Code,
		SVGPath:    reply.SVGPath,
	})
	if err := a.d.Sessions.Put(ctx, st); err != nil {
		return reply, fmt.Errorf("save session: %w", err)
	}
	return reply, nil
}

func (a *Assistant) paperTurn(ctx context.Context, st *State, question string) (Reply, error) {
	paperID := vector.PaperID(st.PaperID)
	enc, err := a.encoder(ctx, st.UserID, paperID)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{SourceType: models.SourcePaper}
	rw := a.d.Rewriter.MaybeRewrite(ctx, question)
	if rw.NeedsRewriting && a.d.Compiler != nil && a.d.Renderer != nil {
		contextText, err := a.d.Retriever.BuildLLMContext(ctx, st.UserID, paperID, rw.RewrittenQuery, enc, a.d.RetrievalOptions...)
		if err != nil {
			return Reply{}, err
		}
		reply, err = a.drawDiagram(ctx, contextText, question)
		if err != nil {
			return Reply{}, err
		}
	} else {
		contextText, err := a.d.Retriever.BuildLLMContext(ctx, st.UserID, paperID, question, enc, a.d.RetrievalOptions...)
		if err != nil {
			return Reply{}, err
		}
		answer, err := a.groundedAnswer(ctx, a.d.PaperLLM, providers.GenerateRequest{
			Operation: "answer",
			Model:     a.d.PaperModel,
			MaxTokens: 1024,
		}, contextText, question)
		if err != nil {
			return Reply{}, err
		}
		reply.Answer = answer
	}

	if a.d.Chats != nil {
		if _, err := a.d.Chats.AppendTurn(ctx, models.ChatTurn{
			UserID:     st.UserID,
			PaperID:    st.PaperID,
			Question:   question,
			Answer:     reply.Answer,
			D2Code:     reply.D2Code,
			SVGPath:    reply.SVGPath,
			SourceType: reply.SourceType,
		}); err != nil {
			return Reply{}, fmt.Errorf("save chat turn: %w", err)
		}
	}
	return reply, nil
}

// drawDiagram turns generation-empty and render failures into text answers; only
// provider failures are returned as errors.
func (a *Assistant) drawDiagram(ctx context.Context, contextText, request string) (Reply, error) {
	reply := Reply{SourceType: models.SourcePaper}
	res, err := a.d.Compiler.Compile(ctx, contextText, request)
	if errors.Is(err, diagram.ErrEmptyDiagram) {
		a.d.Metrics.RecordDiagram("empty")
		reply.Answer = msgDiagramEmpty
		return reply, nil
	}
	if err != nil {
		return Reply{}, err
	}
	svg, err := a.d.Renderer.Render(ctx, res.Source)
	if err != nil {
		a.d.Metrics.RecordDiagram("render_rejected")
		reason := strings.TrimPrefix(err.Error(), diagram.ErrRenderRejected.Error()+": ")
		reply.Answer = "Diagram rendering failed: " + reason
		reply.D2Code = res.Source
		return reply, nil
	}
	a.d.Metrics.RecordDiagram("ok")
	reply.Answer = msgDiagramRendered
	reply.D2Code = res.Source
	reply.SVGPath = svg
	return reply, nil
}

func (a *Assistant) generalTurn(ctx context.Context, st *State, question string) (Reply, error) {
	body, err := json.Marshal(map[string]string{
		"original_user_query": question,
		"retrieval_query":     question,
	})
	if err != nil {
		return Reply{}, err
	}
	d, err := a.d.Router.Route(ctx, string(body), history(st.Recent(historyTurns)))
	if err != nil {
		return Reply{}, err
	}

	switch d.Action {
	case router.ActionDirectAnswer:
		answer := strings.TrimSpace(d.Answer)
		if answer == "" {
			answer = msgNoAnswer
		}
		return Reply{Answer: answer, SourceType: models.SourceKnowledge}, nil
	case router.ActionWebSearch:
		return a.webAnswer(ctx, d, question)
	case router.ActionResearchLookup:
		st.Mode = ModeResearch
		st.Pending = &Lookup{PaperTitle: d.PaperTitle, Question: d.Question}
		return Reply{Answer: msgResearchMode, SourceType: models.SourceSystem, Lookup: st.Pending}, nil
	default:
		return Reply{Answer: "Received unknown tool response: " + d.ToolName, SourceType: models.SourceSystem}, nil
	}
}

func (a *Assistant) webAnswer(ctx context.Context, d router.Decision, question string) (Reply, error) {
	reply := Reply{SourceType: models.SourceWeb}
	query := strings.TrimSpace(d.Query)
	if query == "" {
		query = question
	}
	var results []models.WebResult
	if a.d.Web != nil {
		results = a.d.Web.Search(ctx, query, webResultCount)
	}
	if len(results) == 0 {
		reply.Answer = msgNoWebResults
		return reply, nil
	}
	answer, err := a.groundedAnswer(ctx, a.d.WebLLM, providers.GenerateRequest{
		Operation:   "web_answer",
		Model:       a.d.WebModel,
		MaxTokens:   512,
		Temperature: providers.Float(0),
	}, WebContext(results), "Using the web search context above, answer: "+question)
	if err != nil {
		return Reply{}, err
	}
	reply.Answer = answer
	reply.Sources = results
	return reply, nil
}

func (a *Assistant) groundedAnswer(ctx context.Context, llm providers.LLMProvider, req providers.GenerateRequest, contextText, question string) (string, error) {
	if llm == nil {
		return "", fmt.Errorf("%s: no answer model configured", req.Operation)
	}
	req.System = AnswerInstructions
	req.Prompt = fmt.Sprintf("CONTEXT:\n%s\n\nQUESTION:\n%s", contextText, question)
	resp, _, err := llm.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Operation, err)
	}
	if text := strings.TrimSpace(resp.Text); text != "" {
		return text, nil
	}
	return msgNoAnswer, nil
}

// WebContext renders search results as Title/URL/Summary blocks.
func WebContext(results []models.WebResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nSummary: %s", r.Title, r.URL, r.Description))
	}
	return strings.Join(blocks, "\n\n")
}

func history(entries []Entry) []router.HistoryEntry {
	out := make([]router.HistoryEntry, 0, 2*len(entries))
	for _, e := range entries {
		out = append(out,
			router.HistoryEntry{Role: "user", Content: e.Question},
			router.HistoryEntry{Role: "assistant", Content: e.Answer},
		)
	}
	return out
}

// LoadPaper enters paper mode. The general conversation is parked until ExitPaper
// and the paper's stored chat history becomes the working memory.
func (a *Assistant) LoadPaper(ctx context.Context, userID, paperID int64) (State, error) {
	defer a.turns.lock(userID)()
	st, err := a.Session(ctx, userID)
	if err != nil {
		return State{}, err
	}
	p, err := a.d.Papers.GetPaper(ctx, userID, paperID)
	if err != nil {
		return State{}, err
	}
	if _, err := a.encoder(ctx, userID, vector.PaperID(paperID)); err != nil {
		return State{}, err
	}
	var turns []models.ChatTurn
	if a.d.Chats != nil {
		turns, err = a.d.Chats.ListTurns(ctx, userID, paperID, 0)
		if err != nil {
			return State{}, fmt.Errorf("load chat history: %w", err)
		}
	}

	if st.Mode != ModePaper {
		st.GeneralMemory = st.Memory
	}
	previous := st.PaperID
	st.Mode = ModePaper
	st.PaperID = p.ID
	st.PaperTitle = p.Title
	st.PDFURL = p.PDFURL
	st.Pending = nil
	st.Memory = make([]Entry, 0, len(turns))
	for _, t := range turns {
		st.Memory = append(st.Memory, Entry{
			Question:   t.Question,
			Answer:     t.Answer,
			SourceType: t.SourceType,
			D2Code:     t.D2Code,
			SVGPath:    t.SVGPath,
		})
	}
	if err := a.d.Sessions.Put(ctx, st); err != nil {
		return State{}, fmt.Errorf("save session: %w", err)
	}
	if previous > 0 && previous != paperID {
		a.encoders.Delete(encoderKey(userID, vector.PaperID(previous)))
	}
	a.logger.Info("paper loaded", zap.Int64("user_id", userID), zap.Int64("paper_id", paperID), zap.Int("history", len(turns)))
	return st, nil
}

// ExitPaper returns to general mode with the conversation parked by LoadPaper.
func (a *Assistant) ExitPaper(ctx context.Context, userID int64) (State, error) {
	defer a.turns.lock(userID)()
	st, err := a.Session(ctx, userID)
	if err != nil {
		return State{}, err
	}
	if st.Mode != ModePaper {
		return State{}, ErrNoActivePaper
	}
	a.encoders.Delete(encoderKey(userID, vector.PaperID(st.PaperID)))
	st.Mode = ModeGeneral
	st.Memory = st.GeneralMemory
	st.GeneralMemory = nil
	st.PaperID, st.PaperTitle, st.PDFURL = 0, "", ""
	if err := a.d.Sessions.Put(ctx, st); err != nil {
		return State{}, fmt.Errorf("save session: %w", err)
	}
	return st, nil
}

// Reset forgets the session and any cached lexical model.
func (a *Assistant) Reset(ctx context.Context, userID int64) error {
	defer a.turns.lock(userID)()
	st, ok, err := a.d.Sessions.Get(ctx, userID)
	if err != nil {
		return err
	}
	if ok && st.PaperID > 0 {
		a.encoders.Delete(encoderKey(userID, vector.PaperID(st.PaperID)))
	}
	return a.d.Sessions.Delete(ctx, userID)
}

// PaperContext returns the grounding context for question against one paper
// without touching the session.
func (a *Assistant) PaperContext(ctx context.Context, userID, paperID int64, question string, opts ...retrieval.Option) (string, error) {
	enc, err := a.encoder(ctx, userID, vector.PaperID(paperID))
	if err != nil {
		return "", err
	}
	all := append(append([]retrieval.Option{}, a.d.RetrievalOptions...), opts...)
	return a.d.Retriever.BuildLLMContext(ctx, userID, vector.PaperID(paperID), strings.TrimSpace(question), enc, all...)
}

// Remember caches an encoder fitted at ingestion so the next turn skips the rebuild.
func (a *Assistant) Remember(userID int64, paperID vector.PaperID, enc *lexical.Encoder) {
	if enc != nil {
		a.encoders.Set(encoderKey(userID, paperID), enc, cache.DefaultExpiration)
	}
}

func (a *Assistant) encoder(ctx context.Context, userID int64, paperID vector.PaperID) (*lexical.Encoder, error) {
	k := encoderKey(userID, paperID)
	if x, ok := a.encoders.Get(k); ok {
		return x.(*lexical.Encoder), nil
	}
	enc, err := a.d.Lexical.RebuildLexical(ctx, userID, paperID)
	if err != nil {
		return nil, err
	}
	a.encoders.Set(k, enc, cache.DefaultExpiration)
	return enc, nil
}

func turnError(err error) string {
	if errors.Is(err, util.ErrLexicalStateMissing) {
		return util.MsgReingestRequired
	}
	return err.Error()
}

func encoderKey(userID int64, paperID vector.PaperID) string {
	return strconv.FormatInt(userID, 10) + ":" + paperID.String()
}
