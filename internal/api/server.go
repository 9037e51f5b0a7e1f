package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"researchmcp/internal/activities"
	"researchmcp/internal/app"
	"researchmcp/internal/metrics"
	"researchmcp/internal/models"
	"researchmcp/internal/retrieval"
	"researchmcp/internal/session"
	"researchmcp/internal/vector"
	"researchmcp/internal/workflows"

	"github.com/go-playground/validator/v10"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

const maxUploadBytes = 128 << 20

type UserStore interface {
	Create(ctx context.Context, username, password string) (models.User, error)
	Authenticate(ctx context.Context, username, password string) (models.User, error)
}

type PaperStore interface {
	CreatePaper(ctx context.Context, userID int64, title, pdfURL string) (models.Paper, error)
	ListPapers(ctx context.Context, userID int64) ([]models.Paper, error)
}

type ChatHistory interface {
	ListTurns(ctx context.Context, userID, paperID int64, limit int) ([]models.ChatTurn, error)
}

type Ingester interface {
	Ingest(ctx context.Context, req activities.IngestRequest) (activities.IngestResult, error)
}

type PaperSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.ScholarPaper, error)
	FindByID(ctx context.Context, paperID, title string) (models.ScholarPaper, bool, error)
}

type PDFResolver interface {
	Resolve(ctx context.Context, p models.ScholarPaper) (string, bool)
}

type WebSearcher interface {
	Search(ctx context.Context, query string, count int) []models.WebResult
}

// Deps wires a Server. Temporal may be nil, in which case async ingestion is
// reported as unavailable.
type Deps struct {
	Users     UserStore
	Papers    PaperStore
	Chats     ChatHistory
	Ingest    Ingester
	Scholar   PaperSearcher
	Resolver  PDFResolver
	Web       WebSearcher
	Assistant *session.Assistant
	Temporal  tclient.Client
	TaskQueue string

	JWTSecret   string
	JWTLifetime time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

type Server struct {
	d        Deps
	auth     *tokenIssuer
	validate *validator.Validate
	logger   *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{
		d:        d,
		auth:     newTokenIssuer(d.JWTSecret, d.JWTLifetime),
		validate: validator.New(),
		logger:   d.Logger.With(zap.String("component", "api")),
	}
}

// FromContainer builds a Server over the shared components. tc may be nil.
func FromContainer(c *app.Container, ingest *activities.Activities, tc tclient.Client) *Server {
	return NewServer(Deps{
		Users:       c.Users,
		Papers:      c.Papers,
		Chats:       c.Chats,
		Ingest:      ingest,
		Scholar:     c.Scholar,
		Resolver:    c.Resolver,
		Web:         c.Web,
		Assistant:   c.Assistant,
		Temporal:    tc,
		TaskQueue:   c.Config.TemporalTaskQueue,
		JWTSecret:   c.Config.JWTSecret,
		JWTLifetime: c.Config.JWTLifetime,
		Logger:      c.Logger,
		Metrics:     c.Metrics,
	})
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.d.Metrics.Handler())
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.Handle("GET /papers", s.requireUser(s.handleListPapers))
	mux.Handle("POST /papers", s.requireUser(s.handleCreatePaper))
	mux.Handle("POST /papers/ingest", s.requireUser(s.handleIngest))
	mux.Handle("GET /ingest/{workflowID}", s.requireUser(s.handleIngestStatus))
	mux.Handle("POST /papers/{paperID}/load", s.requireUser(s.handleLoadPaper))
	mux.Handle("GET /papers/{paperID}/history", s.requireUser(s.handleHistory))
	mux.Handle("POST /papers/{paperID}/context", s.requireUser(s.handlePaperContext))

	mux.Handle("GET /session", s.requireUser(s.handleSession))
	mux.Handle("DELETE /session", s.requireUser(s.handleResetSession))
	mux.Handle("POST /session/exit", s.requireUser(s.handleExitPaper))
	mux.Handle("POST /chat", s.requireUser(s.handleChat))

	mux.Handle("GET /search", s.requireUser(s.handleSearch))
	mux.Handle("POST /resolve", s.requireUser(s.handleResolve))
	mux.Handle("GET /web", s.requireUser(s.handleWeb))
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=4"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.d.Users.Create(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	u, err := s.d.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	token, expires, err := s.auth.Issue(u.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires,
		"user":       u,
	})
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request, userID int64) {
	papers, err := s.d.Papers.ListPapers(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

func (s *Server) handleCreatePaper(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Title  string `json:"title" validate:"required"`
		PDFURL string `json:"pdf_url" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.d.Papers.CreatePaper(r.Context(), userID, strings.TrimSpace(req.Title), strings.TrimSpace(req.PDFURL))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"paper": p})
}

// handleIngest accepts a JSON body naming a PDF URL or a search paper id, or a
// multipart upload in the "file" field. ?async=true hands URL and search-id
// sources to the ingest workflow.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, userID int64) {
	req := activities.IngestRequest{UserID: userID}
	upload := strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
	if upload {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			s.fail(w, badRequest(fmt.Errorf("parse multipart: %w", err)))
			return
		}
		fh, ok := firstPDF(r.MultipartForm.File)
		if !ok {
			s.fail(w, badRequest(errors.New("no PDF file provided")))
			return
		}
		data, err := readUpload(fh)
		if err != nil {
			s.fail(w, err)
			return
		}
		req.Data, req.Filename = data, fh.Filename
		req.Title = strings.TrimSpace(r.FormValue("title"))
	} else {
		var body struct {
			Title     string `json:"title"`
			PDFURL    string `json:"pdf_url"`
			S2PaperID string `json:"s2_paper_id" validate:"required_without=PDFURL"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		req.Title = strings.TrimSpace(body.Title)
		req.PDFURL = strings.TrimSpace(body.PDFURL)
		req.S2PaperID = strings.TrimSpace(body.S2PaperID)
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if upload {
			s.fail(w, badRequest(errors.New("uploads are ingested synchronously")))
			return
		}
		s.startIngestWorkflow(w, r, workflows.PaperIngestInput{
			UserID:    userID,
			Title:     req.Title,
			PDFURL:    req.PDFURL,
			S2PaperID: req.S2PaperID,
		})
		return
	}

	res, err := s.d.Ingest.Ingest(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.d.Assistant.Remember(userID, vector.PaperID(res.Paper.ID), res.Lexical)
	writeJSON(w, http.StatusCreated, map[string]any{
		"paper":       res.Paper,
		"num_parts":   res.NumParts,
		"num_vectors": res.NumVectors,
	})
}

func (s *Server) startIngestWorkflow(w http.ResponseWriter, r *http.Request, in workflows.PaperIngestInput) {
	if s.d.Temporal == nil {
		s.fail(w, errWorkflowsUnavailable)
		return
	}
	run, err := s.d.Temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                    workflows.WorkflowID(in),
		TaskQueue:             s.d.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, workflows.PaperIngestWorkflow, in)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"workflow_id": run.GetID(),
		"run_id":      run.GetRunID(),
	})
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request, userID int64) {
	if s.d.Temporal == nil {
		s.fail(w, errWorkflowsUnavailable)
		return
	}
	id := r.PathValue("workflowID")
	if !ownsWorkflow(id, userID) {
		s.fail(w, notFound(errors.New("workflow not found")))
		return
	}
	val, err := s.d.Temporal.QueryWorkflow(r.Context(), id, "", workflows.QueryGetIngestStatus)
	if err != nil {
		s.fail(w, err)
		return
	}
	var st workflows.PaperIngestStatus
	if err := val.Get(&st); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_id": id, "status": st})
}

func ownsWorkflow(id string, userID int64) bool {
	return strings.HasPrefix(id, "ingest-") && strings.HasSuffix(id, "-u"+strconv.FormatInt(userID, 10))
}

func (s *Server) handleLoadPaper(w http.ResponseWriter, r *http.Request, userID int64) {
	paperID, ok := s.paperID(w, r)
	if !ok {
		return
	}
	st, err := s.d.Assistant.LoadPaper(r.Context(), userID, paperID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": st})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, userID int64) {
	paperID, ok := s.paperID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	turns, err := s.d.Chats.ListTurns(r.Context(), userID, paperID, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": turns})
}

func (s *Server) handlePaperContext(w http.ResponseWriter, r *http.Request, userID int64) {
	paperID, ok := s.paperID(w, r)
	if !ok {
		return
	}
	var req struct {
		Question string   `json:"question" validate:"required"`
		TopK     int      `json:"top_k" validate:"gte=0"`
		Alpha    *float64 `json:"alpha"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	opts := []retrieval.Option{retrieval.WithTopK(req.TopK)}
	if req.Alpha != nil {
		opts = append(opts, retrieval.WithAlpha(*req.Alpha))
	}
	text, err := s.d.Assistant.PaperContext(r.Context(), userID, paperID, req.Question, opts...)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": text})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, userID int64) {
	st, err := s.d.Assistant.Session(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": st})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request, userID int64) {
	if err := s.d.Assistant.Reset(r.Context(), userID); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExitPaper(w http.ResponseWriter, r *http.Request, userID int64) {
	st, err := s.d.Assistant.ExitPaper(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": st})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Message string `json:"message" validate:"required"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	reply, err := s.d.Assistant.Ask(r.Context(), userID, req.Message)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ int64) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 5
	}
	papers, err := s.d.Scholar.Search(r.Context(), q, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, _ int64) {
	var req struct {
		PaperID string `json:"paper_id" validate:"required"`
		Title   string `json:"title"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	p, ok, err := s.d.Scholar.FindByID(r.Context(), req.PaperID, req.Title)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		s.fail(w, notFound(fmt.Errorf("paper %s not found", req.PaperID)))
		return
	}
	url, found := s.d.Resolver.Resolve(r.Context(), p)
	writeJSON(w, http.StatusOK, map[string]any{
		"paper":   p,
		"pdf_url": url,
		"found":   found,
	})
}

func (s *Server) handleWeb(w http.ResponseWriter, r *http.Request, _ int64) {
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if count <= 0 {
		count = 5
	}
	results := s.d.Web.Search(r.Context(), r.URL.Query().Get("q"), count)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) paperID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("paperID"), 10, 64)
	if err != nil || id <= 0 {
		s.fail(w, badRequest(fmt.Errorf("invalid paper id %q", r.PathValue("paperID"))))
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into v and validates it, writing the error response
// itself when either step fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, badRequest(fmt.Errorf("invalid json: %w", err)))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.fail(w, badRequest(err))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", zap.Int("status", code), zap.Error(err))
	}
	writeErr(w, code, err)
}

func firstPDF(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, fh := range m["file"] {
		if strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			return fh, true
		}
	}
	for _, files := range m {
		for _, fh := range files {
			if strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
				return fh, true
			}
		}
	}
	return nil, false
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
