// Package mcpserver exposes paper search, PDF resolution, web search and paper
// grounding as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"researchmcp/internal/models"
	"researchmcp/internal/retrieval"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const Version = "0.1.0"

var ErrMissingScholar = errors.New("mcp: paper search is required")

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

type ContextBuilder interface {
	PaperContext(ctx context.Context, userID, paperID int64, question string, opts ...retrieval.Option) (string, error)
}

// Ports lists what the tools call into. Only Scholar is required; tools whose
// port is nil are not registered.
type Ports struct {
	Scholar  PaperSearcher
	Resolver PDFResolver
	Web      WebSearcher
	Papers   ContextBuilder
}

func (p *Ports) Validate() error {
	if p.Scholar == nil {
		return ErrMissingScholar
	}
	return nil
}

type Server struct {
	ports  *Ports
	server *mcp.Server
	logger *zap.Logger
}

func NewServer(ports *Ports, logger *zap.Logger) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ports:  ports,
		server: mcp.NewServer(&mcp.Implementation{Name: "researchmcp", Version: Version}, nil),
		logger: logger.With(zap.String("component", "mcp")),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("mcp listening", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
