// Package app builds the shared object graph used by the API, the worker and
// the CLI.
package app

import (
	"context"
	"fmt"

	"researchmcp/internal/config"
	"researchmcp/internal/diagram"
	"researchmcp/internal/extract"
	"researchmcp/internal/index"
	"researchmcp/internal/metrics"
	"researchmcp/internal/providers"
	"researchmcp/internal/retrieval"
	"researchmcp/internal/router"
	"researchmcp/internal/scholar"
	"researchmcp/internal/session"
	"researchmcp/internal/storage"
	"researchmcp/internal/vector"
	"researchmcp/internal/websearch"

	"go.uber.org/zap"
)

type Container struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Collector

	DB     *storage.DB
	Users  *storage.UserRepo
	Papers *storage.PaperRepo
	Chunks *storage.ChunkRepo
	Chats  *storage.ChatRepo
	Audit  *storage.LLMAuditRepo

	Providers *providers.Manager
	Vectors   vector.Store
	Extractor *extract.Extractor
	Indexer   *index.Indexer
	Retriever *retrieval.Retriever
	Scholar   *scholar.Client
	Resolver  *scholar.Resolver
	Web       *websearch.Client
	Sessions  session.Store
	Assistant *session.Assistant
}

// New connects to Postgres and builds every component named by cfg. Close
// releases the pool and any Redis client.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector("researchmcp"),
	}

	var dbOpts []storage.Option
	if cfg.VectorBackend == "pgvector" {
		dbOpts = append(dbOpts, storage.WithVectorTypes())
	}
	db, err := storage.NewDB(ctx, cfg.PostgresURL, dbOpts...)
	if err != nil {
		return nil, err
	}
	c.DB = db
	c.Users = storage.NewUserRepo(db)
	c.Papers = storage.NewPaperRepo(db)
	c.Chunks = storage.NewChunkRepo(db)
	c.Chats = storage.NewChatRepo(db)
	c.Audit = storage.NewLLMAuditRepo(db)

	c.Providers, err = providers.NewManager(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.Vectors, err = newVectorStore(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	parser, err := newParser(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.Extractor = extract.New(parser, extract.Options{
		Attempts: cfg.ExtractRetries,
		Backoff:  cfg.ExtractBackoff,
		Logger:   logger,
		Metrics:  c.Metrics,
	})

	embedder := c.Providers.FirstEmbedProvider()
	c.Indexer = index.New(embedder, c.Vectors, c.Chunks, c.Papers, index.Options{
		Dimension: cfg.EmbedDim,
		BatchSize: cfg.EmbedBatchSize,
		Logger:    logger,
		Metrics:   c.Metrics,
	})
	c.Retriever = retrieval.New(embedder, c.Vectors, c.Users, retrieval.Options{
		Dimension: cfg.EmbedDim,
		Logger:    logger,
		Metrics:   c.Metrics,
	})

	c.Scholar = scholar.NewClient(scholar.Options{
		APIKey:  cfg.S2APIKey,
		BaseURL: cfg.S2BaseURL,
		Gate:    scholar.NewGate(),
		Logger:  logger,
		Metrics: c.Metrics,
	})
	c.Resolver = scholar.NewResolver(scholar.ResolverOptions{
		UnpaywallEmail: cfg.UnpaywallEmail,
		Logger:         logger,
		Metrics:        c.Metrics,
	})
	c.Web = websearch.NewClient(websearch.Options{
		APIKey:   cfg.SerpAPIKey,
		Endpoint: cfg.SerpAPIURL,
		Timeout:  cfg.SerpAPITimeout,
		Logger:   logger,
		Metrics:  c.Metrics,
	})

	c.Sessions, err = session.NewStore(cfg.SessionBackend, session.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.SessionTTL,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	c.Assistant = session.NewAssistant(c.assistantDeps())
	return c, nil
}

func (c *Container) assistantDeps() session.Deps {
	cfg := c.Config
	llm := func(name string) providers.LLMProvider {
		return providers.WithAudit(c.Providers.LLMFor(name), c.Audit, c.Logger)
	}
	answer := llm(cfg.AnswerProvider)

	var rt router.Router
	if a := c.Providers.Anthropic(); a.HasKey() {
		rt = router.NewToolRouter(a, router.ToolRouterOptions{
			Model:     cfg.RouterModel,
			MaxTokens: cfg.RouterMaxTokens,
			Recorder:  c.Audit,
			Logger:    c.Logger,
			Metrics:   c.Metrics,
		})
	} else {
		c.Logger.Warn("no anthropic key configured, routing with trigger phrases")
		rt = router.NewHeuristicRouter(answer, c.Metrics)
	}

	return session.Deps{
		Sessions: c.Sessions,
		Router:   rt,
		Rewriter: router.NewRewriter(llm(cfg.RewriteProvider), router.RewriterOptions{
			Model:   cfg.RewriteModel,
			Logger:  c.Logger,
			Metrics: c.Metrics,
		}),
		Retriever: c.Retriever,
		Lexical:   c.Indexer,
		Compiler:  diagram.NewCompiler(llm(cfg.DiagramProvider), diagram.CompilerOptions{Model: cfg.DiagramModel, Logger: c.Logger}),
		Renderer: diagram.NewRenderer(diagram.RendererOptions{
			Binary:  cfg.D2Binary,
			OutDir:  cfg.DiagramOut,
			Timeout: cfg.D2Timeout,
			Logger:  c.Logger,
		}),
		Web:        c.Web,
		Chats:      c.Chats,
		Papers:     c.Papers,
		PaperLLM:   answer,
		PaperModel: cfg.AnswerModel,
		WebLLM:     llm(cfg.WebAnswerProvider),
		WebModel:   cfg.WebAnswerModel,
		RetrievalOptions: []retrieval.Option{
			retrieval.WithTopK(cfg.RetrievalTopK),
			retrieval.WithAlpha(cfg.RetrievalAlpha),
		},
		EncoderTTL: cfg.SessionTTL,
		Logger:     c.Logger,
		Metrics:    c.Metrics,
	}
}

func (c *Container) Close() {
	if rs, ok := c.Sessions.(*session.RedisStore); ok {
		_ = rs.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}

func newVectorStore(cfg config.Config, db *storage.DB, logger *zap.Logger) (vector.Store, error) {
	switch cfg.VectorBackend {
	case "", "pinecone":
		return vector.NewPineconeStore(vector.PineconeConfig{
			APIKey:     cfg.PineconeAPIKey,
			Index:      cfg.PineconeIndex,
			Host:       cfg.PineconeHost,
			ControlURL: cfg.PineconeControlURL,
			Cloud:      cfg.PineconeCloud,
			Region:     cfg.PineconeRegion,
			Dimension:  cfg.EmbedDim,
		}, logger), nil
	case "pgvector":
		return vector.NewPGVectorStore(db.Pool, cfg.EmbedDim), nil
	case "memory":
		return vector.NewMemoryStore(cfg.EmbedDim), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.VectorBackend)
	}
}

func newParser(cfg config.Config) (extract.Parser, error) {
	switch cfg.ExtractBackend {
	case "", "ade":
		return extract.NewADEParser(cfg.ADEAPIKey, cfg.ADEBaseURL, cfg.ADEModel), nil
	case "local":
		return extract.NewLocalPDFParser(), nil
	default:
		return nil, fmt.Errorf("unsupported extract backend: %s", cfg.ExtractBackend)
	}
}
