// Package gateway is the HTTP surface of recap: it authenticates summary
// requests, routes each one to a streamed completion or a deferred job, and
// keeps the resulting conversations.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/pkg/config"
	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/deferred"
	"github.com/papercomputeco/recap/pkg/dispatch"
	"github.com/papercomputeco/recap/pkg/merkle"
	"github.com/papercomputeco/recap/pkg/tokens"
	"github.com/papercomputeco/recap/pkg/transcript"
	"github.com/papercomputeco/recap/pkg/upstream"
)

// Gateway serves the summary API. Request handlers share no mutable state
// beyond the conversation store and the configuration snapshot pointer.
type Gateway struct {
	logger *zap.Logger
	server *fiber.App
	store  *conversation.Store

	// runtime is swapped whole on reload; each request loads it once.
	runtime atomic.Pointer[runtime]

	client      upstream.Client
	transcripts transcript.Source

	estimatorsMu sync.Mutex
	estimators   map[string]tokens.Estimator
}

// runtime is everything derived from one configuration snapshot.
type runtime struct {
	cfg          *config.Config
	client       upstream.Client
	router       *dispatch.Router
	orchestrator *deferred.Orchestrator
	transcripts  transcript.Source
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithClient replaces the upstream client built from configuration.
func WithClient(client upstream.Client) Option {
	return func(g *Gateway) { g.client = client }
}

// WithStorer replaces the conversation storer selected by configuration.
func WithStorer(storer merkle.Storer) Option {
	return func(g *Gateway) { g.store = conversation.NewStore(storer) }
}

// WithTranscriptSource replaces the transcript service client.
func WithTranscriptSource(source transcript.Source) Option {
	return func(g *Gateway) { g.transcripts = source }
}

// New creates a new Gateway.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger:     logger,
		estimators: make(map[string]tokens.Estimator),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.store == nil {
		var storer merkle.Storer
		if cfg.Storage.SQLitePath != "" {
			s, err := merkle.NewSQLiteStorer(cfg.Storage.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
			}
			storer = s
			logger.Info("using SQLite storage", zap.String("path", cfg.Storage.SQLitePath))
		} else {
			storer = merkle.NewMemoryStorer()
			logger.Info("using in-memory storage")
		}
		g.store = conversation.NewStore(storer)
	}

	if err := g.Apply(cfg); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	app.Use(g.requestLogger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/summary", g.handleSummary)
	api.Post("/summary/poll", g.handlePoll)
	api.Post("/transcript", g.handleTranscript)
	api.Get("/conversations", g.handleListConversations)
	api.Post("/conversations/nodes", g.handlePushNodes)
	api.Get("/conversations/:hash", g.handleGetConversation)

	g.server = app
	return g, nil
}

// RequestIDHeader echoes the id every log line of a request is tagged with.
const RequestIDHeader = "X-Request-Id"

const loggerKey = "logger"

func (g *Gateway) requestLogger(c *fiber.Ctx) error {
	id := uuid.NewString()
	c.Set(RequestIDHeader, id)
	c.Locals(loggerKey, g.logger.With(zap.String("request_id", id)))
	return c.Next()
}

func requestLog(c *fiber.Ctx) *zap.Logger {
	if log, ok := c.Locals(loggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

// Apply installs a new configuration. Requests already in flight keep the
// snapshot they started with.
func (g *Gateway) Apply(cfg *config.Config) error {
	estimator, err := g.estimator(cfg.Budget.Encoding)
	if err != nil {
		return err
	}

	client := g.client
	if client == nil {
		client = upstream.NewOpenAI(upstream.OpenAIConfig{
			BaseURL:         cfg.Upstream.BaseURL,
			APIKey:          cfg.Upstream.APIKey,
			Model:           cfg.Upstream.Model,
			JobInstructions: cfg.Upstream.JobInstructions,
			Timeout:         cfg.Upstream.Timeout.Duration,
		}, g.logger.Named("upstream"))
	}

	transcripts := g.transcripts
	if transcripts == nil && cfg.Transcript.Endpoint != "" {
		transcripts = transcript.NewHTTPSource(cfg.Transcript.Endpoint, cfg.Transcript.Timeout.Duration, g.logger.Named("transcript"))
	}

	g.runtime.Store(&runtime{
		cfg:    cfg,
		client: client,
		router: dispatch.NewRouter(estimator, cfg.TokenBudget(), dispatch.Overflow(cfg.Budget.Overflow)),
		orchestrator: deferred.New(client, g.logger.Named("deferred"),
			deferred.WithMaxOutputTokens(cfg.Budget.MaxResponseTokens)),
		transcripts: transcripts,
	})
	return nil
}

// estimator returns the shared estimator for an encoding; building a BPE
// table is too slow to repeat per reload.
func (g *Gateway) estimator(encoding string) (tokens.Estimator, error) {
	g.estimatorsMu.Lock()
	defer g.estimatorsMu.Unlock()

	if e, ok := g.estimators[encoding]; ok {
		return e, nil
	}
	e, err := tokens.New(encoding)
	if err != nil {
		return nil, err
	}
	g.estimators[encoding] = e
	return e, nil
}

// Run starts the gateway on the configured listening address.
func (g *Gateway) Run() error {
	cfg := g.runtime.Load().cfg
	g.logger.Info("starting gateway",
		zap.String("listen", cfg.Server.Listen),
		zap.String("model", cfg.Upstream.Model),
	)

	return g.server.Listen(cfg.Server.Listen)
}

// RunWithListener serves on an existing listener.
func (g *Gateway) RunWithListener(ln net.Listener) error {
	g.logger.Info("starting gateway", zap.String("listen", ln.Addr().String()))
	return g.server.Listener(ln)
}

// Shutdown stops accepting connections and waits for active requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.ShutdownWithContext(ctx)
}

// Handler exposes the gateway as a net/http handler.
func (g *Gateway) Handler() http.Handler {
	return adaptor.FiberApp(g.server)
}

// Close releases the conversation store.
func (g *Gateway) Close() error {
	return g.store.Close()
}
