package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/api/handlers"
	mw "github.com/socratic-labs/socratic/internal/api/middleware"
	"github.com/socratic-labs/socratic/internal/buildconfig"
	"github.com/socratic-labs/socratic/internal/config"
	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/embedding"
	"github.com/socratic-labs/socratic/internal/llm"
	"github.com/socratic-labs/socratic/internal/notify"
	"github.com/socratic-labs/socratic/internal/service"
	"github.com/socratic-labs/socratic/internal/store"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router   *chi.Mux
	Archiver *service.ArchiverService
	Notifier domain.Notifier

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	sessionStore := store.NewSessionStore(db)
	profileStore := store.NewProfileStore(db)
	achievementStore := store.NewAchievementStore(db)
	graphStore := store.NewGraphStore(db)
	knowledgeStore := store.NewKnowledgeStore(db)

	// External clients via provider factories
	embeddingClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		logger.Warn("embedding client initialization failed",
			zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
		embeddingClient = embedding.NewMockClient()
	} else {
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	generator, err := llm.NewChain(config.GeneratorProviders(), config.GeneratorAPIKey, logger)
	if err != nil {
		logger.Warn("generator chain initialization failed",
			zap.String("providers", config.GeneratorProviders()), zap.Error(err))
		generator = llm.NewChainFromClients(logger, llm.NewMockClient())
	} else {
		logger.Info("generator chain initialized", zap.String("providers", config.GeneratorProviders()))
	}

	// Realtime notifier; falls back to a no-op sink when Redis is absent.
	var notifier domain.Notifier = notify.NewNoopNotifier()
	if addr := config.RedisAddr(); addr != "" {
		redisNotifier, err := notify.NewRedisNotifier(addr, config.RedisChannel(), logger)
		if err != nil {
			logger.Warn("redis notifier initialization failed", zap.String("addr", addr), zap.Error(err))
		} else {
			logger.Info("redis notifier initialized", zap.String("addr", addr))
			notifier = redisNotifier
		}
	}

	// Services
	retrievalSvc := service.NewRetrievalService(knowledgeStore, embeddingClient, logger)
	gamificationSvc := service.NewGamificationService(profileStore, achievementStore, graphStore, notifier, logger)
	sessionSvc := service.NewSessionService(sessionStore, graphStore, profileStore,
		retrievalSvc, embeddingClient, generator, gamificationSvc, notifier, logger)
	archiverSvc := service.NewArchiverService(sessionStore, logger)
	archiverSvc.SetInterval(config.ArchiverInterval())
	archiverSvc.SetIdleTimeout(config.SessionIdleTimeout())

	// Handlers
	sessionHandler := handlers.NewSessionHandler(sessionSvc, logger)
	profileHandler := handlers.NewProfileHandler(profileStore, achievementStore)
	graphHandler := handlers.NewGraphHandler(graphStore)
	knowledgeHandler := handlers.NewKnowledgeHandler(retrievalSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Archiver:  archiverSvc,
		Notifier:  notifier,
		startTime: time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Metrics (no auth)
	r.Get("/metrics", app.metricsHandler())

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(config.ServiceAPIKey()))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Post("/response", sessionHandler.SubmitResponse)
				r.Post("/teachback", sessionHandler.SubmitTeachBack)
			})
		})

		r.Route("/profiles/{userID}", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Get("/achievements", profileHandler.Achievements)
		})

		r.Get("/graph/{userID}", graphHandler.Get)

		r.Post("/knowledge", knowledgeHandler.Create)
	})

	return app
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"version": buildconfig.Version(),
		})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"build":      buildconfig.VersionInfo(),
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.SessionStore     = (*store.SessionStore)(nil)
	_ domain.ProfileStore     = (*store.ProfileStore)(nil)
	_ domain.AchievementStore = (*store.AchievementStore)(nil)
	_ domain.GraphStore       = (*store.GraphStore)(nil)
	_ domain.KnowledgeStore   = (*store.KnowledgeStore)(nil)
	_ domain.EmbeddingClient  = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient  = (*embedding.MockClient)(nil)
	_ domain.Generator        = (*llm.Chain)(nil)
	_ domain.Generator        = (*llm.OpenAIClient)(nil)
	_ domain.Generator        = (*llm.AnthropicClient)(nil)
	_ domain.Generator        = (*llm.GeminiClient)(nil)
	_ domain.Generator        = (*llm.MockClient)(nil)
	_ domain.Notifier         = (*notify.RedisNotifier)(nil)
	_ domain.Notifier         = (*notify.NoopNotifier)(nil)
)
