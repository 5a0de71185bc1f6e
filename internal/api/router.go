package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/argumentlab/dialectic/internal/api/handlers"
	mw "github.com/argumentlab/dialectic/internal/api/middleware"
	"github.com/argumentlab/dialectic/internal/config"
	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/service"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the router and the batch worker for lifecycle management.
type App struct {
	Router *chi.Mux
	Batch  *service.BatchService

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	runStore := store.NewRunStore(db)
	graphStore := store.NewHypergraphStore(db)
	conceptStore := store.NewConceptStore(db)
	claimStore := store.NewClaimStore(db)
	sourceStore := store.NewSourceStore(db)
	escrowStore := store.NewEscrowStore(db)
	karmaStore := store.NewKarmaStore(db)
	noticeStore := store.NewNotificationStore(db)

	// Services
	conceptSvc := service.NewConceptService(conceptStore, graphStore, logger)
	conceptSvc.SetThreshold(config.ConceptSimilarityThreshold())
	dedupeSvc := service.NewDedupeService(claimStore, logger)
	dedupeSvc.SetThreshold(config.ClaimSimilarityThreshold())
	ingestSvc := service.NewIngestionService(runStore, graphStore, sourceStore, conceptSvc, dedupeSvc, logger)
	notifySvc := service.NewNotifyService(noticeStore, logger)
	propagationSvc := service.NewPropagationService(graphStore, notifySvc, logger)
	settlementSvc := service.NewSettlementService(graphStore, escrowStore, karmaStore, sourceStore, notifySvc, logger)
	batchSvc := service.NewBatchService(runStore, propagationSvc, settlementSvc, logger)
	batchSvc.SetInterval(config.BatchInterval())
	batchSvc.SetStalenessWindow(config.RunStalenessWindow())

	// Handlers
	runHandler := handlers.NewRunHandler(runStore, ingestSvc)
	graphHandler := handlers.NewGraphHandler(graphStore)
	conceptHandler := handlers.NewConceptHandler(conceptSvc, conceptStore)
	bountyHandler := handlers.NewBountyHandler(escrowStore)
	karmaHandler := handlers.NewKarmaHandler(karmaStore, graphStore)
	sourceHandler := handlers.NewSourceHandler(sourceStore)
	noticeHandler := handlers.NewNotificationHandler(noticeStore)
	batchHandler := handlers.NewBatchHandler(batchSvc, propagationSvc, settlementSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Batch:     batchSvc,
		startTime: time.Now(),
	}

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
		r.Use(mw.APIKeyAuth(config.APIKey()))

		// Analysis runs and ingestion
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", runHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", runHandler.GetByID)
				r.Post("/ingest", runHandler.Ingest)
			})
		})

		// Graph reads
		r.Get("/subgraph", graphHandler.GetSubgraph)
		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/", graphHandler.GetNode)
			r.Get("/thread", graphHandler.GetThread)
			r.Get("/concepts", conceptHandler.GetBindings)
		})

		// Similarity search
		r.Route("/search", func(r chi.Router) {
			r.Post("/nodes", graphHandler.SearchNodes)
			r.Post("/concepts", conceptHandler.Search)
		})

		// Schemes: bounties and equivocation flags
		r.Route("/schemes/{id}", func(r chi.Router) {
			r.Post("/bounty", bountyHandler.Stake)
			r.Get("/equivocations", conceptHandler.ListEquivocations)
		})
		r.Get("/bounties/pending", bountyHandler.ListPending)

		// Karma
		r.Route("/karma/{userID}", func(r chi.Router) {
			r.Get("/", karmaHandler.GetProfile)
			r.Get("/daily", karmaHandler.GetDaily)
			r.Get("/nodes", karmaHandler.GetNodes)
		})

		// Cited sources
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.Get)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sourceHandler.GetByID)
				r.Put("/approval", sourceHandler.SetApproval)
			})
		})

		// Notifications
		r.Get("/notifications", noticeHandler.List)

		// Manual batch triggers
		r.Route("/batch", func(r chi.Router) {
			r.Post("/run", batchHandler.Run)
			r.Post("/reclaim", batchHandler.Reclaim)
			r.Post("/propagate", batchHandler.Propagate)
			r.Post("/settle", batchHandler.Settle)
		})
	})

	return app
}

// NewRouter returns just the chi.Mux.
func NewRouter(db *pgxpool.Pool, logger *zap.Logger) *chi.Mux {
	return NewApp(db, logger).Router
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
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
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
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores satisfy the domain interfaces at compile time.
var (
	_ domain.RunStore          = (*store.RunStore)(nil)
	_ domain.HypergraphStore   = (*store.HypergraphStore)(nil)
	_ domain.ConceptStore      = (*store.ConceptStore)(nil)
	_ domain.ClaimStore        = (*store.ClaimStore)(nil)
	_ domain.SourceStore       = (*store.SourceStore)(nil)
	_ domain.EscrowStore       = (*store.EscrowStore)(nil)
	_ domain.KarmaStore        = (*store.KarmaStore)(nil)
	_ domain.NotificationStore = (*store.NotificationStore)(nil)
)
