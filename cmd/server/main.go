package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/liamcoop/perfrules/internal/config"
	"github.com/liamcoop/perfrules/internal/logger"
	"github.com/liamcoop/perfrules/internal/metrics"
	"github.com/liamcoop/perfrules/rules"
	"github.com/liamcoop/perfrules/rulesets"
	_ "github.com/lib/pq"
)

// slowRequestThreshold marks requests worth counting as slow
const slowRequestThreshold = 2 * time.Second

type Server struct {
	db       *sql.DB // nil when running on in-memory storage
	manager  *rulesets.Manager
	cfg      config.Config
	validate *validator.Validate
	router   *chi.Mux
}

// NewServer connects storage, loads every stored rule set and sets up routes.
// Without a DATABASE_URL rule sets live in memory for the life of the process.
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	var db *sql.DB
	var store rules.RuleSetStore
	var runs rules.RunStore

	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		pg := rules.NewPostgresRuleSetStore(db)
		store, runs = pg, pg
	} else {
		logger.Warn("DATABASE_URL not set, rule sets are kept in memory")
		mem := rules.NewInMemoryRuleSetStore()
		store, runs = mem, mem
	}

	cached := rules.NewCachedRuleSetStore(store, rules.NewInMemoryRuleSetCache(rules.DefaultCacheConfig()))
	manager := rulesets.NewManager(cached, runs)

	logger.Info("loading rule sets")
	n, err := manager.LoadAll(ctx)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("failed to load rule sets: %w", err)
	}
	logger.Info("rule sets loaded", "count", n)

	return newServer(cfg, db, manager), nil
}

func newServer(cfg config.Config, db *sql.DB, manager *rulesets.Manager) *Server {
	s := &Server{
		db:       db,
		manager:  manager,
		cfg:      cfg,
		validate: validator.New(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(countSlowRequests)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	// Generation from a new rule set
	r.Post("/api/v1/datasets", s.handleCreateDataset)

	// Classification with the newest rule set
	r.Post("/api/v1/classify", s.handleClassifyLatest)

	r.Route("/api/v1/rulesets", func(r chi.Router) {
		r.Get("/", s.handleListRuleSets)

		r.Route("/{ruleSetId}", func(r chi.Router) {
			r.Get("/", s.handleGetRuleSet)
			r.Delete("/", s.handleDeleteRuleSet)
			r.Post("/datasets", s.handleGenerate)
			r.Post("/classify", s.handleClassify)
			r.Get("/runs", s.handleListRuns)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func countSlowRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if elapsed := time.Since(start); elapsed > slowRequestThreshold {
			logger.WarnSlowRequest()
			logger.Debug("slow request", "method", r.Method, "path", r.URL.Path, "duration", elapsed.String())
		}
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if err := logger.Configure(cfg.LogLevel, cfg.ErrorSampleRate); err != nil {
		logger.Warn("ignoring LOG_LEVEL", "error", err)
	}

	ctx := context.Background()
	server, err := NewServer(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
