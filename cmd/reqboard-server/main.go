// Package main provides the reqboard API server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	"gorm.io/gorm"

	"github.com/reqboard/reqboard/internal/db"
	"github.com/reqboard/reqboard/pkg/baseline"
	"github.com/reqboard/reqboard/pkg/changecontrol"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/identifier"
	"github.com/reqboard/reqboard/pkg/requirements"
	"github.com/reqboard/reqboard/pkg/scope"
	"github.com/reqboard/reqboard/pkg/trace"
)

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "postgres", "Database type (sqlite, postgres, or mysql)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	// Set up structured logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting reqboard server", "listen", listenAddr, "dbType", databaseType)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	// Assemble the stores. The change-control engine doubles as the
	// reference check for requirement deletes.
	ids := identifier.NewAllocator(gormDB)
	ledger := history.NewLedger(gormDB)
	reqStore := requirements.NewStore(gormDB, ids, ledger)
	baselineMgr := baseline.NewManager(gormDB, reqStore, ledger)
	engine := changecontrol.NewEngine(gormDB, ids, ledger)
	traceStore := trace.NewStore(gormDB, reqStore)
	reqStore.SetChangeRequestChecker(engine)

	// Replicas race on startup; the migration lock serializes AutoMigrate.
	locker := db.NewMigrationLocker(gormDB)
	err = locker.WithLock(ctx, func() error {
		for _, migrate := range []func() error{
			ids.AutoMigrate, ledger.AutoMigrate, reqStore.AutoMigrate,
			baselineMgr.AutoMigrate, engine.AutoMigrate, traceStore.AutoMigrate,
		} {
			if err := migrate(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		glog.Fatalf("Failed to migrate database: %v", err)
	}

	// Set up auth based on REQBOARD_AUTH_MODE.
	var actor scope.ActorExtractor = scope.HeaderActorExtractor
	switch authMode := os.Getenv("REQBOARD_AUTH_MODE"); authMode {
	case "jwt":
		jwtCfg := scope.JWTActorConfig{
			SubjectClaim:  envOrDefault("REQBOARD_JWT_SUBJECT_CLAIM", "sub"),
			PublicKeyPath: os.Getenv("REQBOARD_JWT_PUBLIC_KEY_PATH"),
			Issuer:        os.Getenv("REQBOARD_JWT_ISSUER"),
			Audience:      os.Getenv("REQBOARD_JWT_AUDIENCE"),
			Logger:        logger,
		}
		actor, err = scope.NewJWTActorExtractor(jwtCfg)
		if err != nil {
			glog.Fatalf("Failed to create JWT actor extractor: %v", err)
		}
		logger.Info("using JWT auth",
			"subjectClaim", jwtCfg.SubjectClaim,
			"hasPublicKey", jwtCfg.PublicKeyPath != "")
	case "header", "":
		if authMode == "" {
			logger.Info("using default header-based auth (X-User-Principal)")
		}
	default:
		glog.Fatalf("Unknown auth mode: %q (expected jwt, header, or empty)", authMode)
	}

	router := mountRoutes(reqStore, ledger, baselineMgr, engine, traceStore, actor)

	logger.Info("reqboard server ready", "listen", listenAddr)

	// Create HTTP server with graceful shutdown
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("reqboard server stopped")
}

func mountRoutes(
	reqStore *requirements.Store,
	ledger *history.Ledger,
	baselineMgr *baseline.Manager,
	engine *changecontrol.Engine,
	traceStore *trace.Store,
	actor scope.ActorExtractor,
) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", scope.ProjectHeader, scope.ActorHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(scope.Middleware(scope.HeaderResolver{Actor: actor}))
		r.Mount("/requirements", requirements.NewRouter(reqStore, ledger,
			baseline.RegisterRoutes(baselineMgr),
			changecontrol.RequirementSubroutes(engine),
			trace.RequirementSubroutes(traceStore),
		))
		r.Mount("/changerequests", changecontrol.NewRouter(engine, ledger))
		r.Mount("/trace", trace.NewRouter(traceStore))
	})

	return r
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
	}
	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = db.TypePostgres
		}
	}
	return db.Connect(db.Config{Type: dbType, DSN: dsn})
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
