package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"tabular-backend/cmd"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/cache"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/config"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/pipeline"
	"tabular-backend/internal/storage"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root string `env:"ROOT" envDefault:"./tabular-pipeline"`
	Port int    `env:"PORT" envDefault:"3001"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "pipeline.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// sqlite allows a single writer.
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to access connection pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createServer(p *pipeline.Pipeline, authority *auth.Authority, bus *messaging.InMemoryBus, objects storage.Provider, port int, requestTimeout time.Duration) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	cmd.AddPipelineRoutes(r, p, authority, bus, objects)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	pipelineCfg := cmd.LoadPipelineConfig()
	if pipelineCfg.PublicBaseURL == "" {
		pipelineCfg.PublicBaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port, "public_base_url", pipelineCfg.PublicBaseURL)

	db := createDatabase(cfg.Root)

	authority := auth.NewAuthority(pipelineCfg.WebhookSecret, pipelineCfg.CallbackTokenTTL, pipelineCfg.AcceptStaticSecret)

	objects, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"), pipelineCfg.CallbackURL(pipeline.CallbackPrefix), authority, pipelineCfg.DownloadURLTTL)
	if err != nil {
		log.Fatalf("Failed to create storage provider: %v", err)
	}

	bus := messaging.NewInMemoryBus()
	defer bus.Close()

	p := pipeline.New(pipelineCfg, pipeline.Deps{
		Store:     database.NewStore(db),
		Storage:   objects,
		Workers:   compute.NewClient(pipelineCfg.WorkerTimeout),
		Locator:   compute.NewGatewayClient(pipelineCfg.CallbackURL(pipeline.CallbackPrefix), pipelineCfg.WorkerTimeout),
		LLM:       cmd.CreateLLM(pipelineCfg.LLM),
		Authority: authority,
		Events:    bus,
		Cache:     cache.NewMemoryCache(),
	})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go p.RunSweeper(sweepCtx)

	server := createServer(p, authority, bus, objects, cfg.Port, requestTimeout(pipelineCfg))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")
		stopSweeper()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}

// requestTimeout leaves room for a synchronous worker call plus the gateway
// round trip it makes back into this server.
func requestTimeout(cfg config.Config) time.Duration {
	return 2 * cfg.WorkerTimeout
}
