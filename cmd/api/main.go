package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"tabular-backend/cmd"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/cache"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/pipeline"
	"tabular-backend/internal/storage"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type APIConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	RedisURL          string `env:"REDIS_URL"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	BucketName        string `env:"STORAGE_BUCKET" envDefault:"datasets"`
	BucketPrefix      string `env:"STORAGE_PREFIX"`
	APIPort           string `env:"API_PORT" envDefault:"8001"`
}

func createCache(redisURL string) cache.Cache {
	if redisURL == "" {
		slog.Info("REDIS_URL not set, using in-process download url cache")
		return cache.NewMemoryCache()
	}

	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisCache.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	return redisCache
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	pipelineCfg := cmd.LoadPipelineConfig()

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	objects, err := storage.NewS3Provider(cfg.BucketName, cfg.BucketPrefix, storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	}, pipelineCfg.DownloadURLTTL)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}
	if err := objects.CreateBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create bucket %s: %v", cfg.BucketName, err)
	}

	bus, err := messaging.NewRabbitMQBus(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer bus.Close()

	authority := auth.NewAuthority(pipelineCfg.WebhookSecret, pipelineCfg.CallbackTokenTTL, pipelineCfg.AcceptStaticSecret)

	p := pipeline.New(pipelineCfg, pipeline.Deps{
		Store:     database.NewStore(db),
		Storage:   objects,
		Workers:   compute.NewClient(pipelineCfg.WorkerTimeout),
		Locator:   compute.NewGatewayClient(pipelineCfg.CallbackURL(pipeline.CallbackPrefix), pipelineCfg.WorkerTimeout),
		LLM:       cmd.CreateLLM(pipelineCfg.LLM),
		Authority: authority,
		Events:    bus,
		Cache:     createCache(cfg.RedisURL),
	})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go p.RunSweeper(sweepCtx)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * pipelineCfg.WorkerTimeout))

	cmd.AddPipelineRoutes(r, p, authority, bus, nil)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")
		stopSweeper()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
