package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ignite/txmail/internal/api"
	"github.com/ignite/txmail/internal/config"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/repository/postgres"
	"github.com/ignite/txmail/internal/service/analytics"
	"github.com/ignite/txmail/internal/service/event"
	"github.com/ignite/txmail/internal/service/message"
	"github.com/ignite/txmail/internal/service/suppression"
	"github.com/ignite/txmail/internal/service/webhook"
	"github.com/ignite/txmail/internal/tracking"
)

const devSigningKey = "txmail-signing-key-dev"

func main() {
	log.Println("Starting txmail API server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactPIIEnabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	var (
		redisClient *redis.Client
		cache       analytics.Cache
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("[Redis] WARNING: ping failed, analytics cache may be unavailable: %v", err)
		}
		cache = analytics.NewRedisCache(redisClient)
		log.Printf("[Redis] analytics cache enabled (%s, ttl=%s)", cfg.Redis.Addr, cfg.Analytics.CacheTTL())
	}

	eventSvc := event.NewService(postgres.NewEventRepo(db))
	suppressionSvc := suppression.NewService(postgres.NewSuppressionRepo(db))
	deps := api.Deps{
		Keys:         postgres.NewAPIKeyRepo(db),
		Messages:     message.NewService(postgres.NewMessageRepo(db), postgres.NewTemplateRepo(db), suppressionSvc),
		Events:       eventSvc,
		Suppressions: suppressionSvc,
		Webhooks:     webhook.NewService(postgres.NewWebhookRepo(db), webhook.NewDeliverer(nil, cfg.Webhooks.Timeout())),
		Analytics:    analytics.NewService(postgres.NewAnalyticsRepo(db), cache, cfg.Analytics.CacheTTL()),
		Health:       api.NewHealthChecker(db, redisClient),
	}

	signingKey := cfg.Tracking.SigningKey
	if signingKey == "" {
		log.Println("[Tracking] WARNING: TRACKING_SIGNING_KEY not set, using development key")
		signingKey = devSigningKey
	}
	var sink tracking.Sink = tracking.NewDirectSink(eventSvc)
	if cfg.Tracking.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Feedback.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		sink = tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Tracking.QueueURL)
		log.Printf("[Tracking] hits published to SQS")
	}
	trackingHandler := tracking.NewHandler(tracking.NewSigner(signingKey, cfg.Tracking.BaseURL), sink, rate.NewLimiter(1000, 2000))
	deps.Tracking = trackingHandler.Routes()

	server := api.NewServer(deps, cfg.Server.AllowedOrigins)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
