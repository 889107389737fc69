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
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/txmail/internal/config"
	"github.com/ignite/txmail/internal/pkg/distlock"
	"github.com/ignite/txmail/internal/pkg/httputil"
	"github.com/ignite/txmail/internal/pkg/logger"
	"github.com/ignite/txmail/internal/repository/postgres"
	"github.com/ignite/txmail/internal/service/event"
	"github.com/ignite/txmail/internal/service/sending"
	"github.com/ignite/txmail/internal/service/suppression"
	"github.com/ignite/txmail/internal/service/webhook"
	"github.com/ignite/txmail/internal/tracking"
	"github.com/ignite/txmail/internal/worker"
)

const devSigningKey = "txmail-signing-key-dev"

func main() {
	log.Println("Starting txmail worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactPIIEnabled())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	sender, err := worker.NewTransport(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialise transport: %v", err)
	}
	log.Printf("Transport: %s", cfg.Transport.Type)
	if redisClient != nil && (cfg.Transport.MaxPerSecond > 0 || cfg.Transport.DailyQuota > 0) {
		sender = worker.NewQuotaSender(sender, worker.NewSendQuota(redisClient,
			cfg.Transport.Type, cfg.Transport.MaxPerSecond, cfg.Transport.DailyQuota))
		log.Printf("Transport quota: %d/s, %d/day", cfg.Transport.MaxPerSecond, cfg.Transport.DailyQuota)
	}

	signingKey := cfg.Tracking.SigningKey
	if signingKey == "" {
		log.Println("[Tracking] WARNING: TRACKING_SIGNING_KEY not set, using development key")
		signingKey = devSigningKey
	}
	signer := tracking.NewSigner(signingKey, cfg.Tracking.BaseURL)

	dispatcher := worker.NewDispatcher(
		postgres.NewDispatchRepo(db),
		sending.NewRenderer(postgres.NewTemplateRepo(db), signer),
		sender,
		worker.DispatcherConfig{
			PollInterval: cfg.Dispatcher.PollInterval(),
			BatchSize:    cfg.Dispatcher.BatchSize,
			Concurrency:  cfg.Dispatcher.Concurrency,
			SendTimeout:  cfg.Dispatcher.SendTimeout(),
			MaxAttempts:  cfg.Dispatcher.MaxAttempts,
		},
	)

	fanout := worker.NewWebhookDispatcher(
		postgres.NewWebhookRepo(db),
		webhook.NewDeliverer(nil, cfg.Webhooks.Timeout()),
		worker.WebhookDispatcherConfig{
			PollInterval:     cfg.Webhooks.PollInterval(),
			BatchSize:        cfg.Webhooks.BatchSize,
			Concurrency:      cfg.Webhooks.Concurrency,
			FailureThreshold: cfg.Webhooks.FailureThreshold,
		},
	)

	maintenance := worker.NewMaintenance(
		suppression.NewService(postgres.NewSuppressionRepo(db)),
		postgres.NewMessageRepo(db),
		func(key string) distlock.DistLock { return distlock.NewLock(redisClient, db, key, 30*time.Minute) },
		worker.MaintenanceConfig{
			SuppressionSweepInterval: time.Duration(cfg.Maintenance.SuppressionSweepMinutes) * time.Minute,
			RetentionSweepInterval:   time.Duration(cfg.Maintenance.RetentionSweepHours) * time.Hour,
			RetentionDays:            cfg.Maintenance.RetentionDays,
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return fanout.Run(gctx) })
	g.Go(func() error { return maintenance.Run(gctx) })

	if cfg.Tracking.QueueURL != "" || cfg.Feedback.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Feedback.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		sqsClient := sqs.NewFromConfig(awsCfg)
		eventSvc := event.NewService(postgres.NewEventRepo(db))
		if cfg.Tracking.QueueURL != "" {
			c := tracking.NewConsumer(sqsClient, cfg.Tracking.QueueURL, eventSvc, "tracking")
			g.Go(func() error { return c.Run(gctx) })
		}
		if cfg.Feedback.QueueURL != "" {
			c := tracking.NewConsumer(sqsClient, cfg.Feedback.QueueURL, eventSvc, "feedback")
			g.Go(func() error { return c.Run(gctx) })
		}
	}

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux(dispatcher),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Printf("Metrics listening on %s", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	log.Println("Worker running...")
	if err := g.Wait(); err != nil {
		log.Printf("Worker exited with error: %v", err)
		os.Exit(1)
	}
	log.Println("Worker stopped")
}

func metricsMux(d *worker.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, d.Stats())
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		httputil.OK(w, map[string]string{"status": "alive"})
	})
	return r
}
