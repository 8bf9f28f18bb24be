package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/queue"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/webhook"
	"github.com/ignite/outreach-engine/internal/worker"
)

func main() {
	log.Println("Starting Outreach Engine worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	// Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL %q: %v", cfg.Redis.URL, err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	pingCtx, pingCancel = context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping Redis (%s): %v", cfg.Redis.URL, err)
	}
	pingCancel()
	log.Printf("Redis connected: %s", cfg.Redis.URL)

	deliveryQ := queue.NewRedisQueue(redisClient, cfg.Queue.KeepCompleted, cfg.Queue.KeepFailed)
	deliveryQ.SetClaimTimeout(cfg.ClaimTimeout())

	store := postgres.NewCampaignStore(db)
	webhookStore := postgres.NewWebhookStore(db)

	var notifier campaign.Notifier
	var dispatcher *webhook.Dispatcher
	if cfg.Webhooks.Enabled {
		dispatcher = webhook.NewDispatcher(webhookStore)
		notifier = dispatcher
		log.Println("Webhook dispatcher enabled")
	}

	orc := campaign.NewOrchestrator(store, deliveryQ, notifier)
	orc.SetCapacityStore(worker.NewRedisCapacityStore(redisClient))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Campaign sweeper: polls active campaigns, enqueues due prospects, and
	// promotes due delayed jobs into the waiting set.
	sweeper := worker.NewCampaignSweeper(orc, store)
	sweeper.SetDB(db)
	sweeper.SetRedisClient(redisClient)
	sweeper.SetDeliveryQueue(deliveryQ)
	sweeper.SetPollInterval(cfg.SweepInterval())
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start campaign sweeper: %v", err)
	}
	log.Printf("Campaign sweeper started (poll interval: %v)", cfg.SweepInterval())

	// Account maintenance: daily counter resets, health recomputation, and
	// deactivation of unhealthy accounts.
	maintenance := worker.NewAccountMaintenance(db)
	maintenance.SetInterval(cfg.MaintenanceInterval())
	go maintenance.Start(ctx)
	log.Printf("Account maintenance started (interval: %v)", cfg.MaintenanceInterval())

	// Queue recovery: reclaims jobs claimed by crashed workers once their
	// visibility deadline passes.
	recovery := worker.NewQueueRecovery(deliveryQ)
	recovery.SetInterval(cfg.RecoveryInterval())
	go recovery.Start(ctx)
	log.Printf("Queue recovery started (interval: %v)", cfg.RecoveryInterval())

	log.Println("Worker running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()
	sweeper.Stop()
	if dispatcher != nil {
		dispatcher.Wait()
	}

	log.Println("Worker stopped")
}
