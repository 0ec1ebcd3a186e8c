/**
 * @description
 * This is the main entry point for the ledger-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, scheduled jobs, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Scheduler for the expiry sweep and monthly accrual jobs.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/bankpartner: Client for the partner bank API.
 * - pkg/iamclient: Client for the IAM permission service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rosstax/ledger-service/internal/api"
	"github.com/rosstax/ledger-service/internal/app"
	"github.com/rosstax/ledger-service/internal/config"
	"github.com/rosstax/ledger-service/internal/store"
	"github.com/rosstax/ledger-service/pkg/bankpartner"
	"github.com/rosstax/ledger-service/pkg/iamclient"
	rmrabbit "github.com/rosstax/ledger-service/pkg/rabbitmq"
)

const partnerEventsExchange = "partner_bank_events"

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish ledger events. A broker
	// outage at startup degrades to a no-op publisher rather than blocking boot.
	var eventProducer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the partner bank API. Missing partner config
	// should not prevent the service from booting; refund transfer submission
	// to the partner will degrade.
	var partnerClient *bankpartner.Client
	if strings.TrimSpace(cfg.PartnerAPIBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"partner bank client not configured; partner submission disabled\" env=PARTNER_API_BASE_URL")
	} else {
		partnerClient = bankpartner.NewClient(cfg.PartnerAPIBaseURL, cfg.PartnerAPIKey)
	}

	// Initialize the client for the IAM service. Without it, permission checks
	// fall back to allowing authenticated staff.
	var iamClient *iamclient.Client
	if strings.TrimSpace(cfg.IAMServiceURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"iam client not configured; permission checks degraded\" env=IAM_SERVICE_URL")
	} else {
		iamClient = iamclient.NewClient(cfg.IAMServiceURL, cfg.IAMServiceAPIKey)
	}

	// Redis backs the transfer velocity rate limiter.
	var rateLimiter *app.RedisTransferRateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; transfer rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; transfer rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; transfer rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				rateLimiter = app.NewRedisTransferRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	ledgerService := app.NewService(
		repository,
		eventProducer,
		iamClient,
		partnerClient,
		rateLimiter,
		cfg.PartnerBankName,
	)

	// Schedule background jobs: the pending-transfer expiry sweep and the
	// monthly interest/fee accrual run.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ExpirySweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		ledgerService.ExpirePendingTransfers(ctx)
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"expiry sweep schedule invalid\" schedule=%q err=%v", cfg.ExpirySweepSchedule, err)
	}
	if _, err := scheduler.AddFunc(cfg.MonthlyAccrualSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		ledgerService.RunMonthlyAccrual(ctx, time.Now().UTC())
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"monthly accrual schedule invalid\" schedule=%q err=%v", cfg.MonthlyAccrualSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Wire up the partner status consumer: bind the partner bank's settlement
	// events onto the refund transfer workflow.
	partnerConsumer := app.NewPartnerStatusConsumer(ledgerService)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; partner status updates disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		partnerBindings := map[string]func([]byte) bool{
			"refund_transfer.status.accepted":  partnerConsumer.HandleMessage,
			"refund_transfer.status.funded":    partnerConsumer.HandleMessage,
			"refund_transfer.status.completed": partnerConsumer.HandleMessage,
			"refund_transfer.status.rejected":  partnerConsumer.HandleMessage,
		}

		if err := rabbitConsumer.ConsumeWithBindings(partnerEventsExchange, cfg.PartnerStatusQueue, partnerBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"partner status consumer start failed\" err=%v", err)
		}
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	handlers := api.NewLedgerHandlers(ledgerService)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: api.LedgerRoutes(handlers, cfg.AuthJWKSURL, cfg.InternalAPIKey),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
