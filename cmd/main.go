/**
 * @description
 * This is the main entry point for the settlement-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the banking provider client, message brokers, repositories, the
 * core ledger service, the reconciliation schedule, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/bankclient: Client for the banking provider API.
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

	"github.com/boopathydreams/capnpay-settlement/internal/api"
	"github.com/boopathydreams/capnpay-settlement/internal/app"
	"github.com/boopathydreams/capnpay-settlement/internal/config"
	"github.com/boopathydreams/capnpay-settlement/internal/store"
	"github.com/boopathydreams/capnpay-settlement/pkg/bankclient"
	"github.com/boopathydreams/capnpay-settlement/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.APIJWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"api jwt secret must be configured\" env=API_JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s", cfg.ServerPort)

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

	// Initialize the RabbitMQ producer that mirrors payment events. A broker
	// outage degrades to the no-op fallback; the in-process bus still works.
	var producer rabbitmq.Publisher
	if eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the banking provider API.
	bankClient := bankclient.NewClient(cfg.BankAPIBaseURL, cfg.BankAPIKey)

	// Redis backs webhook rate limiting; a missing or unreachable Redis
	// disables the limiter rather than blocking boot.
	var redisClient *redis.Client
	if cfg.WebhookRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the event bus and the core ledger service.
	bus := app.NewEventBus()
	defer bus.Close()

	ledger := app.NewService(repository, bankClient, bus, producer, app.Options{
		Currency:                cfg.DefaultCurrency,
		CollectionExpiryMinutes: cfg.CollectionExpiryMinutes,
		PayoutCallTimeout:       time.Duration(cfg.PayoutCallTimeoutSeconds) * time.Second,
		EventExchange:           cfg.EventExchange,
	})

	ingestor := app.NewIngestor(repository, ledger)

	// Wire the reconciliation loop onto its cron schedule.
	reconciler := app.NewReconciler(repository, bankClient, ledger, app.ReconcilerOptions{
		Window:             time.Duration(cfg.ReconcileWindowDays) * 24 * time.Hour,
		BatchLimit:         cfg.ReconcileBatchLimit,
		CollectionAgeAlert: time.Duration(cfg.CollectionAgeAlertMinutes) * time.Minute,
		PayoutAgeAlert:     time.Duration(cfg.PayoutAgeAlertMinutes) * time.Minute,
	})
	scheduler, err := app.NewScheduler(reconciler, cfg.ReconcileSchedule, 10*time.Minute)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler init failed\" err=%v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers.
	var limiter *app.RedisWebhookRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisWebhookRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}
	paymentHandlers := api.NewPaymentHandlers(ledger)
	webhookHandlers := api.NewWebhookHandlers(ingestor, api.WebhookAuthConfig{
		Secret:      cfg.WebhookSecret,
		BearerToken: cfg.WebhookBearerToken,
		Enforce:     cfg.WebhookEnforceAuth,
	}, limiter, cfg.WebhookRateLimitPerMinute, time.Minute)
	streamHandlers := api.NewStreamHandlers(bus)

	router := api.Routes(paymentHandlers, webhookHandlers, streamHandlers, cfg.APIJWTSecret, cfg.Origins())

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
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
