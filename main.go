package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"ticket-inventory/config"
	"ticket-inventory/handlers"
	"ticket-inventory/notify"
	"ticket-inventory/queue"
	"ticket-inventory/security"
	"ticket-inventory/services"
	"ticket-inventory/store"
	"ticket-inventory/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis (shared by the redis store, the queue and rate
	// limiting; not opened for pure sqlite/memory deployments)
	var redisClient *redis.Client
	if cfg.StoreDriver == "redis" || cfg.ReserveRateLimit > 0 {
		redisClient = utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
	}

	// Initialize store
	st, err := openStore(cfg, redisClient)
	if err != nil {
		log.Fatalf("store: %v", err)
	}

	// Initialize queue
	var q queue.Queue
	if redisClient != nil {
		q = queue.NewRedisQueue(redisClient, cfg.QueueName, cfg.QueueMaxReceiveCount, cfg.QueueDedupWindow)
	} else {
		q = queue.NewMemoryQueue(cfg.QueueMaxReceiveCount, cfg.QueueDedupWindow)
	}

	// Initialize services
	notifier := notify.NewNotifier(cfg)
	dispatcher := services.NewOrderDispatcher(q)
	reservationService := services.NewReservationService(st, dispatcher, cfg)
	confirmer := services.AutoApprove()
	if cfg.ConfirmGatewayURL != "" {
		confirmer = services.NewGatewayConfirmer(cfg, st)
	}
	orderService := services.NewOrderService(st, reservationService, dispatcher, confirmer, notifier, cfg)

	// Initialize handlers
	eventHandler := handlers.NewEventHandler(st, reservationService)
	orderHandler := handlers.NewOrderHandler(orderService)
	limiter := security.NewRateLimiter(redisClient, cfg.ReserveRateLimit)

	// Create context for background tasks
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start background tasks
	consumer := services.NewConsumer(q, orderService, cfg)
	consumer.Start(ctx)
	sweeper := services.NewSweeper(reservationService, orderService, cfg)
	sweeper.Start(ctx)

	// Metrics endpoint on its own port
	if cfg.EnableMetrics {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(":"+cfg.MetricsPort, mux); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	// Register routes
	e := echo.New()

	e.POST("/api/events", eventHandler.CreateEvent)
	e.GET("/api/events/:eventId", eventHandler.GetEvent)
	e.POST("/api/events/:eventId/reserve", eventHandler.Reserve, limiter.ReserveLimit())
	e.POST("/api/events/:eventId/complimentary", eventHandler.AssignComplimentary)

	e.GET("/api/orders/:orderId", orderHandler.GetOrder)
	e.GET("/api/orders/:orderId/tickets", orderHandler.GetOrderTickets)

	e.GET("/health", func(c echo.Context) error {
		if redisClient != nil {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return c.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(200, map[string]string{"status": "healthy"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	// Setup graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}

		consumer.Stop()
		sweeper.Stop()
		cancel()
	}()

	log.Printf("Server listening on :%s (store driver %s)", cfg.Port, cfg.StoreDriver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func openStore(cfg *config.Config, redisClient *redis.Client) (store.Store, error) {
	switch cfg.StoreDriver {
	case "redis":
		return store.NewRedis(redisClient), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return store.NewMemory(), nil
	}
}
