package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/linkharbor/be-mp-orders/internal/client"
	"github.com/linkharbor/be-mp-orders/internal/config"
	"github.com/linkharbor/be-mp-orders/internal/database"
	"github.com/linkharbor/be-mp-orders/internal/handler"
	"github.com/linkharbor/be-mp-orders/internal/logger"
	"github.com/linkharbor/be-mp-orders/internal/metrics"
	"github.com/linkharbor/be-mp-orders/internal/middleware"
	"github.com/linkharbor/be-mp-orders/internal/repository"
	"github.com/linkharbor/be-mp-orders/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Marketplace Orders Service")

	feeRate, err := decimal.NewFromString(cfg.Billing.FeeRate)
	if err != nil {
		log.Fatal().Err(err).Str("fee_rate", cfg.Billing.FeeRate).Msg("Invalid fee rate")
	}

	metrics.Register()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime.Std(),
		MaxIdleTime: cfg.Database.MaxIdleTime.Std(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)

	// Initialize payment processor clients
	invoicingClient := client.NewInvoicingClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Processor.Timeout.Std())
	payoutClient := client.NewPayoutClient(cfg.Processor.BaseURL, cfg.Processor.APIKey, cfg.Processor.Timeout.Std())
	webhookVerifier := client.NewWebhookVerifier(cfg.Processor.VerifyURL, cfg.Processor.APIKey, cfg.Processor.Timeout.Std())

	profilesURL := getEnv("PROFILES_URL", "http://localhost:8081")
	profilesClient := client.NewProfilesClient(profilesURL, cfg.Processor.Timeout.Std())

	log.Info().
		Str("processor_base_url", cfg.Processor.BaseURL).
		Str("profiles_url", profilesURL).
		Msg("External clients initialized")

	// Initialize notification publisher. NATS is optional: without a broker
	// the service still runs, it just stops emitting notification events.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("nats_url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
			natsConn = nil
		} else {
			defer natsConn.Close()
			log.Info().Str("nats_url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	notifier := client.NewNotificationPublisher(natsConn, log.Logger)

	// Initialize services
	orderService := service.NewOrderService(orderRepo, notifier, log, cfg.Billing.Currency)
	invoiceService := service.NewInvoiceService(orderRepo, paymentRepo, invoicingClient, profilesClient, notifier, log, feeRate)
	payoutService := service.NewPayoutService(orderRepo, paymentRepo, payoutRepo, payoutClient, profilesClient, notifier, log)
	webhookService := service.NewWebhookService(orderRepo, paymentRepo, payoutRepo, notifier, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(orderService, invoiceService, payoutService, log)
	webhookHandler := handler.NewWebhookHandler(webhookService, webhookVerifier, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Order routes
	mux.HandleFunc("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListOrders(w, r)
		case http.MethodPost:
			httpHandler.CreateOrder(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/orders/get", httpHandler.GetOrder)
	mux.HandleFunc("/api/v1/orders/accept", httpHandler.AcceptOrder)
	mux.HandleFunc("/api/v1/orders/reject", httpHandler.RejectOrder)
	mux.HandleFunc("/api/v1/orders/submit-work", httpHandler.SubmitWork)
	mux.HandleFunc("/api/v1/orders/approve", httpHandler.ApproveOrder)
	mux.HandleFunc("/api/v1/orders/request-revision", httpHandler.RequestRevision)
	mux.HandleFunc("/api/v1/orders/request-payout", httpHandler.RequestPayout)
	mux.HandleFunc("/api/v1/orders/dispute", httpHandler.DisputeOrder)

	// Processor webhook (signature-verified, no principal required)
	mux.HandleFunc("/api/v1/webhooks/processor", webhookHandler.HandleProcessorEvent)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Identity(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
