package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"import_tables/internal/api"
	"import_tables/internal/app/service"
	"import_tables/internal/app/worker"
	"import_tables/internal/common/security"
	"import_tables/internal/domain/model"
	"import_tables/internal/domain/repository"
	"import_tables/internal/platform/cache"
	"import_tables/internal/platform/config"
	"import_tables/internal/platform/database"
	"import_tables/internal/platform/events"
	"import_tables/internal/platform/telemetry"
)

func main() {
	issueToken := flag.String("issue-admin-token", "", "print an admin token for the given subject and exit")
	flag.Parse()

	// 1. Load Configuration
	config.Load()
	fmt.Println("Configuration loaded.")

	// 2. Initialize JWT
	security.InitJWT()
	if *issueToken != "" {
		token, err := security.GenerateToken(*issueToken, model.RoleAdmin)
		if err != nil {
			log.Fatalf("Could not sign token: %v", err)
		}
		fmt.Println(token)
		return
	}
	fmt.Println("JWT initialized.")

	// 3. Initialize Telemetry
	tel, err := telemetry.Setup(context.Background(), config.AppConfig.ServiceName, config.AppConfig.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Could not set up telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			log.Printf("Telemetry shutdown: %v", err)
		}
	}()
	logger := tel.Logger
	slog.SetDefault(logger)

	// 4. Initialize Database
	database.Connect()
	defer database.Close()

	// 5. Initialize Redis
	cache.ConnectRedis()
	defer cache.CloseRedis()

	// 6. Initialize Event Publisher
	var publisher events.Publisher = events.NoopPublisher{}
	if config.AppConfig.RabbitMQURL != "" {
		conn, err := events.Dial(config.AppConfig.RabbitMQURL)
		if err != nil {
			log.Fatalf("Could not connect to RabbitMQ: %v", err)
		}
		defer conn.Close()
		amqpPublisher, err := events.NewAMQPPublisher(conn.Channel, config.AppConfig.ImportEventExchange)
		if err != nil {
			log.Fatalf("Could not set up import events: %v", err)
		}
		publisher = amqpPublisher
		fmt.Println("RabbitMQ connected.")
	}

	// 7. Initialize Repositories
	var importRepo repository.ImportRepository
	if config.AppConfig.DBDriver == database.DriverSQLite {
		importRepo = repository.NewSQLiteImportRepository(database.DB)
	} else {
		importRepo = repository.NewPgImportRepository(database.DB)
	}
	counterRepo := repository.NewRedisCounterRepository(cache.RDB, config.AppConfig.CounterKeyPrefix, config.AppConfig.CounterKeepLast)

	// 8. Initialize Services
	importService := service.NewImportService(importRepo, publisher, tel.Metrics, logger, config.AppConfig.ImportListLimit)
	progressService := service.NewProgressService(importRepo, counterRepo, publisher, tel.Metrics, logger, config.AppConfig.CounterKeepLast)

	// 9. Initialize Reaper Worker (as a goroutine)
	reaper := worker.NewReaperWorker(cache.RDB, importService, worker.ReaperConfig{
		Interval:   config.AppConfig.ReapInterval,
		StaleAfter: config.AppConfig.StaleAfter,
		LockKey:    config.AppConfig.ReapLockKey,
		LockTTL:    time.Duration(config.AppConfig.ReapLockTTLSeconds) * time.Second,
	}, logger)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go reaper.Start(workerCtx)

	// 10. Initialize Router & HTTP Server
	router := api.NewRouter(importService, progressService, config.AppConfig.StaleAfter, logger)

	server := &http.Server{
		Addr:         ":" + config.AppConfig.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 11. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on port %s", config.AppConfig.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", config.AppConfig.APIPort, err)
		}
	}()

	<-stop

	log.Println("Shutting down server...")
	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}

	log.Println("Server and reaper stopped gracefully.")
}
