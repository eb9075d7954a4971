package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskbench/taskbench/internal/common/config"
	"github.com/taskbench/taskbench/internal/common/logger"
	"github.com/taskbench/taskbench/internal/common/tracing"
	"github.com/taskbench/taskbench/internal/events/bus"
	gateway "github.com/taskbench/taskbench/internal/gateway/websocket"
	"github.com/taskbench/taskbench/internal/orchestrator"
	"github.com/taskbench/taskbench/internal/sandbox"
	"github.com/taskbench/taskbench/internal/task/api"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting taskbench service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect the event bus (NATS when configured, in-memory otherwise)
	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to connect event bus", zap.Error(err))
	}
	defer eventBus.Close()

	// 5. Initialize the sandbox provider
	provider, err := sandbox.New(cfg.Sandbox, log)
	if err != nil {
		log.Fatal("Failed to initialize sandbox provider", zap.Error(err))
	}
	defer provider.Close()
	log.Info("Initialized sandbox provider", zap.String("provider", cfg.Sandbox.Provider))

	// 6. Initialize the orchestrator
	orch := orchestrator.New(provider, eventBus, cfg.Agent, log)

	// 7. WebSocket hub for task lifecycle notifications
	hub := gateway.NewHub(log)
	go hub.Run(ctx)
	gateway.RegisterTaskNotifications(ctx, eventBus, hub, log)
	wsHandler := gateway.NewHandler(hub, log)

	// 8. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(api.Recovery(log))
	router.Use(api.RequestLogger(log))
	router.Use(api.ErrorHandler(log))
	router.Use(api.CORS())

	// 9. Register API routes
	v1 := router.Group("/api/v1")
	api.SetupRoutes(v1, orch, log)

	router.GET("/ws", wsHandler.HandleConnection)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "taskbench",
		})
	})

	// 10. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down taskbench service...")

	// 13. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer shutdown error", zap.Error(err))
	}

	log.Info("Taskbench service stopped")
}
