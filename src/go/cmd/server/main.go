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
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"whatsapp-relay/src/go/config"
	"whatsapp-relay/src/go/server"
	"whatsapp-relay/src/go/session"
	"whatsapp-relay/src/go/webhook"
	"whatsapp-relay/src/go/whatsapp"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Failed to read .env: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Set log level (5 = Debug, 4 = Info)
	if cfg.LogLevel >= 5 {
		logger.SetLevel(logrus.DebugLevel)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Infof("Starting WhatsApp webhook relay (%s)", cfg.Environment)
	if cfg.Webhook.URL == "" {
		logger.Warn("No webhook URL configured, inbound messages will not be forwarded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize WhatsApp engine
	engine, err := whatsapp.NewMeowEngine(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize WhatsApp engine: %v", err)
	}

	store := session.NewStore()
	events := whatsapp.NewBroadcaster(32, logger)
	adapter := whatsapp.NewAdapter(engine, store, events, cfg.Send, cfg.Relay.Buffer, logger)
	relay := webhook.New(cfg.Webhook, adapter, logger)

	// Intake stops after the HTTP server; in-flight POSTs finish on their own timeout
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	relayDone := make(chan struct{})
	go func() {
		relay.Run(relayCtx, adapter.Inbox())
		close(relayDone)
	}()

	if err := adapter.Start(ctx); err != nil {
		logger.Fatalf("Failed to start WhatsApp engine: %v", err)
	}

	srv := server.New(store, adapter, events, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.SetupRoutes(),
	}

	// Start server in goroutine
	go func() {
		logger.Infof("HTTP API listening on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown error: %v", err)
	}

	adapter.Shutdown()
	stopRelay()

	select {
	case <-relayDone:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for webhook deliveries")
	}

	logger.Info("Server stopped")
}
