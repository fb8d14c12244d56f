// cmd/server/main.go
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
	"github.com/sirupsen/logrus"

	"github.com/printshop/storefront-backend/internal/config"
	"github.com/printshop/storefront-backend/internal/database"
	"github.com/printshop/storefront-backend/internal/i18n"
	"github.com/printshop/storefront-backend/internal/router"
	"github.com/printshop/storefront-backend/internal/services"
	"github.com/printshop/storefront-backend/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}

	setupLogging(cfg.Log)

	// Initialize document store
	var st store.DocumentStore
	switch cfg.Database.Driver {
	case "memory":
		logrus.Warn("Using in-memory document store, data will not survive a restart")
		st = store.NewMemoryStore(store.WithRetryPolicy(router.RetryPolicy(cfg.Fulfillment)))
	default:
		db, err := database.Initialize(cfg.Database)
		if err != nil {
			logrus.Fatal("Failed to initialize database: ", err)
		}
		defer database.Close(db)

		if cfg.Database.AutoMigrate {
			if err := database.RunMigrations(db); err != nil {
				logrus.Fatal("Failed to run migrations: ", err)
			}
		}
		st = store.NewPostgresStore(db, router.RetryPolicy(cfg.Fulfillment))
	}

	// Initialize i18n
	if err := i18n.Initialize(cfg.I18n.LocalesPath, cfg.I18n.DefaultLocale); err != nil {
		logrus.Fatal("Failed to initialize i18n: ", err)
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	publisher := services.NewEventPublisher(cfg.Kafka)
	defer func() {
		if err := publisher.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close order event publisher")
		}
	}()

	// Initialize router
	r := router.Initialize(cfg, router.Dependencies{
		Store:     st,
		Publisher: publisher,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
		return
	}

	logrus.Info("Server exited")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
