package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taskwheel/jobrouter/internal/audit"
	"github.com/taskwheel/jobrouter/internal/config"
	"github.com/taskwheel/jobrouter/internal/events"
	"github.com/taskwheel/jobrouter/internal/httpserver"
	"github.com/taskwheel/jobrouter/internal/models"
	"github.com/taskwheel/jobrouter/internal/repo"
	"github.com/taskwheel/jobrouter/internal/service"
	"github.com/taskwheel/jobrouter/pkg/db"
	"github.com/taskwheel/jobrouter/pkg/logging"
	loggingmw "github.com/taskwheel/jobrouter/pkg/middleware/logging"
	"github.com/taskwheel/jobrouter/pkg/tokens"
)

func main() {
	cfg := config.Load()
	cfg.MustValidate()

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gdb, err := db.Open(initCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}); err != nil {
		log.Fatalf("db migrate error: %v", err)
	}

	var sinks service.MultiSink

	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers)
		defer producer.Close()
		sinks = append(sinks, producer)
	}

	if cfg.AuditESURL != "" {
		indexer, err := audit.NewIndexer(cfg.AuditESURL, cfg.AuditESUser, cfg.AuditESPassword)
		if err != nil {
			log.Fatalf("audit init error: %v", err)
		}
		sinks = append(sinks, indexer)
	}

	svc := &service.AuthService{
		Repo: &repo.GormRepo{DB: gdb},
		Issuer: &tokens.Issuer{
			AccessSecret:  cfg.JWTAccessSecret,
			RefreshSecret: cfg.JWTRefreshSecret,
			AccessTTL:     cfg.AccessTokenTTL,
			RefreshTTL:    cfg.RefreshTokenTTL,
		},
	}
	if len(sinks) > 0 {
		svc.Events = sinks
	}

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second
	e.Use(loggingmw.RequestLogger(logger))

	httpserver.Register(e, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc},
		JWTSecret:   cfg.JWTAccessSecret,
		CORSOrigin:  cfg.CORSOrigin,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("echo shutdown: %v", err)
	}
}
