package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-tracking/internal/auth"
	"github.com/ukydev/fleet-tracking/internal/commands"
	"github.com/ukydev/fleet-tracking/internal/config"
	"github.com/ukydev/fleet-tracking/internal/db"
	"github.com/ukydev/fleet-tracking/internal/events"
	"github.com/ukydev/fleet-tracking/internal/handlers"
	"github.com/ukydev/fleet-tracking/internal/middleware"
	"github.com/ukydev/fleet-tracking/internal/provider"
	"github.com/ukydev/fleet-tracking/internal/tracking"
	"go.mongodb.org/mongo-driver/mongo"
)

const shutdownTimeout = 10 * time.Second

// app is the wired gateway.
type app struct {
	server    *http.Server
	hub       *tracking.Hub
	archiver  *tracking.AlertArchiver
	publisher events.Publisher
	mongo     *mongo.Client
	logger    *log.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*app, error) {
	a := &app{logger: logger}

	var (
		history db.CommandCollection
		archive db.AlertCollection
		audit   commands.AuditLog
		store   tracking.AlertArchive
	)
	if cfg.MongoURI != "" {
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		a.mongo = client
		s := db.NewStore(client, cfg.MongoDB)
		if err := s.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to create MongoDB indexes")
		}
		history, archive, audit, store = s.Commands, s.Alerts, s.Commands, s.Alerts
		logger.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	} else {
		logger.Warn("MONGO_URI not set; command audit and alert archive are disabled")
	}

	publisher, err := events.New(cfg.Events, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("events: %w", err)
	}
	a.publisher = publisher

	tokens, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		a.close()
		return nil, err
	}

	client := provider.NewClient(cfg.Provider, logger)
	a.hub = tracking.NewHub(client, logger, tracking.WithMaxBackoff(cfg.PollMaxBackoff))
	a.archiver = tracking.NewAlertArchiver(a.hub, store, publisher, cfg.AlertLimit)
	dispatcher := commands.NewDispatcher(client, audit, publisher, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		Tracking:          handlers.NewTrackingHandler(a.hub, client, logger, 0),
		Commands:          handlers.NewCommandHandler(dispatcher, history, logger),
		Archive:           handlers.NewArchiveHandler(archive, logger),
		Auth:              middleware.NewAuthMiddleware(tokens, logger),
		RateLimit:         middleware.NewRateLimitMiddleware(),
		CommandRateLimit:  cfg.CommandRateLimit,
		CommandRateWindow: cfg.CommandRateWindow,
		Logger:            logger,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// run serves until ctx is cancelled, then shuts down gracefully.
func (a *app) run(ctx context.Context) error {
	archCtx, stopArchiver := context.WithCancel(ctx)
	archDone := make(chan struct{})
	go func() {
		defer close(archDone)
		a.archiver.Run(archCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", a.server.Addr).Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("HTTP server shutdown")
	}

	stopArchiver()
	<-archDone
	a.close()
	return serveErr
}

func (a *app) close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close event publisher")
		}
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to disconnect MongoDB")
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start gateway")
	}
	if err := a.run(ctx); err != nil {
		logger.WithError(err).Fatal("Gateway stopped")
	}
}
