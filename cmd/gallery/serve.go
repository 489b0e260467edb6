package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/furniture-recommender/internal/api"
	"github.com/maltedev/furniture-recommender/internal/database"
	"github.com/maltedev/furniture-recommender/internal/gallery"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the gallery and recommendation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func runServer(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateSchema(ctx); err != nil {
		return err
	}

	var outbox api.OutboxStats

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, outbox relay disabled", "addr", cfg.Redis.Addr, "error", err)
	} else {
		relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
			PollInterval: cfg.Redis.PollInterval,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		go func() {
			if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped with error", "error", err)
			}
		}()
		outbox = relay
	}

	repo := database.NewGalleryRepository(db, cfg.Redis.Stream)
	svc := gallery.NewService(repo, loadMatrix(), cfg.Recommender.NumRecommendations, logger)
	handlers := api.NewHandlers(svc, db, outbox, logger)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	logger.Info("server stopped")
	return nil
}
