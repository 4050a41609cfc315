package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"playbook/api/internal/app"
	"playbook/api/internal/blob"
	"playbook/api/internal/config"
	"playbook/api/internal/logging"
	"playbook/api/internal/notify"
	"playbook/api/internal/search"
	"playbook/api/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("PLAYBOOK_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := newBootLogger(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("database connection failed")
	}
	defer db.Close()

	dataStore := store.New(db)
	if err := dataStore.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	opts := []app.Option{app.WithLogger(logger)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		publisher, err := notify.NewRedisPublisher(cfg.RedisURL, cfg.RedisSyncChannel)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer publisher.Close()
		logger.Info().Str("channel", publisher.Channel()).Msg("publishing sync events to redis")
		opts = append(opts, app.WithPublisher(publisher))
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		opts = append(opts, app.WithIndexer(meiliClient))
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := blob.New(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("blob store setup failed")
		}
		opts = append(opts, app.WithBlobStore(blobs))
	}

	service := app.New(cfg, dataStore, opts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("playbook API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

// newBootLogger logs until the configured logger exists.
func newBootLogger(w io.Writer) zerolog.Logger {
	return logging.New("info", "json", w).With().Str("stage", "boot").Logger()
}
