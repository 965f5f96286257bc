package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"phishguard/config"
	"phishguard/db"
	phttp "phishguard/http"
	"phishguard/logger"
	"phishguard/ml"
	"phishguard/monitoring"
	"phishguard/predict"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (empty for environment only)")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	// 2. Load both models; the service does not start without them.
	store, err := ml.LoadStore(cfg.ModelSpecs())
	if err != nil {
		log.Error("failed to load models", zap.Error(err))
		return err
	}
	defer store.Close()
	log.Info("models loaded",
		zap.String("web_out", cfg.Models.WebOut.Path),
		zap.String("web_in", cfg.Models.WebIn.Path),
	)

	metrics := monitoring.NewMetricsCollector()
	opts := []predict.Option{
		predict.WithCacheSize(cfg.Cache.Size),
		predict.WithObserver(metrics),
		predict.WithLogger(log),
	}

	// 3. Optional prediction journal
	var journal phttp.Journal
	if cfg.Database.Path != "" {
		predictionLog, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open prediction journal: %w", err)
		}
		defer predictionLog.Close()
		journal = predictionLog
		opts = append(opts, predict.WithRecorder(predictionLog))
		log.Info("prediction journal opened", zap.String("path", cfg.Database.Path))
	}

	service, err := predict.NewService(store, opts...)
	if err != nil {
		return err
	}

	// 4. Start HTTP server
	server := phttp.NewServer(phttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		MaxBodyBytes:   cfg.Http.MaxBodyBytes,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, phttp.NewHandler(service, metrics, journal, log), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("serving prediction api", zap.String("addr", server.Addr()), zap.Int("cache_size", cfg.Cache.Size))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	// 5. Graceful shutdown
	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
		return errors.New("http server stopped unexpectedly")
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := server.Stop(); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	log.Info("exiting")
	return nil
}
