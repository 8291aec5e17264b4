package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/tokenledger/internal/api"
	"github.com/punchamoorthee/tokenledger/internal/cache"
	"github.com/punchamoorthee/tokenledger/internal/config"
	"github.com/punchamoorthee/tokenledger/internal/events"
	"github.com/punchamoorthee/tokenledger/internal/logger"
	"github.com/punchamoorthee/tokenledger/internal/service"
	"github.com/punchamoorthee/tokenledger/internal/spoynt"
	"github.com/punchamoorthee/tokenledger/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerStore, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		zl.Fatal("unable to connect to database", zap.Error(err))
	}
	defer ledgerStore.Close()

	var balanceCache cache.BalanceCache = cache.NopBalanceCache{}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			zl.Fatal("unable to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
		balanceCache = cache.NewRedisBalanceCache(rdb, cfg.Redis.TTL)
		zl.Info("balance cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		zl.Info("top-up events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	if !cfg.Spoynt.VerifySignature {
		zl.Warn("webhook signature verification is disabled", zap.String("env", cfg.Env))
	}
	verifier := spoynt.NewVerifier(cfg.Spoynt.LiveSecret, cfg.Spoynt.TestSecret, cfg.Spoynt.TestMode, cfg.Spoynt.VerifySignature)

	// Initialize Layers
	reconciler := service.NewReconciler(ledgerStore, verifier, balanceCache, publisher, zl.Named("reconciler"))
	topups := service.NewTopUpService(ledgerStore, balanceCache, zl.Named("topups"))
	handler := api.NewHandler(reconciler, topups, ledgerStore, zl.Named("http"))

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env), zap.Bool("test_mode", cfg.Spoynt.TestMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
}
