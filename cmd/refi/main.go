package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sumit-mahajan/refi/internal/config"
	"github.com/sumit-mahajan/refi/internal/event"
	"github.com/sumit-mahajan/refi/internal/health"
	"github.com/sumit-mahajan/refi/internal/observability"
	"github.com/sumit-mahajan/refi/internal/oracle"
	"github.com/sumit-mahajan/refi/internal/persistence"
	"github.com/sumit-mahajan/refi/internal/pool"
	"github.com/sumit-mahajan/refi/internal/position"
	"github.com/sumit-mahajan/refi/internal/reserve"
	"github.com/sumit-mahajan/refi/internal/score"
	"github.com/sumit-mahajan/refi/internal/server"
	"github.com/sumit-mahajan/refi/internal/stream"
	"github.com/sumit-mahajan/refi/internal/wallet"

	"github.com/holiman/uint256"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().Unix() }

// devPrices seeds the oracle so a fresh instance is usable immediately.
// Operators push live quotes through POST /v1/admin/prices.
func devPrices() map[string]*uint256.Int {
	return map[string]*uint256.Int{
		"WETH": uint256.MustFromDecimal("2000000000000000000000"),
		"DAI":  uint256.MustFromDecimal("1000000000000000000"),
		"LINK": uint256.MustFromDecimal("15000000000000000000"),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("refi starting")

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	// --- Sequence recovery ---
	// The operation log is the source of truth for the write sequence.
	writer := persistence.NewOperationWriter(db)
	latest, err := writer.LatestSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read latest sequence")
	}
	startSequence := latest + 1
	log.Info().Int64("start_sequence", startSequence).Msg("sequence recovered")

	// --- NATS ---
	nc, js, err := stream.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := stream.EnsureEventStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure events stream")
	}
	log.Info().Msg("nats connected")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure), the publish channel drops.
	persistChan := make(chan event.Envelope, cfg.PersistChanSize)
	publishChan := make(chan event.Envelope, cfg.PublishChanSize)
	metrics.SetChannelMetrics("persist", 0, cfg.PersistChanSize)
	metrics.SetChannelMetrics("publish", 0, cfg.PublishChanSize)

	// --- Core state ---
	reserves := reserve.NewLedger()
	now := time.Now().Unix()
	for _, rc := range reserve.DefaultConfigs() {
		if _, err := reserves.List(rc, now); err != nil {
			log.Fatal().Err(err).Str("asset", rc.Symbol).Msg("list reserve")
		}
	}
	positions := position.NewStore()
	prices := oracle.NewStore()
	prices.Seed(devPrices())
	wallets := wallet.NewLedger()
	scores := score.NewEngine(score.DefaultParams())

	lendingPool := pool.NewPool(pool.DefaultParams(), startSequence, pool.Deps{
		Reserves:    reserves,
		Positions:   positions,
		Health:      health.NewEngine(reserves, positions, prices),
		Scores:      scores,
		Prices:      prices,
		Balances:    wallets,
		Clock:       systemClock{},
		Metrics:     metrics,
		Logger:      observability.NewLogger("pool"),
		PersistChan: persistChan,
		PublishChan: publishChan,
	})

	bridge := wallet.NewBridge(wallets, "ETH", cfg.WrappedNativeSymbol)
	gateway := pool.NewNativeAssetGateway(lendingPool, bridge, cfg.WrappedNativeSymbol)

	// --- HTTP API ---
	httpServer := server.New(lendingPool, gateway, wallets, prices, metrics)

	// --- Workers ---
	errChan := make(chan error, 8)

	worker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- worker.Run(ctx)
	}()

	recorder := persistence.NewSnapshotRecorder(db, lendingPool, cfg.SnapshotInterval, metrics)
	go func() {
		errChan <- recorder.Run(ctx)
	}()

	publisher := stream.NewPublisher(js, publishChan)
	go func() {
		errChan <- publisher.Run(ctx)
	}()

	// --- Metrics + probes listener ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)

		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener up")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// --- API listener ---
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down http server")
		if err := httpServer.Shutdown(); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listener up")
		errChan <- httpServer.Listen(cfg.HTTPAddr)
	}()

	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", startSequence).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("refi ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("worker failed, shutting down")
		}
		stop()
	}

	// let the persistence worker flush what it holds
	time.Sleep(200 * time.Millisecond)
	close(persistChan)
	close(publishChan)
	time.Sleep(200 * time.Millisecond)

	log.Info().Msg("refi shutdown complete")
}
