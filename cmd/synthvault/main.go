package main

import (
	"SynthVault/internal/config"
	"SynthVault/internal/ingestion"
	"SynthVault/internal/keeper"
	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"
	"SynthVault/internal/persistence"
	"SynthVault/internal/position"
	"SynthVault/internal/reserve"
	"SynthVault/internal/server"
	"SynthVault/internal/vault"
	"SynthVault/internal/venue"
	"SynthVault/internal/wrapper"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", envOrDefault("VAULT_CONFIG", "config.yaml"), "path to the YAML config")
	flag.Parse()

	logger := observability.NewLogger("synthvault")
	if err := run(*configPath, logger); err != nil {
		logger.Fatal().Err(err).Msg("synthvault exited")
	}
}

func run(configPath string, logger zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger.Info().Str("market", cfg.Vault.Market).Str("store", cfg.Database.Driver).Msg("SynthVault starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Store ---
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	healthChecker.AddCheck("store", store.Ping)

	// --- Engine ---
	params, err := cfg.VaultParams()
	if err != nil {
		return err
	}
	bounds, err := cfg.OracleBounds()
	if err != nil {
		return err
	}
	reserveCfg, err := cfg.ReserveConfig()
	if err != nil {
		return err
	}

	feed := oracle.NewFeedOracle(cfg.Vault.Market, bounds)
	hedge := venue.NewMemoryHedge(cfg.Vault.Market, params.VaultAccount, params.OpeningFeeBps)
	pos, err := position.NewManager(cfg.Vault.Market, params.VaultAccount, cfg.Vault.HedgeVenue, hedge,
		position.DefaultParams, logger.With().Str("component", "position").Logger())
	if err != nil {
		return fmt.Errorf("position manager: %w", err)
	}
	pos.SetVenueTimelock(params.GovernanceDelay, params.GovernanceCooldown)

	// Persist blocks when full, publish drops.
	persistChan := make(chan vault.Event, cfg.Persist.ChanSize)
	var publishChan chan vault.Event
	if cfg.NATS.URL != "" {
		publishChan = make(chan vault.Event, cfg.NATS.PublishSize)
	}

	engine, err := vault.NewEngine(params, vault.Deps{
		Oracle:   feed,
		Lending:  venue.NewMemoryLending(),
		Position: pos,
		Token:    venue.NewMemoryToken(),
		Asset:    venue.NewMemoryAsset(),
		Wrapper:  wrapper.NewAutoCompounder("wrapper", cfg.Vault.WrapperFeeBps),
		Reserve:  reserve.NewAccount(reserveCfg),
		Metrics:  metrics,
		Logger:   logger.With().Str("component", "engine").Logger(),
	}, persistChan, publishChan)
	if err != nil {
		return err
	}

	// --- Recovery ---
	snapshots := persistence.NewSnapshotter(store, metrics)
	report, err := snapshots.Recover(ctx, engine)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	logger.Info().
		Bool("cold_start", report.ColdStart).
		Int64("snapshot_sequence", report.SnapshotSequence).
		Int64("journal_sequence", report.JournalSequence).
		Int64("unsnapshotted_events", report.UnsnapshottedEvents).
		Msg("recovery complete")

	errChan := make(chan error, 8)

	// --- Persistence worker ---
	// The worker outlives ctx so that it drains persistChan after the
	// servers stop.
	worker := persistence.NewWorker(store, persistChan, cfg.Persist.BatchSize, cfg.Persist.FlushTimeout, metrics)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// --- NATS ---
	if cfg.NATS.URL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, "synthvault")
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			return err
		}
		subscriber := ingestion.NewRateSubscriber(js, cfg.NATS.Consumer, metrics, feed)
		if err := subscriber.Subscribe(ctx); err != nil {
			return err
		}
		defer subscriber.Stop()

		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics)
		go func() {
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("outbound publisher: %w", err)
			}
		}()
	} else {
		logger.Warn().Msg("NATS disabled: no rate feed, events are journaled only")
	}

	// --- Keeper ---
	kp := keeper.New(engine, snapshots, cfg.KeeperOptions(), metrics, logger.With().Str("component", "keeper").Logger())
	if err := kp.Register(cfg.Keeper.Schedule); err != nil {
		return err
	}
	kp.Start(ctx)

	// --- API ---
	srv, err := server.New(server.Config{
		GRPCAddr:        cfg.Server.GRPCAddr,
		HTTPAddr:        cfg.Server.HTTPAddr,
		RatePerSecond:   cfg.Server.RatePerSecond,
		RateBurst:       cfg.Server.RateBurst,
		LimiterCapacity: cfg.Server.LimiterCapacity,
		DedupeCapacity:  cfg.Server.DedupeCapacity,
		Auth:            authConfig(cfg),
	}, server.Deps{
		Service:       server.NewService(engine),
		Journal:       store,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger.With().Str("component", "server").Logger(),
	})
	if err != nil {
		return err
	}
	// Both servers return only after in-flight calls finish. After
	// api.Wait nothing sends on persistChan again.
	var api sync.WaitGroup
	api.Add(2)
	go func() {
		defer api.Done()
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		defer api.Done()
		if err := srv.StartHTTP(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := serveMetrics(ctx, cfg.Server.MetricsAddr, logger); err != nil {
			errChan <- err
		}
	}()

	srv.SetServing(true)
	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("SynthVault ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop every producer, drain the journal, then take a final snapshot.
	healthChecker.SetReady(false)
	srv.SetServing(false)
	cancel()
	kp.Stop()
	api.Wait()

	close(persistChan)
	select {
	case <-workerDone:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("persistence worker did not drain in time")
		workerCancel()
		<-workerDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if row, err := snapshots.Take(shutdownCtx, engine); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else if row != nil {
		logger.Info().Int64("sequence", row.Sequence).Msg("final snapshot saved")
	}

	logger.Info().Msg("SynthVault shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (persistence.Store, error) {
	if cfg.Database.Driver == "sqlite" {
		lite, err := persistence.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}

	pg, err := persistence.OpenPostgres(ctx, cfg.Database.PostgresDSN, persistence.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	applied, err := persistence.NewMigrator(pg.DB(), cfg.Database.MigrationsDir).Up(ctx)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")
	return pg, nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening on /metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func authConfig(cfg *config.Config) server.AuthConfig {
	return server.AuthConfig{
		HMACSecret: cfg.Server.AuthSecret,
		Issuer:     cfg.Server.AuthIssuer,
		Audience:   cfg.Server.AuthAudience,
		ClockSkew:  cfg.Server.AuthClockSkew,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
