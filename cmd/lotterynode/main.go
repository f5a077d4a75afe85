package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	apphistory "github.com/aman879/LotteryDaap/internal/application/history"
	"github.com/aman879/LotteryDaap/internal/automation"
	"github.com/aman879/LotteryDaap/internal/clock"
	"github.com/aman879/LotteryDaap/internal/config"
	"github.com/aman879/LotteryDaap/internal/infrastructure/eventbus"
	"github.com/aman879/LotteryDaap/internal/infrastructure/keystore"
	"github.com/aman879/LotteryDaap/internal/infrastructure/metrics"
	"github.com/aman879/LotteryDaap/internal/infrastructure/postgres"
	"github.com/aman879/LotteryDaap/internal/infrastructure/sse"
	"github.com/aman879/LotteryDaap/internal/lottery/api"
	"github.com/aman879/LotteryDaap/internal/lottery/app"
	"github.com/aman879/LotteryDaap/internal/lottery/client"
	"github.com/aman879/LotteryDaap/internal/lottery/consensus"
	"github.com/aman879/LotteryDaap/internal/oracle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config error")
	}
	logger := cfg.NewLogger()
	if err := cfg.EnsureDataDir(); err != nil {
		logger.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("create data dir")
	}

	keys, err := keystore.Parse(cfg.Keys, cfg.DefaultKeyID, map[string]string{
		keystore.RoleKeeper: cfg.KeeperKeyID,
		keystore.RoleVRF:    cfg.VRFKeyID,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("keystore error")
	}

	var nodeClock clock.Clock = clock.System{}
	var ntpClock *clock.NTPClock
	if cfg.NTPServer != "" {
		ntpClock = clock.NewNTPClock(cfg.NTPServer, cfg.NTPSyncInterval, logger)
		nodeClock = ntpClock
	}

	appCfg, err := buildAppConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("genesis config error")
	}
	application, err := app.New(appCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("create app")
	}

	bus := eventbus.New(logger, eventbus.WithQueueSize(cfg.EventBusQueueSize))
	sseHub := sse.NewHub(logger)
	if err := sseHub.Attach(bus); err != nil {
		logger.Fatal().Err(err).Msg("attach sse hub")
	}
	m := metrics.New()
	if err := m.Attach(bus); err != nil {
		logger.Fatal().Err(err).Msg("attach metrics")
	}
	m.WatchRound(application.Machine())
	if ntpClock != nil {
		m.WatchClock(func() float64 {
			offset, _, _ := ntpClock.Health()
			return offset.Seconds()
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var historySvc *apphistory.Service
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			logger.Fatal().Err(err).Msg("migration error")
		}
		historySvc = apphistory.NewService(postgres.NewHistoryRepository(pool), logger)
		if err := historySvc.Attach(bus); err != nil {
			logger.Fatal().Err(err).Msg("attach history")
		}
	}

	node, err := consensus.NewNode(consensus.Config{
		NodeID:            cfg.NodeID,
		RaftAddr:          cfg.RaftAddr,
		DataDir:           cfg.DataDir,
		Bootstrap:         cfg.Bootstrap,
		SnapshotRetain:    2,
		SnapshotThreshold: cfg.SnapshotThreshold,
		ApplyTimeout:      cfg.ApplyTimeout,
		MaxClockSkew:      cfg.MaxClockSkew,
		Clock:             nodeClock,
		Publisher:         bus,
		Logger:            logger,
	}, application)
	if err != nil {
		logger.Fatal().Err(err).Msg("create raft node")
	}

	if !cfg.Bootstrap && cfg.JoinEndpoint != "" {
		if err := joinCluster(ctx, cfg); err != nil {
			logger.Warn().Err(err).Str("endpoint", cfg.JoinEndpoint).Msg("join cluster failed")
		} else {
			logger.Info().Str("endpoint", cfg.JoinEndpoint).Msg("joined cluster")
		}
	}

	if cfg.StartupWaitLeader > 0 {
		waitCtx, waitCancel := context.WithTimeout(ctx, cfg.StartupWaitLeader)
		_, _ = node.WaitForLeader(waitCtx, 150*time.Millisecond)
		waitCancel()
	}

	// restored snapshots and replayed logs are already in the machine
	if historySvc != nil {
		if _, err := historySvc.Backfill(ctx, application.Machine()); err != nil {
			logger.Warn().Err(err).Msg("history backfill failed")
		}
		go historySvc.RunBackfill(ctx, application.Machine(), cfg.BackfillInterval)
	}

	peers := make(map[string]*client.Client, len(cfg.Peers))
	for id, base := range cfg.Peers {
		peers[id] = client.New(base, cfg.ApplyTimeout+5*time.Second)
	}
	submitter := client.NewForwarder(node, peers)

	if cfg.KeeperEnabled {
		startKeeper(ctx, cfg, keys, application, submitter, nodeClock, logger)
	}
	if cfg.ResponderEnabled {
		startResponder(ctx, cfg, keys, application, submitter, nodeClock, bus, logger)
	}

	var history api.RoundHistory
	if historySvc != nil {
		history = historySvc
	}
	apiServer := api.NewServer(node, application, api.Options{
		Hub:     sseHub,
		Metrics: m.Handler(),
		History: history,
		Clock:   nodeClock,
		Logger:  logger,
	})
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.HTTPAddr).
			Str("raft_addr", cfg.RaftAddr).
			Bool("bootstrap", cfg.Bootstrap).
			Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	cancel()
	sseHub.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = node.Shutdown()
	bus.WaitAsync()
	bus.Close()
}

func buildAppConfig(cfg *config.Config) (app.Config, error) {
	lotteryParams, err := cfg.LotteryParams()
	if err != nil {
		return app.Config{}, err
	}
	coordParams, err := cfg.CoordinatorParams()
	if err != nil {
		return app.Config{}, err
	}
	provingKeys, err := cfg.ProvingPublicKeys()
	if err != nil {
		return app.Config{}, err
	}
	fund, err := cfg.SubscriptionFunding()
	if err != nil {
		return app.Config{}, err
	}
	return app.Config{
		Lottery:      lotteryParams,
		Coordinator:  coordParams,
		Admins:       cfg.Admins,
		Genesis:      cfg.Genesis,
		ReplayWindow: cfg.ReplayWindow,
		Bootstrap: &app.Bootstrap{
			ProvingKeys:       provingKeys,
			SubscriptionOwner: cfg.SubscriptionOwner,
			SubscriptionFund:  fund,
		},
	}, nil
}

func startKeeper(ctx context.Context, cfg *config.Config, keys *keystore.StaticKeyStore, application *app.App, submitter automation.Submitter, c clock.Clock, logger zerolog.Logger) {
	keyID, key, err := keys.KeyForRole(keystore.RoleKeeper)
	if err != nil {
		logger.Fatal().Err(err).Msg("keeper key")
	}
	cond, err := automation.ParseCondition(cfg.KeeperCondition)
	if err != nil {
		logger.Fatal().Err(err).Str("condition", cfg.KeeperCondition).Msg("keeper condition")
	}
	keeper, err := automation.NewKeeper(automation.Config{
		Signer:       key,
		Source:       application.Machine(),
		Submitter:    submitter,
		Clock:        c,
		PollInterval: cfg.KeeperPoll,
		Condition:    cond,
	}, logger.With().Str("key_id", keyID).Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("create keeper")
	}
	go keeper.Run(ctx)
}

func startResponder(ctx context.Context, cfg *config.Config, keys *keystore.StaticKeyStore, application *app.App, submitter oracle.Submitter, c clock.Clock, bus *eventbus.Bus, logger zerolog.Logger) {
	keyID, key, err := keys.KeyForRole(keystore.RoleVRF)
	if err != nil {
		logger.Fatal().Err(err).Msg("vrf key")
	}
	prover, err := oracle.NewProver(key)
	if err != nil {
		logger.Fatal().Err(err).Msg("create prover")
	}
	if !application.Coordinator().HasProvingKey(prover.KeyHash()) {
		logger.Warn().Str("key_hash", prover.KeyHash()).Msg("vrf key is not registered with the coordinator")
	}
	responder, err := oracle.NewResponder(oracle.ResponderConfig{
		Prover:            prover,
		Signer:            key,
		Source:            application.Coordinator(),
		Submitter:         submitter,
		Clock:             c,
		PollInterval:      cfg.ResponderPoll,
		ConfirmationDelay: cfg.ConfirmationDelay,
		ResubmitAfter:     cfg.ResubmitAfter,
	}, logger.With().Str("key_id", keyID).Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("create responder")
	}
	if err := bus.OnOracleEvent(func(ev oracle.Event) {
		if ev.Type == oracle.EventRandomWordsRequested {
			responder.Wake()
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("attach responder")
	}
	go responder.Run(ctx)
}

func joinCluster(ctx context.Context, cfg *config.Config) error {
	c := client.New(cfg.JoinEndpoint, 5*time.Second)
	var lastErr error
	for i := 0; i < cfg.JoinRetries; i++ {
		if err := c.Join(ctx, cfg.NodeID, cfg.RaftAddr); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.JoinRetryDelay):
			}
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("join failed")
	}
	return lastErr
}
