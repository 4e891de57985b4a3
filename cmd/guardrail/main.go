package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"guardrail/api"
	"guardrail/audit"
	"guardrail/config"
	"guardrail/db"
	"guardrail/featureflag"
	"guardrail/manager"
	"guardrail/order"
	"guardrail/scheduler"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx := context.Background()

	var (
		protStore *db.ProtectionStore
		planStore *db.PlanStore
	)
	var protPersist manager.ProtectionPersister
	var planPersist manager.PlanPersister
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer database.Close()

		protStore = db.NewProtectionStore(database)
		defer protStore.Close()
		planStore = db.NewPlanStore(database)
		protPersist = protStore
		planPersist = planStore
		log.Info().Msg("persistence enabled")
	} else {
		log.Warn().Msg("no database configured, protection state will not survive restarts")
	}

	flags := featureflag.New(featureflag.DefaultState())
	auditor := audit.NewWithLogger(log.With().Str("component", "audit").Logger())
	mgr := manager.New(flags, auditor, protPersist, planPersist)

	for _, account := range cfg.Accounts {
		minNotional := account.MinNotional
		exchange := order.NewSimExchange(minNotional)
		if err := mgr.AddAccount(ctx, account, exchange); err != nil {
			log.Fatal().Err(err).Str("account", account.ID).Msg("register account")
		}
		log.Info().Str("account", account.ID).Msg("account registered")
	}

	if err := mgr.RestorePlans(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore open order plans")
	}

	sched, err := scheduler.New(func() {
		log.Info().Msg("running daily protection rollover sweep")
		mgr.RolloverAll()
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build scheduler")
	}
	sched.Start()
	defer sched.Stop()

	server := api.NewServer(mgr, cfg.APIServerPort)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.APIServerPort).Msg("api server listening")
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("api server stopped")
	}
}
