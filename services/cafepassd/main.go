package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cafepass/core/events"
	"cafepass/core/state"
	"cafepass/native/codes"
	"cafepass/native/directory"
	"cafepass/native/loyalty"
	"cafepass/observability/logging"
	telemetry "cafepass/observability/otel"
	"cafepass/services/cafepassd/audit"
	"cafepass/services/cafepassd/config"
	"cafepass/services/cafepassd/server"
	"cafepass/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/cafepassd/config.yaml", "path to cafepassd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CAFEPASS_ENV"))
	logger := logging.Setup("cafepassd", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnvironment("cafepassd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("cafepassd: load config: %v", err)
	}

	db, err := openDatabase(cfg.Storage)
	if err != nil {
		log.Fatalf("cafepassd: open storage: %v", err)
	}
	defer db.Close()
	manager := state.NewManager(db)

	emitters := []events.Emitter{
		server.NewLogEmitter(logger),
		server.NewMetricsEmitter(),
	}

	var history *audit.Store
	if cfg.Audit.Enabled {
		dsn, err := audit.FileDSN(cfg.Audit.DatabasePath)
		if err != nil {
			log.Fatalf("cafepassd: resolve audit DSN: %v", err)
		}
		history, err = audit.Open(dsn)
		if err != nil {
			log.Fatalf("cafepassd: open audit store: %v", err)
		}
		defer history.Close()
		emitters = append(emitters, audit.NewRecorder(history, logger))
	}
	emitter := events.Multi(emitters...)

	codeRegistry := codes.NewRegistry(manager)
	codeRegistry.SetEmitter(emitter)
	ledger := loyalty.NewLedger(manager)
	ledger.SetEmitter(emitter)
	cafes := directory.NewRegistry(manager)
	cafes.SetEmitter(emitter)

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		ShutdownGrace: cfg.ShutdownGrace.Duration,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, codeRegistry, ledger, cafes, history, logger)
	if err != nil {
		log.Fatalf("cafepassd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		return storage.NewLevelDB(cfg.Path)
	case "bolt":
		return storage.NewBoltDB(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
