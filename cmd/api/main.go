package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"contractsvc/internal/config"
	"contractsvc/internal/handler"
	"contractsvc/internal/httpserver"
	"contractsvc/internal/repository"
	"contractsvc/internal/repository/memory"
	"contractsvc/internal/repository/postgres"
	"contractsvc/internal/service/contract"
	"contractsvc/internal/workspace"
	"contractsvc/pkg/db"
	"contractsvc/pkg/logger"
	"contractsvc/pkg/mq"
	"contractsvc/pkg/otel"
	"contractsvc/pkg/outbox"
)

type store interface {
	repository.UnitOfWork
	httpserver.Pinger
}

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
		SampleRatio:    cfg.OTel.SampleRatio,
	}, log)
	if err != nil {
		log.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	var (
		st    store
		admin *handler.AdminHandler
		ready httpserver.Readiness
	)
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("Using in-memory storage, data is lost on restart")
		st = memory.NewStore()
	default:
		// Init DB
		dbConn, err := db.NewConnection(cfg.DB, log)
		if err != nil {
			log.Fatal("DB initialization failed", zap.Error(err))
		}
		defer dbConn.Close()

		if err := db.Migrate(ctx, dbConn, log); err != nil {
			log.Fatal("Schema migration failed", zap.Error(err))
		}
		st = postgres.NewStore(dbConn, log)

		// Outbox replay needs the broker; without it the admin routes are off.
		if cfg.MQ.URL != "" {
			publisher, err := mq.NewPublisher(cfg.MQ.URL)
			if err != nil {
				log.Fatal("Failed to init MQ publisher", zap.Error(err))
			}
			defer publisher.Close()

			replayService := outbox.NewReplayService(outbox.NewRepository(dbConn), publisher, log)
			admin = handler.NewAdminHandler(replayService, log)
			ready.Broker = publisher
		}
	}

	var rooms contract.RoomProvisioner
	if cfg.Workspace.URL != "" {
		client := workspace.NewClient(cfg.Workspace, log)
		rooms = client
		ready.Workspace = client
	} else {
		log.Warn("Workspace URL not configured, contracts will be created without rooms")
	}

	ready.DB = st
	engine := contract.NewEngine(st, rooms, workspace.CredentialFromConfig(cfg.Workspace), log,
		contract.WithRoomTimeout(cfg.RoomTimeout()),
	)

	// Router
	router := httpserver.NewRouter(httpserver.Handlers{
		Contract:  handler.NewContractHandler(engine, log),
		Milestone: handler.NewMilestoneHandler(engine, log),
		Template:  handler.NewTemplateHandler(engine, log),
		Admin:     admin,
	}, cfg.JWT.Secret, cfg.RateLimit, ready, log)

	log.Info("Starting contract service", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage))
	if err := httpserver.NewServer(cfg.Server.Port, router, log).Run(ctx); err != nil {
		log.Error("HTTP server stopped with error", zap.Error(err))
	}

	// 等待后台的 workspace 调用结束
	engine.Wait()
	log.Info("Contract service stopped")
}
