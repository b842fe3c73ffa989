package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	mqcontracts "contractsvc/contracts/mq"
	"contractsvc/internal/config"
	"contractsvc/internal/mqhandler"
	"contractsvc/internal/repository/postgres"
	"contractsvc/internal/service/contract"
	"contractsvc/internal/workspace"
	"contractsvc/pkg/db"
	"contractsvc/pkg/logger"
	"contractsvc/pkg/mq"
	"contractsvc/pkg/otel"
	"contractsvc/pkg/outbox"
	redisclient "contractsvc/pkg/redis"
	"contractsvc/pkg/util"
)

// The worker publishes outbox events and applies payment events. It always
// runs against Postgres.
func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger(cfg.ServiceName + "-worker")
	defer log.Sync()

	if cfg.Storage != config.StoragePostgres {
		log.Fatal("Worker requires postgres storage", zap.String("storage", cfg.Storage))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName + "-worker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
		SampleRatio:    cfg.OTel.SampleRatio,
	}, log)
	if err != nil {
		log.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	log.Info("Starting contract worker...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	// Init MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()
	if err := publisher.SetupDLQ(mqcontracts.RoutingPaymentMilestonePattern); err != nil {
		log.Fatal("Failed to set up DLQ", zap.Error(err))
	}

	// Outbox dispatcher
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)

	// 支付事件不会创建合同，不需要 workspace
	engine := contract.NewEngine(postgres.NewStore(dbConn, log), nil, workspace.CredentialFromConfig(cfg.Workspace), log)

	paymentHandler := mqhandler.NewPaymentEventHandler(
		engine,
		util.NewDeduper(rdb, cfg.Consumer.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Consumer.RetryTTL),
		publisher,
		log,
	)

	log.Info("Initializing payment consumer", zap.String("queue", cfg.Consumer.Queue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Consumer.Queue, mqcontracts.RoutingPaymentMilestonePattern, log)
	if err != nil {
		log.Fatal("Failed to init payment consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(paymentHandler.Handle)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		log.Info("Starting payment consumer")
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Error("Payment consumer stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down worker")
	wg.Wait()
	engine.Wait()
}
