package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-wms/atlas-wms/internal/app"
	"github.com/atlas-wms/atlas-wms/internal/auth"
	"github.com/atlas-wms/atlas-wms/internal/balance"
	"github.com/atlas-wms/atlas-wms/internal/delivery"
	"github.com/atlas-wms/atlas-wms/internal/fifo"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/items"
	"github.com/atlas-wms/atlas-wms/internal/masterdata/plants"
	"github.com/atlas-wms/atlas-wms/internal/observability"
	"github.com/atlas-wms/atlas-wms/internal/picking"
	"github.com/atlas-wms/atlas-wms/internal/platform/cache"
	"github.com/atlas-wms/atlas-wms/internal/platform/db"
	"github.com/atlas-wms/atlas-wms/internal/procurement"
	"github.com/atlas-wms/atlas-wms/internal/receiving"
	"github.com/atlas-wms/atlas-wms/internal/shared"
	"github.com/atlas-wms/atlas-wms/internal/workflow"
	"github.com/atlas-wms/atlas-wms/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	var authService *auth.Service
	if !cfg.AuthDisabled {
		authService = auth.NewService(auth.NewRepository(dbpool))
	} else {
		logger.Warn("authentication disabled")
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewMutationLocker(redisClient)

	var workflows workflow.Invoker
	if cfg.WorkflowURL != "" {
		client := workflow.NewClient(cfg.WorkflowURL)
		if err := client.Ping(ctx); err != nil {
			logger.Warn("workflow engine ping", slog.Any("error", err))
		}
		workflows = workflow.Instrumented{Next: client, Observe: metrics.ObserveWorkflow}
	} else {
		logger.Warn("workflow engine not configured, commits run unchecked")
	}

	itemsService := items.NewService(items.NewRepository(dbpool))
	plantsService := plants.NewService(plants.NewRepository(dbpool))

	balanceRepo := balance.NewRepository(dbpool)
	balanceService := balance.NewService(balanceRepo)
	mutator := balance.NewMutator(balanceRepo, locker, logger, balance.MutatorConfig{
		StrictBalance: cfg.StrictBalance,
		Observe:       metrics.ObserveMutation,
	})

	lotService := fifo.NewService(fifo.NewRepository(dbpool), logger)

	procurementService := procurement.NewService(procurement.NewRepository(dbpool), auditLogger)

	receivingService := receiving.NewService(receiving.ServiceDeps{
		Repo:      receiving.NewRepository(dbpool),
		Items:     itemsService,
		Orders:    procurementService,
		Mutator:   mutator,
		Lots:      lotService,
		Plants:    plantsService,
		Workflows: workflows,
		Idem:      idempotencyStore,
		Audit:     auditLogger,
		Logger:    logger,
	})

	deliveryService := delivery.NewService(delivery.ServiceDeps{
		Repo:      delivery.NewRepository(dbpool),
		Items:     itemsService,
		Balances:  balanceService,
		Mutator:   mutator,
		Lots:      lotService,
		Workflows: workflows,
		Idem:      idempotencyStore,
		Audit:     auditLogger,
		Logger:    logger,
	})

	pickingService := picking.NewService(picking.ServiceDeps{
		Repo:      picking.NewRepository(dbpool),
		Items:     itemsService,
		Balances:  balanceService,
		Mutator:   mutator,
		Workflows: workflows,
		Audit:     auditLogger,
		Logger:    logger,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AuthService:        authService,
		ItemsHandler:       items.NewHandler(logger, itemsService),
		PlantsHandler:      plants.NewHandler(logger, plantsService),
		BalanceHandler:     balance.NewHandler(logger, balanceService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		ReceivingHandler:   receiving.NewHandler(logger, receivingService),
		DeliveryHandler:    delivery.NewHandler(logger, deliveryService),
		PickingHandler:     picking.NewHandler(logger, pickingService),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
