package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/fieldledger/fieldledger/internal/app"
	"github.com/fieldledger/fieldledger/internal/costing"
	"github.com/fieldledger/fieldledger/internal/invoice"
	"github.com/fieldledger/fieldledger/internal/job"
	"github.com/fieldledger/fieldledger/internal/ledger"
	"github.com/fieldledger/fieldledger/internal/platform/cache"
	"github.com/fieldledger/fieldledger/internal/platform/db"
	"github.com/fieldledger/fieldledger/internal/shared"
	"github.com/fieldledger/fieldledger/internal/supplierbill"
	"github.com/fieldledger/fieldledger/internal/timesheet"
	"github.com/fieldledger/fieldledger/internal/variation"
	"github.com/fieldledger/fieldledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisCacheDB)
	if err != nil {
		// Redis backs the cache and the task queue; both degrade.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditor := shared.NewAuditLogger(pool)

	taskClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()
	enqueuer := jobs.NewEnqueuer(taskClient, logger)

	ledgerRepo := ledger.NewRepository(pool)
	financials := costing.NewReader(costing.NewStore(pool, ledgerRepo), redisClient, logger)

	ledgerService := ledger.NewService(ledgerRepo)
	ledgerService.SetInvalidator(financials)

	timesheetService := timesheet.NewService(timesheet.NewRepository(pool), auditor, logger)
	timesheetService.SetInvalidator(financials)
	timesheetService.SetNotifier(enqueuer)

	billService := supplierbill.NewService(supplierbill.NewRepository(pool), auditor, logger)
	billService.SetInvalidator(financials)
	billService.SetNotifier(enqueuer)

	variationService := variation.NewService(variation.NewRepository(pool), auditor, logger)
	variationService.SetInvalidator(financials)
	variationService.SetNotifier(enqueuer)

	invoiceService := invoice.NewService(invoice.NewRepository(pool), auditor, logger)
	invoiceService.SetInvalidator(financials)
	invoiceService.SetNotifier(enqueuer)

	jobService := job.NewService(job.NewRepository(pool), auditor, logger)
	jobService.SetInvalidator(financials)
	jobService.SetNotifier(enqueuer)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		LedgerHandler:       ledger.NewHandler(logger, ledgerService),
		TimesheetHandler:    timesheet.NewHandler(logger, timesheetService),
		SupplierBillHandler: supplierbill.NewHandler(logger, billService),
		VariationHandler:    variation.NewHandler(logger, variationService),
		InvoiceHandler:      invoice.NewHandler(logger, invoiceService),
		JobHandler:          job.NewHandler(logger, jobService, financials),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
