package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmarceau/torrdrive-backend/internal/fulfill"
	"github.com/rmarceau/torrdrive-backend/internal/invoices"
	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/internal/rates"
	"github.com/rmarceau/torrdrive-backend/internal/timeline"
	"github.com/rmarceau/torrdrive-backend/internal/vouchers"
	"github.com/rmarceau/torrdrive-backend/internal/wallet"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db"
	"github.com/rmarceau/torrdrive-backend/pkg/instance"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/metrics"
	"github.com/rmarceau/torrdrive-backend/pkg/migrate"
	"github.com/rmarceau/torrdrive-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gdb := dbClient.DB()

	timelineSvc, err := timeline.NewService(timeline.NewRepository(gdb))
	if err != nil {
		logg.Error(context.Background(), "failed to wire timeline service", err)
		os.Exit(1)
	}
	jobSvc, err := jobs.NewService(jobs.NewRepository(gdb), timelineSvc, dbClient, cfg.Jobs, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire job service", err)
		os.Exit(1)
	}
	walletSvc, err := wallet.NewService(wallet.NewRepository(gdb), dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire wallet service", err)
		os.Exit(1)
	}
	voucherSvc, err := vouchers.NewService(vouchers.NewRepository(gdb))
	if err != nil {
		logg.Error(context.Background(), "failed to wire voucher service", err)
		os.Exit(1)
	}
	fallback, err := rates.FallbackRate(cfg.Quotes)
	if err != nil {
		logg.Error(context.Background(), "failed to parse fallback rate", err)
		os.Exit(1)
	}
	rateSvc, err := rates.NewService(rates.StaticProvider{Rate: fallback}, redisClient, cfg.Quotes, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire rate service", err)
		os.Exit(1)
	}
	invoiceSvc, err := invoices.NewService(
		invoices.NewRepository(gdb),
		voucherSvc,
		walletSvc,
		rateSvc,
		jobSvc,
		dbClient,
		cfg.Pricing,
		cfg.Quotes,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to wire invoice service", err)
		os.Exit(1)
	}

	workerMetrics := metrics.NewWorkerMetrics(prometheus.DefaultRegisterer)
	workerID := instance.GetID()

	worker, err := fulfill.NewWorker(
		jobSvc,
		&fulfill.SimulatedProvider{},
		workerMetrics,
		logg,
		cfg.Worker,
		cfg.Jobs,
		workerID,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to wire fulfillment worker", err)
		os.Exit(1)
	}
	sweeper, err := fulfill.NewSweeper(jobSvc, invoiceSvc, redisClient, workerMetrics, logg, cfg.Worker, workerID)
	if err != nil {
		logg.Error(context.Background(), "failed to wire sweeper", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logg.Info(logg.WithField(ctx, "instance", workerID), "starting fulfillment worker")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	wg.Wait()

	logg.Info(context.Background(), "worker shut down gracefully")
}
